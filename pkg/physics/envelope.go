// Package physics turns a stretch of track and a train into a speed profile.
//
// An Envelope is a speed-vs-distance curve sampled at increasing positions,
// with constant acceleration between two samples (the squared speed varies
// linearly with distance). Everything time related is derived from it.
package physics

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidEnvelope is returned when envelope samples are inconsistent.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Point is one envelope sample.
type Point struct {
	Position float64 `json:"position"`
	Speed    float64 `json:"speed"`
	Time     float64 `json:"time"`
}

// Envelope is an immutable speed profile starting at position 0.
type Envelope struct {
	pos   []float64
	speed []float64
	time  []float64 // cumulative, time[0] == 0
}

// NewEnvelope builds an envelope from samples. Positions must start at 0 and
// strictly increase; speeds must be non-negative and no two consecutive
// samples may both be at rest.
func NewEnvelope(positions, speeds []float64) (*Envelope, error) {
	if len(positions) == 0 || len(positions) != len(speeds) {
		return nil, fmt.Errorf("%w: %d positions for %d speeds", ErrInvalidEnvelope, len(positions), len(speeds))
	}
	if positions[0] != 0 {
		return nil, fmt.Errorf("%w: first position is %v", ErrInvalidEnvelope, positions[0])
	}
	t := make([]float64, len(positions))
	for i := range positions {
		if speeds[i] < 0 || math.IsNaN(speeds[i]) {
			return nil, fmt.Errorf("%w: speed %v at %v", ErrInvalidEnvelope, speeds[i], positions[i])
		}
		if i == 0 {
			continue
		}
		if positions[i] <= positions[i-1] {
			return nil, fmt.Errorf("%w: position %v after %v", ErrInvalidEnvelope, positions[i], positions[i-1])
		}
		dt := segmentTime(speeds[i-1], speeds[i], positions[i]-positions[i-1])
		if math.IsInf(dt, 1) {
			return nil, fmt.Errorf("%w: standstill between %v and %v", ErrInvalidEnvelope, positions[i-1], positions[i])
		}
		t[i] = t[i-1] + dt
	}
	return &Envelope{pos: positions, speed: speeds, time: t}, nil
}

func mustEnvelope(positions, speeds []float64) *Envelope {
	env, err := NewEnvelope(positions, speeds)
	if err != nil {
		panic(err)
	}
	return env
}

// segmentTime is the time to cover dx at constant acceleration from v0 to v1.
func segmentTime(v0, v1, dx float64) float64 {
	if dx == 0 {
		return 0
	}
	if v0+v1 <= 0 {
		return math.Inf(1)
	}
	return 2 * dx / (v0 + v1)
}

// Length returns the distance covered by the envelope.
func (e *Envelope) Length() float64 { return e.pos[len(e.pos)-1] }

// TotalTime returns the time needed to cover the envelope.
func (e *Envelope) TotalTime() float64 { return e.time[len(e.time)-1] }

// BeginSpeed returns the speed at position 0.
func (e *Envelope) BeginSpeed() float64 { return e.speed[0] }

// EndSpeed returns the speed at the end of the envelope.
func (e *Envelope) EndSpeed() float64 { return e.speed[len(e.speed)-1] }

// MaxSpeed returns the highest sampled speed.
func (e *Envelope) MaxSpeed() float64 {
	var m float64
	for _, v := range e.speed {
		m = math.Max(m, v)
	}
	return m
}

// Len returns the number of samples.
func (e *Envelope) Len() int { return len(e.pos) }

// Points returns a copy of the samples.
func (e *Envelope) Points() []Point {
	out := make([]Point, len(e.pos))
	for i := range e.pos {
		out[i] = Point{Position: e.pos[i], Speed: e.speed[i], Time: e.time[i]}
	}
	return out
}

// segment returns i such that pos[i] <= x <= pos[i+1], clamping x to the
// envelope. It returns len-1 for a single-sample envelope.
func (e *Envelope) segment(x float64) int {
	n := len(e.pos)
	if n == 1 || x <= 0 {
		return 0
	}
	i := sort.SearchFloat64s(e.pos, x)
	if i >= n {
		return n - 2
	}
	if i > 0 {
		i--
	}
	return min(i, n-2)
}

// SpeedAt returns the speed at position x, clamped to the envelope.
func (e *Envelope) SpeedAt(x float64) float64 {
	if len(e.pos) == 1 {
		return e.speed[0]
	}
	x = math.Max(0, math.Min(x, e.Length()))
	i := e.segment(x)
	return interpolateSpeed(e.pos[i], e.speed[i], e.pos[i+1], e.speed[i+1], x)
}

func interpolateSpeed(x0, v0, x1, v1, x float64) float64 {
	r := (x - x0) / (x1 - x0)
	return math.Sqrt(math.Max(0, v0*v0+r*(v1*v1-v0*v0)))
}

// TimeAt returns the time at which position x is reached.
func (e *Envelope) TimeAt(x float64) float64 {
	if len(e.pos) == 1 || x <= 0 {
		return 0
	}
	if x >= e.Length() {
		return e.TotalTime()
	}
	i := e.segment(x)
	v := interpolateSpeed(e.pos[i], e.speed[i], e.pos[i+1], e.speed[i+1], x)
	return e.time[i] + segmentTime(e.speed[i], v, x-e.pos[i])
}

// Slice returns the part of the envelope between from and to, rebased to
// start at 0.
func (e *Envelope) Slice(from, to float64) *Envelope {
	from = math.Max(0, from)
	to = math.Min(e.Length(), to)
	if to <= from {
		return mustEnvelope([]float64{0}, []float64{e.SpeedAt(from)})
	}
	pos := []float64{0}
	speed := []float64{e.SpeedAt(from)}
	for i, x := range e.pos {
		if x > from && x < to {
			pos = append(pos, x-from)
			speed = append(speed, e.speed[i])
		}
	}
	pos = append(pos, to-from)
	speed = append(speed, e.SpeedAt(to))
	return mustEnvelope(pos, speed)
}

// Scale returns the envelope with every speed multiplied by ratio, which
// divides every duration by ratio.
func (e *Envelope) Scale(ratio float64) *Envelope {
	if ratio == 1 {
		return e
	}
	speed := make([]float64, len(e.speed))
	for i, v := range e.speed {
		speed[i] = v * ratio
	}
	return mustEnvelope(e.pos, speed)
}

// Concat joins envelopes end to end. Where two parts meet, the junction keeps
// the lower of the two speeds.
func Concat(parts ...*Envelope) *Envelope {
	var pos, speed []float64
	var offset float64
	for _, p := range parts {
		if p == nil {
			continue
		}
		for i := range p.pos {
			x := offset + p.pos[i]
			if len(pos) > 0 && x <= pos[len(pos)-1] {
				speed[len(speed)-1] = math.Min(speed[len(speed)-1], p.speed[i])
				continue
			}
			pos = append(pos, x)
			speed = append(speed, p.speed[i])
		}
		offset += p.Length()
	}
	if len(pos) == 0 {
		return nil
	}
	return mustEnvelope(pos, speed)
}
