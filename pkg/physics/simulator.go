package physics

import (
	"math"
	"sort"
)

// speedEpsilon absorbs rounding when comparing speeds.
const speedEpsilon = 1e-6

// SpeedSection is a speed limit over [Begin, End] of a block.
type SpeedSection struct {
	Begin, End float64
	Speed      float64
}

// Params describes one block traversal to simulate. Offsets are measured from
// the block start.
type Params struct {
	BlockLength float64
	Sections    []SpeedSection
	EntryOffset float64
	EntrySpeed  float64
	// StopOffset is where the train must come to rest when HasStop is set.
	// The traversal then ends there.
	StopOffset float64
	HasStop    bool
	Model      MotionModel
	// TimeStep sets the sampling resolution, in seconds. Zero means 2s.
	TimeStep float64
}

// Simulator computes the fastest speed profile for a block traversal.
// The boolean is false when no physically valid profile exists.
type Simulator interface {
	Simulate(p Params) (*Envelope, bool)
}

// MaxEffort is the default Simulator: full traction until a speed limit is
// reached, and braking as late as possible before lower limits and stops.
type MaxEffort struct{}

// Simulate implements Simulator.
func (MaxEffort) Simulate(p Params) (*Envelope, bool) {
	end := p.BlockLength
	if p.HasStop {
		end = p.StopOffset
	}
	length := end - p.EntryOffset
	if length < 0 || p.EntrySpeed < 0 {
		return nil, false
	}
	limit := func(x float64) float64 { return speedLimit(p, p.EntryOffset+x) }
	if p.EntrySpeed > limit(0)+speedEpsilon {
		return nil, false
	}
	if length == 0 {
		if p.HasStop && p.EntrySpeed > speedEpsilon {
			return nil, false
		}
		return mustEnvelope([]float64{0}, []float64{p.EntrySpeed}), true
	}

	pos := samplePositions(p, length)
	n := len(pos)

	// Forward pass: accelerate under the limits.
	fwd := make([]float64, n)
	fwd[0] = p.EntrySpeed
	for i := 1; i < n; i++ {
		v := SpeedAfterAccelerating(p.Model, fwd[i-1], pos[i]-pos[i-1])
		fwd[i] = math.Min(v, limit(pos[i]))
	}

	// Backward pass: brake ahead of lower limits and of the stop.
	speed := make([]float64, n)
	copy(speed, fwd)
	if p.HasStop {
		speed[n-1] = 0
	}
	for i := n - 2; i >= 0; i-- {
		speed[i] = math.Min(speed[i], MaxSpeedBefore(p.Model, speed[i+1], pos[i+1]-pos[i]))
	}
	if speed[0] < p.EntrySpeed-speedEpsilon {
		// Cannot slow down in time.
		return nil, false
	}
	speed[0] = p.EntrySpeed

	env, err := NewEnvelope(pos, speed)
	if err != nil {
		return nil, false
	}
	return env, true
}

// speedLimit returns the most restrictive limit at block offset x.
func speedLimit(p Params, x float64) float64 {
	v := p.Model.VMax()
	if v <= 0 {
		v = math.Inf(1)
	}
	for _, s := range p.Sections {
		if s.Speed > 0 && x >= s.Begin-speedEpsilon && x <= s.End+speedEpsilon {
			v = math.Min(v, s.Speed)
		}
	}
	return v
}

// samplePositions returns traversal-relative sample positions: a regular
// grid, every speed section boundary, and at least two segments.
func samplePositions(p Params, length float64) []float64 {
	dt := p.TimeStep
	if dt <= 0 {
		dt = 2
	}
	step := math.Max(1, math.Min(10, 5*dt))
	n := max(2, int(math.Ceil(length/step)))
	step = length / float64(n)

	pos := make([]float64, 0, n+1+2*len(p.Sections))
	next := func(x float64) {
		if len(pos) > 0 && x-pos[len(pos)-1] < 1e-9 {
			return
		}
		pos = append(pos, x)
	}

	var bounds []float64
	for _, s := range p.Sections {
		for _, b := range []float64{s.Begin - p.EntryOffset, s.End - p.EntryOffset} {
			if b > 0 && b < length {
				bounds = append(bounds, b)
			}
		}
	}
	sort.Float64s(bounds)

	j := 0
	for i := 0; i <= n; i++ {
		x := float64(i) * step
		if i == n {
			x = length
		}
		for j < len(bounds) && bounds[j] < x {
			next(bounds[j])
			j++
		}
		next(x)
	}
	return pos
}
