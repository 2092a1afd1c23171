// Package infra is the read-only railway infrastructure snapshot: track
// sections, and the signaled routes laid over them that trains reserve and
// traverse. An *Infra is immutable once built and safe for concurrent use.
package infra

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
)

var (
	// ErrUnknownTrack is returned when a track section id does not exist.
	ErrUnknownTrack = errors.New("unknown track section")
	// ErrUnknownRoute is returned when a route id or index does not exist.
	ErrUnknownRoute = errors.New("unknown route")
	// ErrInvalidInfra is returned when a description cannot be built.
	ErrInvalidInfra = errors.New("invalid infra")
)

// Direction is the direction a train runs along a track section.
type Direction uint8

const (
	StartToStop Direction = iota
	StopToStart
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == StartToStop {
		return StopToStart
	}
	return StartToStop
}

func (d Direction) String() string {
	if d == StopToStart {
		return "STOP_TO_START"
	}
	return "START_TO_STOP"
}

// ParseDirection accepts START_TO_STOP and STOP_TO_START, case-insensitive.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(s) {
	case "START_TO_STOP", "":
		return StartToStop, nil
	case "STOP_TO_START":
		return StopToStart, nil
	}
	return 0, fmt.Errorf("invalid direction %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// RouteID indexes a route in its Infra.
type RouteID uint32

// TrackSection is a stretch of track between two switches or buffer stops.
type TrackSection struct {
	ID           string
	Length       float64
	LoadingGauge LoadingGauge
	// Electrification is the catenary mode, e.g. "25000V". Empty means none.
	Electrification string
	// MaxSpeed is the line speed in m/s; zero means unrestricted.
	MaxSpeed float64
	// SpeedLimitsByTag overrides MaxSpeed for trains of a given category.
	SpeedLimitsByTag map[string]float64
	// NeutralSections are the stretches where trains coast with the
	// pantograph down, sorted by Begin.
	NeutralSections []NeutralSection
	Geometry        orb.LineString
}

// NeutralSection is a stretch [Begin, End] of a track section without
// catenary power, in offsets from the track start.
type NeutralSection struct {
	Begin float64 `yaml:"begin"`
	End   float64 `yaml:"end"`
}

// Neutral reports whether [begin, end] is entirely covered by neutral
// sections.
func (t *TrackSection) Neutral(begin, end float64) bool {
	pos := begin
	for _, ns := range t.NeutralSections {
		if ns.Begin > pos {
			break
		}
		pos = max(pos, ns.End)
		if pos >= end {
			return true
		}
	}
	return pos >= end
}

// SpeedLimit returns the speed limit applying to trains tagged tag.
func (t *TrackSection) SpeedLimit(tag string) float64 {
	if v, ok := t.SpeedLimitsByTag[tag]; ok && tag != "" {
		return v
	}
	return t.MaxSpeed
}

// TrackRange is the part [Begin, End] of a track section run in Direction.
// Begin and End are measured from the track's start regardless of direction.
type TrackRange struct {
	Track     string
	Direction Direction
	Begin     float64
	End       float64
}

// Length returns the length of the range.
func (r TrackRange) Length() float64 { return r.End - r.Begin }

// Route is a signaled itinerary between an entry and an exit detector.
type Route struct {
	ID            string
	EntryDetector string
	ExitDetector  string
	Path          []TrackRange
	Length        float64
}

// SwitchType classifies a switch by the number of track ends it joins.
type SwitchType string

const (
	PointSwitch SwitchType = "point"    // three ends
	CrossSwitch SwitchType = "crossing" // four ends
)

// Switch joins the ends of track sections at one node.
type Switch struct {
	ID     string
	Type   SwitchType
	Tracks []string
}

// BufferStop marks the end of a line at Position on Track.
type BufferStop struct {
	ID       string
	Track    string
	Position float64
}

// routeOnTrack locates a route on a directed track.
type routeOnTrack struct {
	route RouteID
	// begin and end bound the route's range on the track, measured in the
	// track's running direction.
	begin, end float64
	// routeOffset is the route-relative offset of begin.
	routeOffset float64
}

type dirTrack struct {
	track int
	dir   Direction
}

// Infra is an immutable infrastructure snapshot.
type Infra struct {
	Name string

	tracks     []TrackSection
	trackIndex map[string]int

	routes     []Route
	routeIndex map[string]RouteID

	// Route adjacency in CSR form: firstOut[r]..firstOut[r+1] index into head.
	firstOut []uint32
	head     []RouteID

	onTrack map[dirTrack][]routeOnTrack

	switches    []Switch
	bufferStops []BufferStop
}

// NumRoutes returns the number of routes.
func (in *Infra) NumRoutes() int { return len(in.routes) }

// NumTracks returns the number of track sections.
func (in *Infra) NumTracks() int { return len(in.tracks) }

// Switches returns all switches. The slice must not be modified.
func (in *Infra) Switches() []Switch { return in.switches }

// BufferStops returns all buffer stops. The slice must not be modified.
func (in *Infra) BufferStops() []BufferStop { return in.bufferStops }

// Route returns the route with index id. It panics on an out-of-range id.
func (in *Infra) Route(id RouteID) *Route { return &in.routes[id] }

// RouteByName looks a route up by its string id.
func (in *Infra) RouteByName(name string) (RouteID, error) {
	id, ok := in.routeIndex[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownRoute, name)
	}
	return id, nil
}

// Track looks a track section up by id.
func (in *Infra) Track(id string) (*TrackSection, error) {
	i, ok := in.trackIndex[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTrack, id)
	}
	return &in.tracks[i], nil
}

// Tracks returns all track sections. The slice must not be modified.
func (in *Infra) Tracks() []TrackSection { return in.tracks }

// Next returns the routes a train may take after r.
func (in *Infra) Next(r RouteID) []RouteID {
	return in.head[in.firstOut[r]:in.firstOut[r+1]]
}

// RoutesOnTrackRange returns the routes crossing [begin, end] of track in
// either direction.
func (in *Infra) RoutesOnTrackRange(track string, begin, end float64) ([]RouteID, error) {
	ti, ok := in.trackIndex[track]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTrack, track)
	}
	length := in.tracks[ti].Length
	seen := make(map[RouteID]bool)
	var out []RouteID
	for _, dir := range []Direction{StartToStop, StopToStart} {
		// Convert to directed coordinates before testing overlap.
		b, e := begin, end
		if dir == StopToStart {
			b, e = length-end, length-begin
		}
		for _, rt := range in.onTrack[dirTrack{ti, dir}] {
			if rt.end <= b || rt.begin >= e || seen[rt.route] {
				continue
			}
			seen[rt.route] = true
			out = append(out, rt.route)
		}
	}
	return out, nil
}

// SpeedSection is a constant speed limit over [Begin, End] of a route.
type SpeedSection struct {
	Begin, End float64
	Speed      float64
}

// SpeedSections returns the speed limits along route r for trains tagged tag,
// in route-relative offsets. Unrestricted stretches are omitted.
func (in *Infra) SpeedSections(r RouteID, tag string) []SpeedSection {
	var out []SpeedSection
	var offset float64
	for _, tr := range in.routes[r].Path {
		t := &in.tracks[in.trackIndex[tr.Track]]
		if limit := t.SpeedLimit(tag); limit > 0 {
			out = append(out, SpeedSection{Begin: offset, End: offset + tr.Length(), Speed: limit})
		}
		offset += tr.Length()
	}
	return out
}
