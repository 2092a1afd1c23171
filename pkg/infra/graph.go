package infra

import (
	"fmt"

	"github.com/paulmach/orb"

	"rail_router/pkg/geo"
	"rail_router/pkg/pathfinding"
)

// Location is a route-relative location, the unit waypoints resolve to.
type Location = pathfinding.EdgeLocation[RouteID]

// StartEdges implements pathfinding.Graph.
func (in *Infra) StartEdges(loc Location) ([]RouteID, error) {
	if int(loc.Edge) >= len(in.routes) {
		return nil, fmt.Errorf("%w: %w: index %d", pathfinding.ErrInvalidInput, ErrUnknownRoute, loc.Edge)
	}
	if loc.Offset < 0 || loc.Offset > in.routes[loc.Edge].Length {
		return nil, fmt.Errorf("%w: offset %v outside route %q", pathfinding.ErrInvalidInput, loc.Offset, in.routes[loc.Edge].ID)
	}
	return []RouteID{loc.Edge}, nil
}

// AdjacentEdges implements pathfinding.Graph.
func (in *Infra) AdjacentEdges(r RouteID) []RouteID { return in.Next(r) }

// Key implements pathfinding.Graph.
func (in *Infra) Key(r RouteID) RouteID { return r }

// Range implements pathfinding.Graph.
func (in *Infra) Range(r RouteID) (float64, float64) { return 0, in.routes[r].Length }

// ResolveWaypoint returns every route location matching a train at offset on
// track, running in dir. Offsets are measured from the track start.
func (in *Infra) ResolveWaypoint(track string, offset float64, dir Direction) ([]Location, error) {
	ti, ok := in.trackIndex[track]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %q", pathfinding.ErrInvalidInput, ErrUnknownTrack, track)
	}
	length := in.tracks[ti].Length
	if offset < 0 || offset > length+rangeEpsilon {
		return nil, fmt.Errorf("%w: offset %v outside track %q of length %v", pathfinding.ErrInvalidInput, offset, track, length)
	}

	// Offset measured in the running direction.
	directed := offset
	if dir == StopToStart {
		directed = length - offset
	}

	var out []Location
	for _, rt := range in.onTrack[dirTrack{ti, dir}] {
		if directed < rt.begin-rangeEpsilon || directed > rt.end+rangeEpsilon {
			continue
		}
		routeOffset := rt.routeOffset + directed - rt.begin
		if routeOffset < 0 || routeOffset > in.routes[rt.route].Length+rangeEpsilon {
			continue
		}
		routeOffset = min(routeOffset, in.routes[rt.route].Length)
		out = append(out, Location{Edge: rt.route, Offset: max(routeOffset, 0)})
	}
	return out, nil
}

// TrackLocation is a point on a track section.
type TrackLocation struct {
	Track  string
	Offset float64
}

// TrackLocationAt converts a route-relative offset back to a track location.
func (in *Infra) TrackLocationAt(r RouteID, offset float64) TrackLocation {
	path := in.routes[r].Path
	for i, tr := range path {
		if offset <= tr.Length() || i == len(path)-1 {
			along := min(offset, tr.Length())
			if tr.Direction == StopToStart {
				return TrackLocation{Track: tr.Track, Offset: tr.End - along}
			}
			return TrackLocation{Track: tr.Track, Offset: tr.Begin + along}
		}
		offset -= tr.Length()
	}
	return TrackLocation{}
}

// TrackRanges returns the directed track ranges covered by [begin, end] of
// route r, in running order.
func (in *Infra) TrackRanges(r RouteID, begin, end float64) []TrackRange {
	var out []TrackRange
	var pos float64
	for _, tr := range in.routes[r].Path {
		lo, hi := max(begin, pos), min(end, pos+tr.Length())
		if hi > lo {
			a, b := lo-pos, hi-pos
			if tr.Direction == StopToStart {
				out = append(out, TrackRange{Track: tr.Track, Direction: tr.Direction, Begin: tr.End - b, End: tr.End - a})
			} else {
				out = append(out, TrackRange{Track: tr.Track, Direction: tr.Direction, Begin: tr.Begin + a, End: tr.Begin + b})
			}
		}
		pos += tr.Length()
	}
	return out
}

// Geometry returns the line drawn by [begin, end] of route r, in running
// order. Tracks without geometry contribute nothing.
func (in *Infra) Geometry(r RouteID, begin, end float64) orb.LineString {
	var out orb.LineString
	for _, tr := range in.TrackRanges(r, begin, end) {
		t := &in.tracks[in.trackIndex[tr.Track]]
		geomLen := geo.Length(t.Geometry)
		if geomLen == 0 || t.Length == 0 {
			continue
		}
		scale := geomLen / t.Length
		from, to := tr.Begin*scale, tr.End*scale
		if tr.Direction == StopToStart {
			from, to = to, from
		}
		part := geo.SubLine(t.Geometry, from, to)
		if len(out) > 0 && len(part) > 0 && out[len(out)-1].Equal(part[0]) {
			part = part[1:]
		}
		out = append(out, part...)
	}
	return out
}
