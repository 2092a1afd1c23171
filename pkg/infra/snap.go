package infra

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
	"github.com/tidwall/rtree"

	"rail_router/pkg/geo"
)

const maxSnapDistMeters = 500.0

// metersPerDegree is the length of one degree of latitude.
const metersPerDegree = 111_320.0

// ErrPointTooFar is returned when the query point is too far from any track.
var ErrPointTooFar = errors.New("point too far from track")

// SnapResult is a point snapped onto a track section.
type SnapResult struct {
	TrackLocation
	Dist float64 // meters from the query point to the snapped point
}

type segmentRef struct {
	track int
	a, b  orb.Point
	along float64 // geometric distance from the track start to a
}

// Snapper finds the nearest track location to a coordinate using an R-tree
// over track geometry segments.
type Snapper struct {
	in    *Infra
	tree  rtree.RTreeG[segmentRef]
	scale []float64 // track length over geometric length, per track
}

// NewSnapper indexes the geometry of every track of in. Tracks without
// geometry cannot be snapped to.
func NewSnapper(in *Infra) *Snapper {
	s := &Snapper{in: in, scale: make([]float64, len(in.tracks))}
	for ti := range in.tracks {
		t := &in.tracks[ti]
		geomLen := geo.Length(t.Geometry)
		if geomLen > 0 {
			s.scale[ti] = t.Length / geomLen
		}
		var along float64
		for i := 1; i < len(t.Geometry); i++ {
			a, b := t.Geometry[i-1], t.Geometry[i]
			s.tree.Insert(
				[2]float64{math.Min(a[0], b[0]), math.Min(a[1], b[1])},
				[2]float64{math.Max(a[0], b[0]), math.Max(a[1], b[1])},
				segmentRef{track: ti, a: a, b: b, along: along},
			)
			along += geo.Distance(a, b)
		}
	}
	return s
}

// Len returns the number of indexed segments.
func (s *Snapper) Len() int { return s.tree.Len() }

// Snap finds the track location nearest to p.
func (s *Snapper) Snap(p orb.Point) (SnapResult, error) {
	latDelta := maxSnapDistMeters / metersPerDegree
	lonDelta := latDelta / math.Max(math.Cos(p.Lat()*math.Pi/180), 0.01)

	bestDist := math.Inf(1)
	var best SnapResult
	s.tree.Search(
		[2]float64{p.Lon() - lonDelta, p.Lat() - latDelta},
		[2]float64{p.Lon() + lonDelta, p.Lat() + latDelta},
		func(_, _ [2]float64, seg segmentRef) bool {
			dist, ratio := geo.PointToSegment(p, seg.a, seg.b)
			if dist < bestDist {
				t := &s.in.tracks[seg.track]
				offset := (seg.along + ratio*geo.Distance(seg.a, seg.b)) * s.scale[seg.track]
				bestDist = dist
				best = SnapResult{
					TrackLocation: TrackLocation{Track: t.ID, Offset: math.Min(offset, t.Length)},
					Dist:          dist,
				}
			}
			return true
		},
	)

	if bestDist > maxSnapDistMeters {
		return SnapResult{}, ErrPointTooFar
	}
	return best, nil
}
