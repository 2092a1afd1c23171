// Package geo holds the small amount of spherical geometry the router needs
// on top of orb: great-circle lengths and projections onto polylines.
package geo

import (
	"math"

	"github.com/paulmach/orb"
)

const earthRadiusMeters = 6_371_000.0

// degToMeters converts degree-scaled equirectangular distances to meters.
const degToMeters = math.Pi / 180 * earthRadiusMeters

// Distance returns the great-circle distance in meters between two points.
func Distance(a, b orb.Point) float64 {
	lat1r := a.Lat() * math.Pi / 180
	lat2r := b.Lat() * math.Pi / 180
	dLat := (b.Lat() - a.Lat()) * math.Pi / 180
	dLon := (b.Lon() - a.Lon()) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1r)*math.Cos(lat2r)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Length returns the length of ls in meters.
func Length(ls orb.LineString) float64 {
	var total float64
	for i := 1; i < len(ls); i++ {
		total += Distance(ls[i-1], ls[i])
	}
	return total
}

// PointToSegment returns the distance in meters from p to segment ab, and
// the projection ratio along ab clamped to [0, 1].
func PointToSegment(p, a, b orb.Point) (dist, ratio float64) {
	// Equirectangular projection, good enough for snapping distances.
	cosLat := math.Cos((a.Lat() + b.Lat()) / 2 * math.Pi / 180)
	ax, ay := a.Lon()*cosLat, a.Lat()
	bx, by := b.Lon()*cosLat, b.Lat()
	px, py := p.Lon()*cosLat, p.Lat()

	// Degenerate segments are compared unprojected to avoid cosLat noise.
	if a == b {
		ex, ey := px-ax, py-ay
		return math.Sqrt(ex*ex+ey*ey) * degToMeters, 0
	}

	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	var t float64
	if lenSq > 0 {
		t = ((px-ax)*dx + (py-ay)*dy) / lenSq
		t = math.Max(0, math.Min(1, t))
	}
	ex := px - (ax + t*dx)
	ey := py - (ay + t*dy)
	return math.Sqrt(ex*ex+ey*ey) * degToMeters, t
}

// Interpolate returns the point at distance along ls, measured in meters from
// its first point. Distances outside the line are clamped to its ends.
func Interpolate(ls orb.LineString, along float64) orb.Point {
	if len(ls) == 0 {
		return orb.Point{}
	}
	if along <= 0 {
		return ls[0]
	}
	for i := 1; i < len(ls); i++ {
		seg := Distance(ls[i-1], ls[i])
		if along <= seg && seg > 0 {
			r := along / seg
			return orb.Point{
				ls[i-1][0] + r*(ls[i][0]-ls[i-1][0]),
				ls[i-1][1] + r*(ls[i][1]-ls[i-1][1]),
			}
		}
		along -= seg
	}
	return ls[len(ls)-1]
}

// SubLine returns the part of ls between from and to meters along it.
// When from > to the result runs backward.
func SubLine(ls orb.LineString, from, to float64) orb.LineString {
	if len(ls) == 0 {
		return nil
	}
	reverse := from > to
	if reverse {
		from, to = to, from
	}
	out := orb.LineString{Interpolate(ls, from)}
	var pos float64
	for i := 1; i < len(ls); i++ {
		pos += Distance(ls[i-1], ls[i])
		if pos > from && pos < to {
			out = append(out, ls[i])
		}
	}
	out = append(out, Interpolate(ls, to))
	if reverse {
		out.Reverse()
	}
	return out
}
