package geo

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name             string
		a, b             orb.Point
		wantMeters       float64
		tolerancePercent float64
	}{
		{
			name:             "Paris Gare de Lyon to Lyon Part-Dieu",
			a:                orb.Point{2.3730, 48.8443},
			b:                orb.Point{4.8593, 45.7606},
			wantMeters:       392_000,
			tolerancePercent: 1,
		},
		{
			name:             "London to Paris",
			a:                orb.Point{-0.1278, 51.5074},
			b:                orb.Point{2.3522, 48.8566},
			wantMeters:       343_500,
			tolerancePercent: 1,
		},
		{
			name:             "Short distance (~100m)",
			a:                orb.Point{2.3500, 48.8500},
			b:                orb.Point{2.3500, 48.8509},
			wantMeters:       100,
			tolerancePercent: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			diff := math.Abs(got-tt.wantMeters) / tt.wantMeters * 100
			if diff > tt.tolerancePercent {
				t.Errorf("Distance = %f m, want ~%f m (diff %.1f%%)", got, tt.wantMeters, diff)
			}
		})
	}

	if d := Distance(orb.Point{2.35, 48.85}, orb.Point{2.35, 48.85}); d != 0 {
		t.Errorf("Distance(same point) = %f, want 0", d)
	}
}

func TestPointToSegment(t *testing.T) {
	a := orb.Point{2.0000, 48.0000}
	b := orb.Point{2.0000, 48.0100}
	tests := []struct {
		name      string
		p         orb.Point
		wantRatio float64
		maxDist   float64
	}{
		{"on segment middle", orb.Point{2.0000, 48.0050}, 0.5, 1},
		{"before start clamps", orb.Point{2.0000, 47.9900}, 0, 1200},
		{"after end clamps", orb.Point{2.0000, 48.0200}, 1, 1200},
		{"beside segment", orb.Point{2.0010, 48.0025}, 0.25, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dist, ratio := PointToSegment(tt.p, a, b)
			if math.Abs(ratio-tt.wantRatio) > 1e-6 {
				t.Errorf("ratio = %f, want %f", ratio, tt.wantRatio)
			}
			if dist > tt.maxDist {
				t.Errorf("dist = %f, want <= %f", dist, tt.maxDist)
			}
		})
	}

	if dist, ratio := PointToSegment(orb.Point{2, 48.001}, a, a); ratio != 0 || dist < 100 || dist > 120 {
		t.Errorf("degenerate segment: dist=%f ratio=%f, want ~111 m and 0", dist, ratio)
	}
}

func TestInterpolateAndSubLine(t *testing.T) {
	ls := orb.LineString{{2.0, 48.0}, {2.0, 48.01}, {2.0, 48.02}}
	total := Length(ls)
	if math.Abs(total-2*Distance(ls[0], ls[1])) > 1e-6 {
		t.Fatalf("Length = %f, want twice the first segment", total)
	}

	mid := Interpolate(ls, total/2)
	if math.Abs(mid.Lat()-48.01) > 1e-9 {
		t.Errorf("Interpolate(half) = %v, want lat 48.01", mid)
	}
	if got := Interpolate(ls, -5); got != ls[0] {
		t.Errorf("Interpolate(-5) = %v, want first point", got)
	}
	if got := Interpolate(ls, total+5); got != ls[2] {
		t.Errorf("Interpolate(beyond) = %v, want last point", got)
	}

	sub := SubLine(ls, total/4, total*3/4)
	if len(sub) != 3 {
		t.Fatalf("SubLine points = %d, want 3", len(sub))
	}
	if math.Abs(Length(sub)-total/2) > 1e-3 {
		t.Errorf("SubLine length = %f, want %f", Length(sub), total/2)
	}

	rev := SubLine(ls, total*3/4, total/4)
	if rev[0] != sub[len(sub)-1] || rev[len(rev)-1] != sub[0] {
		t.Errorf("reversed SubLine = %v, want reverse of %v", rev, sub)
	}
}
