// Package infratest provides small hand-drawn infrastructures for tests.
package infratest

import (
	"fmt"
	"testing"

	"rail_router/pkg/infra"
)

// Must builds desc or fails the test.
func Must(t testing.TB, desc *infra.Description) *infra.Infra {
	t.Helper()
	in, err := infra.Build(desc)
	if err != nil {
		t.Fatalf("build infra: %v", err)
	}
	return in
}

// Line builds a chain of forward-only routes r0, r1, ... each covering the
// whole of track t0, t1, ... of the given lengths:
//
//	d0 --r0/t0--> d1 --r1/t1--> d2 ...
//
// Tracks run north along the 2°E meridian, 25000V, gauge GC, 44 m/s.
func Line(t testing.TB, lengths ...float64) *infra.Infra {
	t.Helper()
	desc := &infra.Description{Name: "line"}
	lat := 48.0
	for i, l := range lengths {
		next := lat + l/111_195.0
		desc.Tracks = append(desc.Tracks, infra.TrackDesc{
			ID:              fmt.Sprintf("t%d", i),
			Length:          l,
			LoadingGauge:    "GC",
			Electrification: "25000V",
			MaxSpeed:        44,
			Geometry:        [][2]float64{{2, lat}, {2, next}},
		})
		desc.Routes = append(desc.Routes, infra.RouteDesc{
			ID:            fmt.Sprintf("r%d", i),
			EntryDetector: fmt.Sprintf("d%d", i),
			ExitDetector:  fmt.Sprintf("d%d", i+1),
			Path:          []infra.TrackRangeDesc{{Track: fmt.Sprintf("t%d", i), Begin: 0, End: l}},
		})
		lat = next
	}
	return Must(t, desc)
}

// DiamondDesc describes two parallel branches between a common entry and
// exit route:
//
//	                 r.up (t.up 1000 m, GA)
//	r.a (t.a 1000 m) <                        > r.b (t.b 1000 m)
//	                 r.down (t.down 1500 m, GC, 1500V)
//
// Every other track is gauge GC, 25000V; line speed is 44 m/s everywhere.
func DiamondDesc() *infra.Description {
	track := func(id string, length float64, gauge, elec string) infra.TrackDesc {
		return infra.TrackDesc{ID: id, Length: length, LoadingGauge: gauge, Electrification: elec, MaxSpeed: 44}
	}
	route := func(id, entry, exit, track string, length float64) infra.RouteDesc {
		return infra.RouteDesc{
			ID:            id,
			EntryDetector: entry,
			ExitDetector:  exit,
			Path:          []infra.TrackRangeDesc{{Track: track, Begin: 0, End: length}},
		}
	}
	return &infra.Description{
		Name: "diamond",
		Tracks: []infra.TrackDesc{
			track("t.a", 1000, "GC", "25000V"),
			track("t.up", 1000, "GA", "25000V"),
			track("t.down", 1500, "GC", "1500V"),
			track("t.b", 1000, "GC", "25000V"),
		},
		Routes: []infra.RouteDesc{
			route("r.a", "d.0", "d.1", "t.a", 1000),
			route("r.up", "d.1", "d.2", "t.up", 1000),
			route("r.down", "d.1", "d.2", "t.down", 1500),
			route("r.b", "d.2", "d.3", "t.b", 1000),
		},
	}
}

// Diamond builds DiamondDesc.
func Diamond(t testing.TB) *infra.Infra {
	t.Helper()
	return Must(t, DiamondDesc())
}

// RouteID resolves a route name or fails the test.
func RouteID(t testing.TB, in *infra.Infra, name string) infra.RouteID {
	t.Helper()
	id, err := in.RouteByName(name)
	if err != nil {
		t.Fatal(err)
	}
	return id
}
