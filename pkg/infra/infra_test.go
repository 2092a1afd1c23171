package infra

import (
	"errors"
	"math"
	"strings"
	"testing"

	"rail_router/pkg/pathfinding"
)

// twoWayDesc builds two tracks run in both directions:
//
//	      tA (500 m)        tB (300 m)
//	dA0 ================ dAB ========== dB1
//
//	fw:         tA[0,500] -> tB[0,300]   (800 m)
//	bw:         tB[300,0] -> tA[500,0]   (800 m)
//	fw.partial: tA[200,500]              (300 m)
func twoWayDesc() *Description {
	return &Description{
		Name: "two-way",
		Tracks: []TrackDesc{
			{ID: "tA", Length: 500, MaxSpeed: 30, SpeedLimitsByTag: map[string]float64{"freight": 20}},
			{ID: "tB", Length: 300, LoadingGauge: "GB"},
		},
		Routes: []RouteDesc{
			{ID: "fw", EntryDetector: "dA0", ExitDetector: "dB1", Path: []TrackRangeDesc{
				{Track: "tA", Direction: StartToStop, Begin: 0, End: 500},
				{Track: "tB", Direction: StartToStop, Begin: 0, End: 300},
			}},
			{ID: "bw", EntryDetector: "dB1", ExitDetector: "dA0", Path: []TrackRangeDesc{
				{Track: "tB", Direction: StopToStart, Begin: 0, End: 300},
				{Track: "tA", Direction: StopToStart, Begin: 0, End: 500},
			}},
			{ID: "fw.partial", EntryDetector: "dA.mid", ExitDetector: "dAB", Path: []TrackRangeDesc{
				{Track: "tA", Direction: StartToStop, Begin: 200, End: 500},
			}},
		},
	}
}

func buildTwoWay(t *testing.T) *Infra {
	t.Helper()
	in, err := Build(twoWayDesc())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return in
}

func routeID(t *testing.T, in *Infra, name string) RouteID {
	t.Helper()
	id, err := in.RouteByName(name)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestBuild(t *testing.T) {
	in := buildTwoWay(t)

	if in.NumRoutes() != 3 {
		t.Fatalf("NumRoutes = %d, want 3", in.NumRoutes())
	}
	if in.NumTracks() != 2 {
		t.Fatalf("NumTracks = %d, want 2", in.NumTracks())
	}
	if got := in.Route(routeID(t, in, "fw")).Length; got != 800 {
		t.Errorf("fw length = %v, want 800", got)
	}

	tA, err := in.Track("tA")
	if err != nil {
		t.Fatal(err)
	}
	if tA.LoadingGauge != GaugeGLOTT {
		t.Errorf("unset gauge = %v, want GLOTT", tA.LoadingGauge)
	}
	tB, _ := in.Track("tB")
	if tB.LoadingGauge != GaugeGB {
		t.Errorf("tB gauge = %v, want GB", tB.LoadingGauge)
	}

	// fw ends on tB forward and bw starts on tB backward: no turning back.
	for _, name := range []string{"fw", "fw.partial"} {
		if next := in.Next(routeID(t, in, name)); len(next) != 0 {
			t.Errorf("Next(%s) = %v, want none", name, next)
		}
	}
}

// junctionDesc has one route per direction on each track, all meeting at dJ:
//
//	d0 ====== tA ====== dJ ====== tB ====== d1
func junctionDesc() *Description {
	return &Description{
		Name: "junction",
		Tracks: []TrackDesc{
			{ID: "tA", Length: 500},
			{ID: "tB", Length: 300},
		},
		Routes: []RouteDesc{
			{ID: "a.fw", EntryDetector: "d0", ExitDetector: "dJ", Path: []TrackRangeDesc{
				{Track: "tA", Direction: StartToStop, Begin: 0, End: 500},
			}},
			{ID: "a.bw", EntryDetector: "dJ", ExitDetector: "d0", Path: []TrackRangeDesc{
				{Track: "tA", Direction: StopToStart, Begin: 0, End: 500},
			}},
			{ID: "b.fw", EntryDetector: "dJ", ExitDetector: "d1", Path: []TrackRangeDesc{
				{Track: "tB", Direction: StartToStop, Begin: 0, End: 300},
			}},
			{ID: "b.bw", EntryDetector: "d1", ExitDetector: "dJ", Path: []TrackRangeDesc{
				{Track: "tB", Direction: StopToStart, Begin: 0, End: 300},
			}},
		},
	}
}

func TestBuildNoReversal(t *testing.T) {
	in, err := Build(junctionDesc())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// Both routes entering at dJ share a detector with a.fw and b.bw, but
	// one of them runs back over the track just left.
	tests := []struct {
		route string
		want  string
	}{
		{"a.fw", "b.fw"},
		{"b.bw", "a.bw"},
	}
	for _, tt := range tests {
		next := in.Next(routeID(t, in, tt.route))
		if len(next) != 1 || in.Route(next[0]).ID != tt.want {
			var got []string
			for _, n := range next {
				got = append(got, in.Route(n).ID)
			}
			t.Errorf("Next(%s) = %v, want [%s]", tt.route, got, tt.want)
		}
	}
	for _, name := range []string{"a.bw", "b.fw"} {
		if next := in.Next(routeID(t, in, name)); len(next) != 0 {
			t.Errorf("Next(%s) = %v, want none", name, next)
		}
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Description)
		want   string
	}{
		{"duplicate track", func(d *Description) { d.Tracks = append(d.Tracks, d.Tracks[0]) }, "duplicate track"},
		{"zero length track", func(d *Description) { d.Tracks[0].Length = 0 }, "length"},
		{"bad gauge", func(d *Description) { d.Tracks[0].LoadingGauge = "XL" }, "loading gauge"},
		{"duplicate route", func(d *Description) { d.Routes = append(d.Routes, d.Routes[0]) }, "duplicate route"},
		{"unknown track", func(d *Description) { d.Routes[0].Path[0].Track = "nope" }, "unknown track"},
		{"range past track end", func(d *Description) { d.Routes[0].Path[0].End = 600 }, "outside track"},
		{"empty path", func(d *Description) { d.Routes[0].Path = nil }, "empty path"},
		{"neutral section", func(d *Description) {
			d.Tracks[1].NeutralSections = []NeutralSection{{Begin: 100, End: 400}}
		}, "neutral section"},
		{"switch type", func(d *Description) {
			d.Switches = []SwitchDesc{{ID: "s", Type: "slip", Tracks: []string{"tA"}}}
		}, "unknown type"},
		{"switch track", func(d *Description) {
			d.Switches = []SwitchDesc{{ID: "s", Type: PointSwitch, Tracks: []string{"tA", "tC"}}}
		}, "unknown track"},
		{"buffer stop track", func(d *Description) {
			d.BufferStops = []BufferStopDesc{{ID: "b", Track: "tC"}}
		}, "unknown track"},
		{"buffer stop position", func(d *Description) {
			d.BufferStops = []BufferStopDesc{{ID: "b", Track: "tB", Position: 301}}
		}, "outside track"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := twoWayDesc()
			tt.mutate(d)
			_, err := Build(d)
			if !errors.Is(err, ErrInvalidInfra) {
				t.Fatalf("err = %v, want ErrInvalidInfra", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestResolveWaypoint(t *testing.T) {
	in := buildTwoWay(t)
	fw, bw, partial := routeID(t, in, "fw"), routeID(t, in, "bw"), routeID(t, in, "fw.partial")

	tests := []struct {
		name   string
		track  string
		offset float64
		dir    Direction
		want   []Location
	}{
		{"before partial route", "tA", 100, StartToStop, []Location{{Edge: fw, Offset: 100}}},
		{"on two routes", "tA", 300, StartToStop, []Location{{Edge: fw, Offset: 300}, {Edge: partial, Offset: 100}}},
		{"second track of route", "tB", 100, StartToStop, []Location{{Edge: fw, Offset: 600}}},
		{"reversed on last track", "tA", 100, StopToStart, []Location{{Edge: bw, Offset: 700}}},
		{"reversed on first track", "tB", 50, StopToStart, []Location{{Edge: bw, Offset: 250}}},
		{"track end", "tA", 500, StartToStop, []Location{{Edge: fw, Offset: 500}, {Edge: partial, Offset: 300}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := in.ResolveWaypoint(tt.track, tt.offset, tt.dir)
			if err != nil {
				t.Fatalf("ResolveWaypoint: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ResolveWaypoint = %+v, want %+v", got, tt.want)
			}
			for i := range tt.want {
				if got[i].Edge != tt.want[i].Edge || math.Abs(got[i].Offset-tt.want[i].Offset) > 1e-9 {
					t.Errorf("location %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestResolveWaypointErrors(t *testing.T) {
	in := buildTwoWay(t)

	_, err := in.ResolveWaypoint("missing", 0, StartToStop)
	if !errors.Is(err, pathfinding.ErrInvalidInput) || !errors.Is(err, ErrUnknownTrack) {
		t.Errorf("unknown track: err = %v, want ErrInvalidInput and ErrUnknownTrack", err)
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Errorf("err = %q, want the track id in it", err)
	}

	if _, err := in.ResolveWaypoint("tA", 501, StartToStop); !errors.Is(err, pathfinding.ErrInvalidInput) {
		t.Errorf("offset past end: err = %v, want ErrInvalidInput", err)
	}
}

func TestStartEdges(t *testing.T) {
	in := buildTwoWay(t)
	if _, err := in.StartEdges(Location{Edge: 99}); !errors.Is(err, pathfinding.ErrInvalidInput) {
		t.Errorf("unknown route: err = %v, want ErrInvalidInput", err)
	}
	if _, err := in.StartEdges(Location{Edge: 0, Offset: 900}); !errors.Is(err, pathfinding.ErrInvalidInput) {
		t.Errorf("offset past end: err = %v, want ErrInvalidInput", err)
	}
	got, err := in.StartEdges(Location{Edge: 1, Offset: 10})
	if err != nil || len(got) != 1 || got[0] != 1 {
		t.Errorf("StartEdges = %v, %v, want [1]", got, err)
	}
}

func TestTrackLocationAt(t *testing.T) {
	in := buildTwoWay(t)
	tests := []struct {
		route  string
		offset float64
		want   TrackLocation
	}{
		{"fw", 0, TrackLocation{"tA", 0}},
		{"fw", 650, TrackLocation{"tB", 150}},
		{"bw", 700, TrackLocation{"tA", 100}},
		{"bw", 0, TrackLocation{"tB", 300}},
		{"fw.partial", 50, TrackLocation{"tA", 250}},
	}
	for _, tt := range tests {
		got := in.TrackLocationAt(routeID(t, in, tt.route), tt.offset)
		if got != tt.want {
			t.Errorf("TrackLocationAt(%s, %v) = %+v, want %+v", tt.route, tt.offset, got, tt.want)
		}
	}
}

func TestTrackRanges(t *testing.T) {
	in := buildTwoWay(t)

	got := in.TrackRanges(routeID(t, in, "fw"), 400, 700)
	want := []TrackRange{
		{Track: "tA", Direction: StartToStop, Begin: 400, End: 500},
		{Track: "tB", Direction: StartToStop, Begin: 0, End: 200},
	}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("TrackRanges(fw) = %+v, want %+v", got, want)
	}

	got = in.TrackRanges(routeID(t, in, "bw"), 200, 400)
	want = []TrackRange{
		{Track: "tB", Direction: StopToStart, Begin: 0, End: 100},
		{Track: "tA", Direction: StopToStart, Begin: 400, End: 500},
	}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("TrackRanges(bw) = %+v, want %+v", got, want)
	}
}

func TestRoutesOnTrackRange(t *testing.T) {
	in := buildTwoWay(t)
	got, err := in.RoutesOnTrackRange("tA", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	want := []RouteID{routeID(t, in, "fw"), routeID(t, in, "bw")}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("RoutesOnTrackRange = %v, want %v", got, want)
	}

	got, _ = in.RoutesOnTrackRange("tA", 250, 260)
	if len(got) != 3 {
		t.Errorf("RoutesOnTrackRange(250, 260) = %v, want all 3 routes", got)
	}

	if _, err := in.RoutesOnTrackRange("nope", 0, 1); !errors.Is(err, ErrUnknownTrack) {
		t.Errorf("err = %v, want ErrUnknownTrack", err)
	}
}

func TestSpeedSections(t *testing.T) {
	in := buildTwoWay(t)
	fw := routeID(t, in, "fw")

	got := in.SpeedSections(fw, "")
	if len(got) != 1 || got[0] != (SpeedSection{Begin: 0, End: 500, Speed: 30}) {
		t.Errorf("SpeedSections(fw) = %+v, want one 30 m/s section over tA", got)
	}
	got = in.SpeedSections(fw, "freight")
	if len(got) != 1 || got[0].Speed != 20 {
		t.Errorf("SpeedSections(fw, freight) = %+v, want 20 m/s", got)
	}
}

func TestLoadingGauge(t *testing.T) {
	tests := []struct {
		track, train string
		want         bool
	}{
		{"GC", "GB", true},
		{"GB", "GC", false},
		{"GA", "GA", true},
		{"FR3.3", "G1", true},
		{"g2", "GLOTT", false},
	}
	for _, tt := range tests {
		track, err := ParseLoadingGauge(tt.track)
		if err != nil {
			t.Fatal(err)
		}
		train, err := ParseLoadingGauge(tt.train)
		if err != nil {
			t.Fatal(err)
		}
		if got := track.Admits(train); got != tt.want {
			t.Errorf("%s.Admits(%s) = %v, want %v", tt.track, tt.train, got, tt.want)
		}
	}
	if _, err := ParseLoadingGauge("huge"); err == nil {
		t.Error("ParseLoadingGauge(huge) succeeded, want error")
	}
}

const smallInfraYAML = `
name: small
track_sections:
  - id: t1
    length: 1200
    loading_gauge: GB
    electrification: 25000V
    max_speed: 40
    geometry: [[2.0, 48.0], [2.0, 48.01]]
  - id: t2
    length: 800
routes:
  - id: r1
    entry_detector: d0
    exit_detector: d1
    path:
      - {track: t1, direction: START_TO_STOP, begin: 0, end: 1200}
  - id: r2
    entry_detector: d1
    exit_detector: d2
    path:
      - {track: t2, direction: STOP_TO_START, begin: 0, end: 800}
`

func TestDecodeYAML(t *testing.T) {
	desc, err := DecodeYAML(strings.NewReader(smallInfraYAML))
	if err != nil {
		t.Fatalf("DecodeYAML: %v", err)
	}
	in, err := Build(desc)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	r1, r2 := routeID(t, in, "r1"), routeID(t, in, "r2")
	if next := in.Next(r1); len(next) != 1 || next[0] != r2 {
		t.Errorf("Next(r1) = %v, want [r2]", next)
	}
	if d := in.Route(r2).Path[0].Direction; d != StopToStart {
		t.Errorf("r2 direction = %v, want STOP_TO_START", d)
	}
	t1, _ := in.Track("t1")
	if len(t1.Geometry) != 2 || t1.Geometry[1][1] != 48.01 {
		t.Errorf("t1 geometry = %v", t1.Geometry)
	}

	if _, err := DecodeYAML(strings.NewReader("name: x\nunknown_field: 1\n")); err == nil {
		t.Error("DecodeYAML accepted an unknown field")
	}
}

func TestTrackNeutral(t *testing.T) {
	d := twoWayDesc()
	d.Tracks[0].NeutralSections = []NeutralSection{{Begin: 300, End: 400}, {Begin: 100, End: 200}, {Begin: 200, End: 250}}
	in, err := Build(d)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	tA, _ := in.Track("tA")
	if tA.NeutralSections[0].Begin != 100 {
		t.Errorf("NeutralSections = %+v, want sorted by Begin", tA.NeutralSections)
	}

	tests := []struct {
		begin, end float64
		want       bool
	}{
		{100, 250, true},
		{120, 180, true},
		{300, 400, true},
		{100, 300, false},
		{50, 150, false},
		{0, 500, false},
	}
	for _, tt := range tests {
		if got := tA.Neutral(tt.begin, tt.end); got != tt.want {
			t.Errorf("Neutral(%v, %v) = %v, want %v", tt.begin, tt.end, got, tt.want)
		}
	}
}
