package stdcm

import (
	"context"
	"errors"
	"math"
	"testing"

	"rail_router/pkg/infra"
	"rail_router/pkg/infra/infratest"
	"rail_router/pkg/occupancy"
	"rail_router/pkg/pathfinding"
	"rail_router/pkg/physics"
	"rail_router/pkg/rollingstock"
)

// testStock reaches 20 m/s in 400 m and stops from it in 400 m.
var testStock = &rollingstock.RollingStock{
	Name:         "test",
	LoadingGauge: infra.GaugeGA,
	Modes:        []string{"25000V"},
	Kinematics:   physics.ConstantAcceleration{AAcc: 0.5, ADcc: 0.5, VMaxVal: 20},
}

func at(t *testing.T, in *infra.Infra, route string, offset float64) []infra.Location {
	t.Helper()
	return []infra.Location{{Edge: infratest.RouteID(t, in, route), Offset: offset}}
}

func reservations(t *testing.T, in *infra.Infra, rs ...occupancy.Reservation) *occupancy.Table {
	t.Helper()
	tbl, err := occupancy.NewTable(in, rs)
	if err != nil {
		t.Fatal(err)
	}
	return tbl
}

func reserve(block string, start, end float64) occupancy.Reservation {
	return occupancy.Reservation{Block: block, Interval: occupancy.Interval{Start: start, End: end}}
}

func baseRequest(steps ...Step) Request {
	return Request{
		RollingStock:      testStock,
		Steps:             steps,
		TimeStep:          2,
		MaxDepartureDelay: 3600,
	}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-3 }

// checkResult asserts the properties every schedule must have.
func checkResult(t *testing.T, in *infra.Infra, res *Result) {
	t.Helper()
	var sum float64
	for i, r := range res.Ranges {
		sum += r.End - r.Begin
		if i == 0 {
			continue
		}
		prev := res.Ranges[i-1].Edge
		adjacent := false
		for _, n := range in.Next(prev) {
			adjacent = adjacent || n == r.Edge
		}
		if !adjacent {
			t.Errorf("ranges %d and %d are on non-adjacent blocks", i-1, i)
		}
	}
	if !near(sum, res.Length) {
		t.Errorf("sum of ranges = %v, want Length %v", sum, res.Length)
	}
	if !near(res.Envelope.Length(), res.Length) {
		t.Errorf("envelope Length = %v, want %v", res.Envelope.Length(), res.Length)
	}
	if res.Envelope.EndSpeed() != 0 {
		t.Errorf("envelope EndSpeed = %v, want 0", res.Envelope.EndSpeed())
	}
	for i, e := range res.Edges {
		if e.NextOccupancy < e.TimeEnd-1e-3 {
			t.Errorf("edge %d on %s ends at %v, after the next occupancy at %v", i, e.Block, e.TimeEnd, e.NextOccupancy)
		}
		if e.Slack < 0 {
			t.Errorf("edge %d on %s has negative slack %v", i, e.Block, e.Slack)
		}
		if i == 0 {
			continue
		}
		// The train leaves each block as it enters the next one, or after
		// the dwell when the previous block ended at a stop.
		prev := res.Edges[i-1]
		want := prev.TimeEnd
		for _, st := range res.Stops {
			if st.Block == prev.Block && near(st.Arrival, prev.TimeEnd) {
				want = st.Departure
			}
		}
		if !near(e.TimeStart, want) {
			t.Errorf("edge %d on %s starts at %v, want %v when edge %d on %s is left", i, e.Block, e.TimeStart, want, i-1, prev.Block)
		}
	}
	if len(res.Edges) > 0 && res.DepartureTime != res.Edges[0].TimeStart {
		t.Errorf("DepartureTime = %v, want first edge start %v", res.DepartureTime, res.Edges[0].TimeStart)
	}
	if len(res.Edges) > 0 && res.ArrivalTime != res.Edges[len(res.Edges)-1].TimeEnd {
		t.Errorf("ArrivalTime = %v, want last edge end %v", res.ArrivalTime, res.Edges[len(res.Edges)-1].TimeEnd)
	}
}

func TestFindPathSingleBlock(t *testing.T) {
	in := infratest.Line(t, 2000)
	req := baseRequest(
		Step{Locations: at(t, in, "r0", 0)},
		Step{Locations: at(t, in, "r0", 2000), Stop: true},
	)
	req.StartTime = 3600

	res, err := FindPath(context.Background(), in, req)
	if err != nil {
		t.Fatalf("FindPath: %v", err)
	}
	if res == nil {
		t.Fatal("FindPath found no path")
	}
	checkResult(t, in, res)

	if len(res.Ranges) != 1 || res.Ranges[0].Begin != 0 || res.Ranges[0].End != 2000 {
		t.Errorf("Ranges = %+v, want r0 [0, 2000]", res.Ranges)
	}
	if res.DepartureTime != 3600 {
		t.Errorf("DepartureTime = %v, want 3600 (no delay)", res.DepartureTime)
	}
	// 40 s accelerating, 60 s at 20 m/s, 40 s braking.
	if !near(res.RunTime(), 140) {
		t.Errorf("RunTime = %v, want 140", res.RunTime())
	}
	if len(res.Waypoints) != 2 {
		t.Errorf("Waypoints = %+v, want 2", res.Waypoints)
	}
	if len(res.Stops) != 1 || !near(res.Stops[0].Arrival, 3740) {
		t.Errorf("Stops = %+v, want arrival at 3740", res.Stops)
	}
}

func TestFindPathWaitsForReservation(t *testing.T) {
	in := infratest.Line(t, 2000)
	req := baseRequest(
		Step{Locations: at(t, in, "r0", 0)},
		Step{Locations: at(t, in, "r0", 2000), Stop: true},
	)
	req.Occupancy = reservations(t, in, reserve("r0", 0, 100))

	res, err := FindPath(context.Background(), in, req)
	if err != nil || res == nil {
		t.Fatalf("FindPath = %v, %v", res, err)
	}
	checkResult(t, in, res)
	if res.DepartureTime != 100 {
		t.Errorf("DepartureTime = %v, want 100", res.DepartureTime)
	}
	if !near(res.Edges[0].AddedDelay, 100) {
		t.Errorf("AddedDelay = %v, want 100", res.Edges[0].AddedDelay)
	}
}

func TestFindPathBacktracksDelay(t *testing.T) {
	in := infratest.Line(t, 2000, 2000)
	req := baseRequest(
		Step{Locations: at(t, in, "r0", 0)},
		Step{Locations: at(t, in, "r1", 2000), Stop: true},
	)
	// The train would enter r1 at 120 s.
	req.Occupancy = reservations(t, in, reserve("r1", 100, 300))

	res, err := FindPath(context.Background(), in, req)
	if err != nil || res == nil {
		t.Fatalf("FindPath = %v, %v", res, err)
	}
	checkResult(t, in, res)
	if len(res.Edges) != 2 {
		t.Fatalf("Edges = %+v, want 2", res.Edges)
	}
	if !near(res.DepartureTime, 180) {
		t.Errorf("DepartureTime = %v, want 180", res.DepartureTime)
	}
	if !near(res.Edges[1].TimeStart, 300) || res.Edges[1].AddedDelay > 1e-6 {
		t.Errorf("second edge = %+v, want start at 300 without delay", res.Edges[1])
	}
	if !near(res.ArrivalTime, 420) {
		t.Errorf("ArrivalTime = %v, want 420", res.ArrivalTime)
	}
	// The whole chain moved: r0 is run from 180 to 300.
	if first := res.Edges[0]; !near(first.TimeStart, 180) || !near(first.TimeEnd, 300) {
		t.Errorf("first edge = %+v, want r0 run from 180 to 300", first)
	}
}

func TestFindPathBacktracksOverSeveralBlocks(t *testing.T) {
	in := infratest.Line(t, 2000, 2000, 2000)
	req := baseRequest(
		Step{Locations: at(t, in, "r0", 0)},
		Step{Locations: at(t, in, "r2", 2000), Stop: true},
	)
	// Unhindered, the train enters r2 at 220 s.
	req.Occupancy = reservations(t, in, reserve("r2", 200, 400))

	res, err := FindPath(context.Background(), in, req)
	if err != nil || res == nil {
		t.Fatalf("FindPath = %v, %v", res, err)
	}
	checkResult(t, in, res)
	if len(res.Edges) != 3 {
		t.Fatalf("Edges = %+v, want 3", res.Edges)
	}
	if !near(res.DepartureTime, 180) {
		t.Errorf("DepartureTime = %v, want 180", res.DepartureTime)
	}
	if !near(res.Edges[2].TimeStart, 400) {
		t.Errorf("enters r2 at %v, want 400", res.Edges[2].TimeStart)
	}
}

func TestFindPathEngineeringAllowance(t *testing.T) {
	in := infratest.Line(t, 2000, 2000)
	req := baseRequest(
		Step{Locations: at(t, in, "r0", 0)},
		Step{Locations: at(t, in, "r1", 2000), Stop: true},
	)
	req.Occupancy = reservations(t, in, reserve("r1", 100, 300))
	// Shifting the departure alone cannot absorb the 180 s wait.
	req.MaxDepartureDelay = 150

	res, err := FindPath(context.Background(), in, req)
	if err != nil || res == nil {
		t.Fatalf("FindPath = %v, %v", res, err)
	}
	checkResult(t, in, res)
	if res.DepartureTime > 150+1e-6 {
		t.Errorf("DepartureTime = %v, want at most 150", res.DepartureTime)
	}
	if res.Edges[1].TimeStart < 300-1e-6 {
		t.Errorf("enters r1 at %v, inside the reservation", res.Edges[1].TimeStart)
	}
	if run := res.Edges[0].TimeEnd - res.Edges[0].TimeStart; run < 150-1e-3 {
		t.Errorf("r0 run time = %v, want slowed to at least 150", run)
	}
}

func TestFindPathNoAllowanceIsNoPath(t *testing.T) {
	in := infratest.Line(t, 2000, 2000)
	req := baseRequest(
		Step{Locations: at(t, in, "r0", 0)},
		Step{Locations: at(t, in, "r1", 2000), Stop: true},
	)
	req.Occupancy = reservations(t, in, reserve("r1", 100, 300))
	// Even crawling at the lowest allowance speed cannot waste 180 s on r0.
	req.MaxDepartureDelay = 0

	res, err := FindPath(context.Background(), in, req)
	if err != nil {
		t.Fatalf("FindPath: %v", err)
	}
	if res != nil {
		t.Errorf("FindPath = %+v, want no path", res.Edges)
	}
}

func TestFindPathIntermediateStop(t *testing.T) {
	in := infratest.Line(t, 2000, 2000)
	req := baseRequest(
		Step{Locations: at(t, in, "r0", 0)},
		Step{Locations: at(t, in, "r0", 1000), Stop: true, Duration: 60},
		Step{Locations: at(t, in, "r1", 2000), Stop: true},
	)

	res, err := FindPath(context.Background(), in, req)
	if err != nil || res == nil {
		t.Fatalf("FindPath = %v, %v", res, err)
	}
	checkResult(t, in, res)
	if len(res.Ranges) != 2 {
		t.Errorf("Ranges = %+v, want r0 and r1", res.Ranges)
	}
	if len(res.Stops) != 2 {
		t.Fatalf("Stops = %+v, want 2", res.Stops)
	}
	stop := res.Stops[0]
	if stop.Offset != 1000 || !near(stop.Arrival, 90) || !near(stop.Departure, 150) {
		t.Errorf("first stop = %+v, want arrival 90 and departure 150 at 1000", stop)
	}
	// 70 s to leave r0 from rest, then 120 s to stop at the end of r1.
	if !near(res.ArrivalTime, 340) {
		t.Errorf("ArrivalTime = %v, want 340", res.ArrivalTime)
	}
	if len(res.Waypoints) != 3 {
		t.Errorf("Waypoints = %+v, want 3", res.Waypoints)
	}
}

func TestFindPathRunTimeLimit(t *testing.T) {
	in := infratest.Line(t, 2000)
	req := baseRequest(
		Step{Locations: at(t, in, "r0", 0)},
		Step{Locations: at(t, in, "r0", 2000), Stop: true},
	)
	req.MaxRunTime = 100

	res, err := FindPath(context.Background(), in, req)
	if err != nil || res != nil {
		t.Errorf("FindPath = %v, %v, want no path", res, err)
	}
}

func TestFindPathStandardAllowance(t *testing.T) {
	in := infratest.Line(t, 2000)
	req := baseRequest(
		Step{Locations: at(t, in, "r0", 0)},
		Step{Locations: at(t, in, "r0", 2000), Stop: true},
	)
	req.StandardAllowance = 10

	res, err := FindPath(context.Background(), in, req)
	if err != nil || res == nil {
		t.Fatalf("FindPath = %v, %v", res, err)
	}
	if !near(res.RunTime(), 154) {
		t.Errorf("RunTime = %v, want 154", res.RunTime())
	}
	if !near(res.Envelope.TotalTime(), 154) {
		t.Errorf("envelope TotalTime = %v, want 154", res.Envelope.TotalTime())
	}
}

func TestFindPathConstraint(t *testing.T) {
	in := infratest.Diamond(t)
	up := infratest.RouteID(t, in, "r.up")
	req := baseRequest(
		Step{Locations: at(t, in, "r.a", 0)},
		Step{Locations: at(t, in, "r.b", 1000), Stop: true},
	)

	res, err := FindPath(context.Background(), in, req)
	if err != nil || res == nil {
		t.Fatalf("FindPath = %v, %v", res, err)
	}
	if res.Ranges[1].Edge != up {
		t.Errorf("unconstrained path uses %s, want r.up", in.Route(res.Ranges[1].Edge).ID)
	}

	req.Constraint = func(r infra.RouteID) bool { return r != up }
	res, err = FindPath(context.Background(), in, req)
	if err != nil || res == nil {
		t.Fatalf("FindPath = %v, %v", res, err)
	}
	checkResult(t, in, res)
	if got := in.Route(res.Ranges[1].Edge).ID; got != "r.down" {
		t.Errorf("constrained path uses %s, want r.down", got)
	}
}

func TestFindPathOccupancyPicksOtherBranch(t *testing.T) {
	in := infratest.Diamond(t)
	req := baseRequest(
		Step{Locations: at(t, in, "r.a", 0)},
		Step{Locations: at(t, in, "r.b", 1000), Stop: true},
	)
	req.MaxDepartureDelay = 0
	req.Occupancy = reservations(t, in, reserve("r.up", 0, 3600))

	res, err := FindPath(context.Background(), in, req)
	if err != nil || res == nil {
		t.Fatalf("FindPath = %v, %v", res, err)
	}
	checkResult(t, in, res)
	if got := in.Route(res.Ranges[1].Edge).ID; got != "r.down" {
		t.Errorf("path uses %s, want r.down", got)
	}
}

func TestFindPathDeterministic(t *testing.T) {
	in := infratest.Diamond(t)
	req := baseRequest(
		Step{Locations: at(t, in, "r.a", 0)},
		Step{Locations: at(t, in, "r.b", 1000), Stop: true},
	)
	req.Occupancy = reservations(t, in, reserve("r.up", 60, 200), reserve("r.down", 0, 90))

	first, err := FindPath(context.Background(), in, req)
	if err != nil || first == nil {
		t.Fatalf("FindPath = %v, %v", first, err)
	}
	for i := 0; i < 10; i++ {
		res, err := FindPath(context.Background(), in, req)
		if err != nil || res == nil {
			t.Fatalf("run %d: FindPath = %v, %v", i, res, err)
		}
		if res.Length != first.Length || res.RunTime() != first.RunTime() || res.DepartureTime != first.DepartureTime {
			t.Fatalf("run %d: length %v, run time %v, departure %v; want %v, %v, %v",
				i, res.Length, res.RunTime(), res.DepartureTime, first.Length, first.RunTime(), first.DepartureTime)
		}
	}
}

func TestFindPathInvalidInput(t *testing.T) {
	in := infratest.Line(t, 1000)
	loc := at(t, in, "r0", 0)
	end := at(t, in, "r0", 1000)
	tests := []struct {
		name string
		req  Request
	}{
		{"single step", baseRequest(Step{Locations: loc, Stop: true})},
		{"last step not a stop", baseRequest(Step{Locations: loc}, Step{Locations: end})},
		{"empty step", baseRequest(Step{Locations: loc}, Step{}, Step{Locations: end, Stop: true})},
		{"negative dwell", baseRequest(Step{Locations: loc}, Step{Locations: end, Stop: true, Duration: -1})},
		{"unknown route", baseRequest(Step{Locations: []infra.Location{{Edge: 42}}}, Step{Locations: end, Stop: true})},
		{"no rolling stock", func() Request {
			r := baseRequest(Step{Locations: loc}, Step{Locations: end, Stop: true})
			r.RollingStock = nil
			return r
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FindPath(context.Background(), in, tt.req)
			if !errors.Is(err, pathfinding.ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestFindPathCancelled(t *testing.T) {
	in := infratest.Line(t, 1000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := baseRequest(
		Step{Locations: at(t, in, "r0", 0)},
		Step{Locations: at(t, in, "r0", 1000), Stop: true},
	)
	if _, err := FindPath(ctx, in, req); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestEnvelopeSlicesJoinAtBlockBoundaries(t *testing.T) {
	in := infratest.Line(t, 1500, 700, 1800)
	req := baseRequest(
		Step{Locations: at(t, in, "r0", 0)},
		Step{Locations: at(t, in, "r2", 1800), Stop: true},
	)
	res, err := FindPath(context.Background(), in, req)
	if err != nil || res == nil {
		t.Fatalf("FindPath = %v, %v", res, err)
	}
	var offset float64
	var parts []*physics.Envelope
	for _, r := range res.Ranges {
		parts = append(parts, res.Envelope.Slice(offset, offset+r.End-r.Begin))
		offset += r.End - r.Begin
	}
	joined := physics.Concat(parts...)
	offset = 0
	for _, r := range res.Ranges {
		offset += r.End - r.Begin
		if got, want := joined.SpeedAt(offset), res.Envelope.SpeedAt(offset); math.Abs(got-want) > 1e-6 {
			t.Errorf("speed at boundary %v = %v, want %v", offset, got, want)
		}
	}
	if !near(joined.TotalTime(), res.Envelope.TotalTime()) {
		t.Errorf("joined TotalTime = %v, want %v", joined.TotalTime(), res.Envelope.TotalTime())
	}
}
