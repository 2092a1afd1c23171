package routing

import (
	"context"
	"fmt"

	"rail_router/pkg/constraints"
	"rail_router/pkg/infra"
	"rail_router/pkg/pathfinding"
	"rail_router/pkg/rollingstock"
)

// Waypoint is a location on a track section, for a train running in
// Direction.
type Waypoint struct {
	Track     string
	Offset    float64
	Direction infra.Direction
}

// FindRoutes returns the shortest sequence of routes going through one
// waypoint of each step, in order, that every train in stocks may run on.
// A nil result with a nil error means no such path exists.
func FindRoutes(ctx context.Context, in *infra.Infra, steps [][]Waypoint, stocks []*rollingstock.RollingStock, opts ...pathfinding.Options) (*pathfinding.Result[infra.RouteID], error) {
	locs, err := resolveSteps(in, steps)
	if err != nil {
		return nil, err
	}
	res, err := pathfinding.FindPath[infra.RouteID, infra.RouteID](ctx, in, locs, constraints.ForTrains(in, stocks), opts...)
	if err != nil || res == nil {
		return nil, err
	}
	checkPath(in, locs, res)
	return res, nil
}

// resolveSteps converts every waypoint to its route locations. A step whose
// waypoints match no route is invalid.
func resolveSteps(in *infra.Infra, steps [][]Waypoint) ([][]infra.Location, error) {
	out := make([][]infra.Location, len(steps))
	for i, step := range steps {
		for _, w := range step {
			locs, err := in.ResolveWaypoint(w.Track, w.Offset, w.Direction)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			out[i] = append(out[i], locs...)
		}
		if len(out[i]) == 0 {
			return nil, fmt.Errorf("%w: step %d matches no route", pathfinding.ErrInvalidInput, i)
		}
	}
	return out, nil
}

// checkPath panics if res is not a continuous path through one candidate of
// each step.
func checkPath(in *infra.Infra, steps [][]infra.Location, res *pathfinding.Result[infra.RouteID]) {
	for i := 1; i < len(res.Ranges); i++ {
		prev, cur := res.Ranges[i-1].Edge, res.Ranges[i].Edge
		if prev != cur && !adjacent(in, prev, cur) {
			panic(fmt.Sprintf("routing: path jumps from route %q to %q", in.Route(prev).ID, in.Route(cur).ID))
		}
	}
	if len(res.Waypoints) != len(steps) {
		panic(fmt.Sprintf("routing: %d waypoints for %d steps", len(res.Waypoints), len(steps)))
	}
	for i, wp := range res.Waypoints {
		found := false
		for _, c := range steps[i] {
			found = found || c == wp
		}
		if !found {
			panic(fmt.Sprintf("routing: waypoint %d on route %q is not a candidate of its step", i, in.Route(wp.Edge).ID))
		}
	}
}

func adjacent(in *infra.Infra, from, to infra.RouteID) bool {
	for _, n := range in.Next(from) {
		if n == to {
			return true
		}
	}
	return false
}
