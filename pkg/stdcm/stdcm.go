// Package stdcm finds a conflict-free schedule for one extra train: a path,
// a departure time and a speed profile that avoid every block reservation of
// the other trains.
//
// The search runs pathfinding.FindPath over a time-expanded graph whose edges
// are block traversals at a given time. Edge construction shifts the
// departure time to fit into free openings of each block, slows down earlier
// blocks with an engineering allowance when shifting is not enough, and
// rebuilds earlier edges so that the whole path stays consistent.
package stdcm

import (
	"context"
	"fmt"
	"math"
	"slices"

	"rail_router/pkg/infra"
	"rail_router/pkg/pathfinding"
	"rail_router/pkg/physics"
	"rail_router/pkg/rollingstock"
)

// Step is one waypoint of a request.
type Step struct {
	Locations []infra.Location
	// Stop makes the train come to rest at the step for Duration seconds.
	Stop     bool
	Duration float64
}

// Request describes the train to schedule.
type Request struct {
	RollingStock *rollingstock.RollingStock
	Comfort      rollingstock.Comfort
	// StartTime is the earliest departure, in seconds.
	StartTime float64
	Steps     []Step
	Occupancy Availability
	// TimeStep is the simulation resolution in seconds.
	TimeStep          float64
	MaxDepartureDelay float64
	// MaxRunTime bounds the time from actual departure to arrival. Zero means
	// unbounded.
	MaxRunTime float64
	// Tag selects the category speed limits.
	Tag string
	// StandardAllowance slows the whole run down by this percentage.
	StandardAllowance float64
	TimeGapBefore     float64
	TimeGapAfter      float64
	// Simulator defaults to physics.MaxEffort.
	Simulator  physics.Simulator
	Constraint pathfinding.Constraint[infra.RouteID]
	// MaxExpansions bounds the search, zero means unbounded.
	MaxExpansions int
}

// EdgeTiming is the schedule of one block traversal.
type EdgeTiming struct {
	Block      string
	Begin, End float64 // block offsets
	TimeStart  float64
	TimeEnd    float64
	AddedDelay float64
	// Slack is the delay that could still be added after this block; it is
	// +Inf when nothing constrains the path.
	Slack         float64
	NextOccupancy float64
}

// StopTiming is a stop of the scheduled train.
type StopTiming struct {
	Block     string
	Offset    float64
	Arrival   float64
	Departure float64
}

// Result is a conflict-free schedule.
type Result struct {
	Ranges    []pathfinding.EdgeRange[infra.RouteID]
	Waypoints []infra.Location
	// Envelope is the speed profile over the whole path, ending at rest.
	Envelope      *physics.Envelope
	Length        float64
	DepartureTime float64
	ArrivalTime   float64
	Edges         []EdgeTiming
	Stops         []StopTiming
	Expanded      int
}

// RunTime returns the time from departure to arrival.
func (r *Result) RunTime() float64 { return r.ArrivalTime - r.DepartureTime }

// FindPath schedules req on in. A nil result with a nil error means no
// conflict-free path exists. Cancelling ctx stops the search.
func FindPath(ctx context.Context, in *infra.Infra, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	g := newGraph(in, &req)

	steps := make([][]infra.Location, len(req.Steps))
	for i, s := range req.Steps {
		steps[i] = s.Locations
	}
	constraint := pathfinding.OnKey[*Edge, infra.RouteID](g, req.Constraint)
	opts := pathfinding.Options{MaxExpansions: req.MaxExpansions}
	res, err := pathfinding.FindPath[*Edge, infra.RouteID](ctx, g, steps, constraint, opts)
	if err != nil || res == nil {
		return nil, err
	}
	return g.buildResult(res), nil
}

func validate(req Request) error {
	switch {
	case req.RollingStock == nil || req.RollingStock.Kinematics == nil:
		return fmt.Errorf("%w: no rolling stock kinematics", pathfinding.ErrInvalidInput)
	case len(req.Steps) < 2:
		return fmt.Errorf("%w: need at least 2 steps, got %d", pathfinding.ErrInvalidInput, len(req.Steps))
	case !req.Steps[len(req.Steps)-1].Stop:
		return fmt.Errorf("%w: the last step must be a stop", pathfinding.ErrInvalidInput)
	case req.StandardAllowance < 0:
		return fmt.Errorf("%w: negative standard allowance %v", pathfinding.ErrInvalidInput, req.StandardAllowance)
	case req.MaxDepartureDelay < 0:
		return fmt.Errorf("%w: negative maximum departure delay %v", pathfinding.ErrInvalidInput, req.MaxDepartureDelay)
	}
	for i, s := range req.Steps {
		if len(s.Locations) == 0 {
			return fmt.Errorf("%w: step %d has no candidate location", pathfinding.ErrInvalidInput, i)
		}
		if s.Duration < 0 {
			return fmt.Errorf("%w: step %d has a negative stop duration", pathfinding.ErrInvalidInput, i)
		}
	}
	return nil
}

// occupancyEpsilon absorbs rounding in the conflict check of results.
const occupancyEpsilon = 1e-3

// buildResult turns the search result into a schedule. Backtracking and
// allowances rebuild earlier edges after the search has moved past them, so
// the schedule follows the chain of the last edge rather than the search
// states. Every edge is checked against the occupancy again.
func (g *Graph) buildResult(res *pathfinding.Result[*Edge]) *Result {
	chain := edgeChain(res.Ranges[len(res.Ranges)-1].Edge)
	if len(chain) != len(res.Ranges) {
		panic(fmt.Sprintf("stdcm: %d edges in the final chain for %d ranges", len(chain), len(res.Ranges)))
	}
	out := &Result{Length: res.Length, Expanded: res.Expanded}

	var parts []*physics.Envelope
	for i, r := range res.Ranges {
		e := chain[i]
		if e.Block != r.Edge.Block {
			panic(fmt.Sprintf("stdcm: edge %d of the final chain is on %q, the search went through %q",
				i, g.infra.Route(e.Block).ID, g.infra.Route(r.Edge.Block).ID))
		}
		if i > 0 {
			prev := chain[i-1]
			if prev.Block != e.Block && !g.adjacent(prev.Block, e.Block) {
				panic(fmt.Sprintf("stdcm: path jumps from block %q to %q", g.infra.Route(prev.Block).ID, g.infra.Route(e.Block).ID))
			}
		}
		duration := g.duration(e)
		if e.TimeNextOccupancy+occupancyEpsilon < e.TimeStart+duration {
			panic(fmt.Sprintf("stdcm: edge on %q ends at %v, after the next occupancy at %v",
				g.infra.Route(e.Block).ID, e.TimeStart+duration, e.TimeNextOccupancy))
		}

		begin, end := r.Begin-e.StartOffset, r.End-e.StartOffset
		parts = append(parts, e.Envelope.Slice(begin, end).Scale(e.SpeedRatio))

		block := g.infra.Route(e.Block).ID
		timing := EdgeTiming{
			Block:         block,
			Begin:         r.Begin,
			End:           r.End,
			TimeStart:     e.TimeStart,
			TimeEnd:       e.TimeStart + e.TravelTime(),
			AddedDelay:    e.AddedDelay,
			Slack:         e.MaximumAddedDelayAfter,
			NextOccupancy: e.TimeNextOccupancy,
		}
		out.Edges = append(out.Edges, timing)
		if e.EndAtStop {
			out.Stops = append(out.Stops, StopTiming{
				Block:     block,
				Offset:    e.EndOffset(),
				Arrival:   timing.TimeEnd,
				Departure: timing.TimeEnd + g.req.Steps[e.WaypointIndex].Duration,
			})
		}

		if n := len(out.Ranges); n > 0 && out.Ranges[n-1].Edge == e.Block && math.Abs(out.Ranges[n-1].End-r.Begin) < stopEpsilon {
			out.Ranges[n-1].End = r.End
		} else {
			out.Ranges = append(out.Ranges, pathfinding.EdgeRange[infra.RouteID]{Edge: e.Block, Begin: r.Begin, End: r.End})
		}
	}
	for _, w := range res.Waypoints {
		out.Waypoints = append(out.Waypoints, infra.Location{Edge: w.Edge.Block, Offset: w.Offset})
	}
	if len(out.Waypoints) != len(g.req.Steps) {
		panic(fmt.Sprintf("stdcm: %d waypoints for %d steps", len(out.Waypoints), len(g.req.Steps)))
	}

	out.Envelope = physics.AddFinalBraking(physics.Concat(parts...), g.model)
	first, last := out.Edges[0], out.Edges[len(out.Edges)-1]
	out.DepartureTime = first.TimeStart
	out.ArrivalTime = last.TimeEnd
	return out
}

// edgeChain returns the edges leading to last, in path order.
func edgeChain(last *Edge) []*Edge {
	var chain []*Edge
	for e := last; e != nil; e = e.PrevNode.PrevEdge {
		chain = append(chain, e)
	}
	slices.Reverse(chain)
	return chain
}

func (g *Graph) adjacent(from, to infra.RouteID) bool {
	for _, n := range g.infra.Next(from) {
		if n == to {
			return true
		}
	}
	return false
}
