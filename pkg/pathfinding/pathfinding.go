// Package pathfinding implements a staged multi-waypoint shortest-path search
// over an abstract directed graph of edges.
//
// The search knows nothing about trains or time. A graph exposes its edges
// through the Graph interface; each edge lies on a static element identified
// by a comparable key, and waypoints are expressed as offsets on those
// elements. Infrastructure routes and time-expanded scheduling edges are both
// explored through the same FindPath.
package pathfinding

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned for malformed search requests.
	ErrInvalidInput = errors.New("invalid pathfinding input")
	// ErrSearchLimit is returned when the search expands more states than allowed.
	ErrSearchLimit = errors.New("search expansion limit reached")
)

// EdgeLocation is a point at Offset along Edge.
type EdgeLocation[E any] struct {
	Edge   E
	Offset float64
}

// EdgeRange is the traversed portion [Begin, End] of Edge.
type EdgeRange[E any] struct {
	Edge  E
	Begin float64
	End   float64
}

// Length returns the traversed length of the range.
func (r EdgeRange[E]) Length() float64 { return r.End - r.Begin }

// Graph is the directed graph explored by FindPath.
//
// E is the edge handle; K identifies the static element an edge lies on.
// Offsets (waypoints, ranges, bounds) are measured along that element, so an
// edge covering only part of its element reports a Range narrower than the
// element itself.
type Graph[E any, K comparable] interface {
	// StartEdges returns the edges a path may begin on at loc.
	StartEdges(loc EdgeLocation[K]) ([]E, error)
	AdjacentEdges(edge E) []E
	Key(edge E) K
	Range(edge E) (begin, end float64)
}

// Tagger is implemented by graphs whose edges carry extra identity beyond
// their key, such as a time bucket. Two search states only collapse into one
// when their tags are equal.
type Tagger[E any] interface {
	Tag(edge E) int
}

// Result is a path satisfying every step, in traversal order.
type Result[E any] struct {
	Ranges []EdgeRange[E]
	// Waypoints holds one chosen location per requested step.
	Waypoints []EdgeLocation[E]
	// Length is the total traversed length.
	Length float64
	// Expanded counts the states popped from the queue.
	Expanded int
}

// Options bound a search.
type Options struct {
	// MaxExpansions stops the search with ErrSearchLimit once exceeded.
	// Zero means unbounded.
	MaxExpansions int
}

type state[E any] struct {
	edge     E
	offset   float64
	step     int // index of the next step to satisfy
	cost     float64
	waypoint bool // reached by satisfying step-1 on edge
	prev     *state[E]
}

type stateKey[K comparable] struct {
	key    K
	tag    int
	step   int
	offset float64
}

// FindPath returns the shortest path going through one candidate location of
// each step, in order. A nil result with a nil error means no path exists.
//
// Every location of steps[0] seeds the search at zero cost. Edges rejected by
// constraint are never entered; a nil constraint admits every edge. Cost ties
// are broken in insertion order, so a given graph always yields the same path.
func FindPath[E any, K comparable](ctx context.Context, g Graph[E, K], steps [][]EdgeLocation[K], constraint Constraint[E], opts ...Options) (*Result[E], error) {
	if len(steps) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 steps, got %d", ErrInvalidInput, len(steps))
	}
	for i, step := range steps {
		if len(step) == 0 {
			return nil, fmt.Errorf("%w: step %d has no candidate location", ErrInvalidInput, i)
		}
	}
	if constraint == nil {
		constraint = Any[E]
	}
	var opt Options
	if len(opts) > 0 {
		opt = opts[0]
	}
	tagger, _ := any(g).(Tagger[E])

	var pq minHeap[E]

	// Seed with every start candidate.
	for _, loc := range steps[0] {
		edges, err := g.StartEdges(loc)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			if !constraint(e) {
				continue
			}
			pq.Push(&state[E]{edge: e, offset: loc.Offset, step: 1, waypoint: true})
		}
	}

	visited := make(map[stateKey[K]]struct{})
	expanded := 0
	for pq.Len() > 0 {
		if expanded%100 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if opt.MaxExpansions > 0 && expanded >= opt.MaxExpansions {
			return nil, ErrSearchLimit
		}

		st := pq.Pop()
		k := g.Key(st.edge)
		sk := stateKey[K]{key: k, step: st.step, offset: st.offset}
		if tagger != nil {
			sk.tag = tagger.Tag(st.edge)
		}
		if _, seen := visited[sk]; seen {
			continue
		}
		visited[sk] = struct{}{}
		expanded++

		if st.step == len(steps) {
			res := buildResult(g, st)
			res.Expanded = expanded
			return res, nil
		}

		_, end := g.Range(st.edge)

		// Candidates of the next step further along this edge.
		for _, loc := range steps[st.step] {
			if loc.Edge != k || loc.Offset < st.offset || loc.Offset > end {
				continue
			}
			pq.Push(&state[E]{
				edge:     st.edge,
				offset:   loc.Offset,
				step:     st.step + 1,
				cost:     st.cost + loc.Offset - st.offset,
				waypoint: true,
				prev:     st,
			})
		}

		for _, next := range g.AdjacentEdges(st.edge) {
			if !constraint(next) {
				continue
			}
			begin, _ := g.Range(next)
			pq.Push(&state[E]{
				edge:   next,
				offset: begin,
				step:   st.step,
				cost:   st.cost + end - st.offset,
				prev:   st,
			})
		}
	}
	return nil, nil
}

// buildResult walks the predecessor chain of the final state.
func buildResult[E any, K comparable](g Graph[E, K], last *state[E]) *Result[E] {
	var chain []*state[E]
	for st := last; st != nil; st = st.prev {
		chain = append(chain, st)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	res := &Result[E]{Length: last.cost}
	first := chain[0]
	cur := first.edge
	begin := first.offset
	res.Waypoints = append(res.Waypoints, EdgeLocation[E]{Edge: first.edge, Offset: first.offset})
	for _, st := range chain[1:] {
		if st.waypoint {
			res.Waypoints = append(res.Waypoints, EdgeLocation[E]{Edge: st.edge, Offset: st.offset})
			continue
		}
		_, end := g.Range(cur)
		res.Ranges = append(res.Ranges, EdgeRange[E]{Edge: cur, Begin: begin, End: end})
		cur = st.edge
		begin = st.offset
	}
	res.Ranges = append(res.Ranges, EdgeRange[E]{Edge: cur, Begin: begin, End: last.offset})
	return res
}
