package stdcm

import (
	"fmt"
	"math"

	"rail_router/pkg/infra"
	"rail_router/pkg/occupancy"
	"rail_router/pkg/pathfinding"
	"rail_router/pkg/physics"
)

// BlockLocation is a point on a block.
type BlockLocation struct {
	Block  infra.RouteID
	Offset float64
}

// Node is the state of the train at the end of an edge: on a block boundary,
// or at rest on a block after a stop.
type Node struct {
	Time  float64
	Speed float64
	// Detector is set on block boundaries, Location after a stop.
	Detector string
	Location *BlockLocation
	// MaximumAddedDelay is the delay that can still be added by shifting the
	// departure time without causing a conflict upstream.
	MaximumAddedDelay   float64
	TotalPrevAddedDelay float64
	// WaypointIndex is the index of the last step passed.
	WaypointIndex int
	// PrevEdge is nil for the start node.
	PrevEdge *Edge
}

// Edge is one traversal of a block at a given time. Edges are never modified
// once built; revising one builds a new edge.
type Edge struct {
	Block infra.RouteID
	// Envelope is the unscaled speed profile from StartOffset.
	Envelope  *physics.Envelope
	TimeStart float64
	// MaximumAddedDelayAfter is the slack left after this edge.
	MaximumAddedDelayAfter float64
	// AddedDelay is the departure shift added by this edge.
	AddedDelay        float64
	TimeNextOccupancy float64
	TotalAddedDelay   float64
	PrevNode          *Node
	StartOffset       float64
	MinuteTimeStart   int
	// SpeedRatio scales Envelope speeds for the standard allowance.
	SpeedRatio    float64
	WaypointIndex int
	EndAtStop     bool
}

// EndOffset returns the block offset where the edge ends.
func (e *Edge) EndOffset() float64 { return e.StartOffset + e.Envelope.Length() }

// TravelTime returns the running time over the edge, allowance included.
func (e *Edge) TravelTime() float64 { return e.Envelope.TotalTime() / e.SpeedRatio }

// Graph is the time-expanded graph of one STDCM search. It implements
// pathfinding.Graph and pathfinding.Tagger over *Edge. A Graph is not safe
// for concurrent use: it memoises simulations.
type Graph struct {
	infra     *infra.Infra
	req       *Request
	model     physics.MotionModel
	simulator physics.Simulator
	delays    *delayManager
	ratio     float64
	sims      map[simKey]simResult
	adjacency map[*Edge][]*Edge
}

type simKey struct {
	block   infra.RouteID
	speed   float64
	offset  float64
	stop    float64
	hasStop bool
}

type simResult struct {
	env *physics.Envelope
	ok  bool
}

func newGraph(in *infra.Infra, req *Request) *Graph {
	sim := req.Simulator
	if sim == nil {
		sim = physics.MaxEffort{}
	}
	var avail Availability = req.Occupancy
	if avail == nil {
		avail = noOccupancy{}
	}
	maxRunTime := req.MaxRunTime
	if maxRunTime <= 0 {
		maxRunTime = math.Inf(1)
	}
	return &Graph{
		infra:     in,
		req:       req,
		model:     req.RollingStock.Model(req.Comfort),
		simulator: sim,
		delays: &delayManager{
			avail:      avail,
			gapBefore:  req.TimeGapBefore,
			gapAfter:   req.TimeGapAfter,
			maxRunTime: maxRunTime,
			startTime:  req.StartTime,
		},
		ratio:     1 / (1 + req.StandardAllowance/100),
		sims:      make(map[simKey]simResult),
		adjacency: make(map[*Edge][]*Edge),
	}
}

// StartEdges implements pathfinding.Graph: the train leaves loc from rest at
// the requested start time, and may be held up to MaxDepartureDelay.
func (g *Graph) StartEdges(loc infra.Location) ([]*Edge, error) {
	if int(loc.Edge) >= g.infra.NumRoutes() {
		return nil, fmt.Errorf("%w: %w: index %d", pathfinding.ErrInvalidInput, infra.ErrUnknownRoute, loc.Edge)
	}
	if loc.Offset < 0 || loc.Offset > g.infra.Route(loc.Edge).Length {
		return nil, fmt.Errorf("%w: offset %v outside route %q", pathfinding.ErrInvalidInput, loc.Offset, g.infra.Route(loc.Edge).ID)
	}
	start := &Node{
		Time:              g.req.StartTime,
		Location:          &BlockLocation{Block: loc.Edge, Offset: loc.Offset},
		MaximumAddedDelay: g.req.MaxDepartureDelay,
	}
	return g.newEdges(edgeParams{block: loc.Edge, startOffset: loc.Offset}.from(start)).makeAllEdges(), nil
}

// AdjacentEdges implements pathfinding.Graph. Successors are built once per
// edge: the search may expand an edge again after passing a waypoint on it.
func (g *Graph) AdjacentEdges(e *Edge) []*Edge {
	if out, ok := g.adjacency[e]; ok {
		return out
	}
	var out []*Edge
	if e.WaypointIndex < len(g.req.Steps)-1 {
		node := g.endNode(e)
		if node.Location != nil {
			p := edgeParams{block: node.Location.Block, startOffset: node.Location.Offset}.from(node)
			out = g.newEdges(p).makeAllEdges()
		} else {
			for _, next := range g.infra.Next(e.Block) {
				out = append(out, g.newEdges(edgeParams{block: next}.from(node)).makeAllEdges()...)
			}
		}
	}
	g.adjacency[e] = out
	return out
}

// Key implements pathfinding.Graph.
func (g *Graph) Key(e *Edge) infra.RouteID { return e.Block }

// Range implements pathfinding.Graph.
func (g *Graph) Range(e *Edge) (float64, float64) { return e.StartOffset, e.EndOffset() }

// Tag implements pathfinding.Tagger: edges starting in different minutes are
// different search states.
func (g *Graph) Tag(e *Edge) int { return e.MinuteTimeStart }

// endNode returns the state of the train at the end of e.
func (g *Graph) endNode(e *Edge) *Node {
	n := &Node{
		Time:                e.TimeStart + e.TravelTime(),
		Speed:               e.Envelope.EndSpeed(),
		MaximumAddedDelay:   e.MaximumAddedDelayAfter,
		TotalPrevAddedDelay: e.TotalAddedDelay,
		WaypointIndex:       e.WaypointIndex,
		PrevEdge:            e,
	}
	if e.EndAtStop {
		n.Time += g.req.Steps[e.WaypointIndex].Duration
		n.Speed = 0
		n.Location = &BlockLocation{Block: e.Block, Offset: e.EndOffset()}
	} else {
		n.Detector = g.infra.Route(e.Block).ExitDetector
	}
	return n
}

// stopOnBlock returns the offset and step index of the next stop, if that
// stop has a location on block at or after startOffset.
func (g *Graph) stopOnBlock(block infra.RouteID, startOffset float64, waypointIndex int) (float64, int, bool) {
	for i := waypointIndex + 1; i < len(g.req.Steps); i++ {
		step := g.req.Steps[i]
		if !step.Stop {
			continue
		}
		for _, loc := range step.Locations {
			if loc.Edge == block && loc.Offset >= startOffset {
				return loc.Offset, i, true
			}
		}
		return 0, 0, false
	}
	return 0, 0, false
}

// waypointAfter returns the index of the last step passed once the train has
// run [begin, end] of block. Only pass-through steps are passed on the way;
// an edge ending at a stop has passed that stop.
func (g *Graph) waypointAfter(block infra.RouteID, begin, end float64, passed int) int {
	for i := passed + 1; i < len(g.req.Steps); i++ {
		step := g.req.Steps[i]
		if step.Stop || !hasLocation(step, block, begin, end) {
			break
		}
		passed = i
	}
	return passed
}

func hasLocation(step Step, block infra.RouteID, begin, end float64) bool {
	for _, loc := range step.Locations {
		if loc.Edge == block && loc.Offset >= begin && loc.Offset <= end {
			return true
		}
	}
	return false
}

// simulate returns the fastest envelope over block from startOffset,
// memoised for the duration of the search.
func (g *Graph) simulate(block infra.RouteID, speed, startOffset float64, waypointIndex int) (*physics.Envelope, bool) {
	stop, _, hasStop := g.stopOnBlock(block, startOffset, waypointIndex)
	key := simKey{block: block, speed: speed, offset: startOffset, stop: stop, hasStop: hasStop}
	if r, ok := g.sims[key]; ok {
		return r.env, r.ok
	}
	var sections []physics.SpeedSection
	for _, s := range g.infra.SpeedSections(block, g.req.Tag) {
		sections = append(sections, physics.SpeedSection(s))
	}
	env, ok := g.simulator.Simulate(physics.Params{
		BlockLength: g.infra.Route(block).Length,
		Sections:    sections,
		EntryOffset: startOffset,
		EntrySpeed:  speed,
		StopOffset:  stop,
		HasStop:     hasStop,
		Model:       g.model,
		TimeStep:    g.req.TimeStep,
	})
	g.sims[key] = simResult{env: env, ok: ok}
	return env, ok
}

type noOccupancy struct{}

func (noOccupancy) Reservations(infra.RouteID) []occupancy.Interval { return nil }
