package stdcm

import (
	"fmt"
	"math"

	"rail_router/pkg/infra"
	"rail_router/pkg/physics"
)

// stopEpsilon is the distance under which an edge end counts as the stop.
const stopEpsilon = 1e-6

// edgeParams configures the construction of the edges over one block. The
// zero value of each optional field is its default.
type edgeParams struct {
	block       infra.RouteID
	startTime   float64
	startSpeed  float64 // ignored when envelope is set
	startOffset float64

	prevMaximumAddedDelay float64
	prevAddedDelay        float64
	prevNode              *Node
	waypointIndex         int

	// envelope replaces the simulated one, e.g. a slice of a slowed envelope.
	envelope *physics.Envelope
	// forceMaxDelay adds the largest delay that needs no allowance.
	forceMaxDelay bool
	// noAllowance drops edges with negative slack instead of trying an
	// engineering allowance.
	noAllowance bool
}

// from fills the fields that continue the path from n.
func (p edgeParams) from(n *Node) edgeParams {
	p.startTime = n.Time
	p.startSpeed = n.Speed
	p.prevMaximumAddedDelay = n.MaximumAddedDelay
	p.prevAddedDelay = n.TotalPrevAddedDelay
	p.prevNode = n
	p.waypointIndex = n.WaypointIndex
	return p
}

// validate panics on parameters no caller may produce.
func (p edgeParams) validate(in *infra.Infra, steps int) {
	switch {
	case int(p.block) >= in.NumRoutes():
		panic(fmt.Sprintf("stdcm: edge on unknown block %d", p.block))
	case p.prevNode == nil:
		panic("stdcm: edge without a previous node")
	case math.IsNaN(p.startTime) || math.IsNaN(p.prevMaximumAddedDelay):
		panic("stdcm: NaN start time or slack")
	case p.startOffset < 0 || p.startOffset > in.Route(p.block).Length+stopEpsilon:
		panic(fmt.Sprintf("stdcm: start offset %v outside block %q", p.startOffset, in.Route(p.block).ID))
	case p.waypointIndex < 0 || p.waypointIndex >= steps:
		panic(fmt.Sprintf("stdcm: waypoint index %d out of range", p.waypointIndex))
	case p.envelope != nil && p.startOffset+p.envelope.Length() > in.Route(p.block).Length+stopEpsilon:
		panic(fmt.Sprintf("stdcm: envelope runs past the end of block %q", in.Route(p.block).ID))
	}
}

type edgeBuilder struct {
	g *Graph
	p edgeParams

	resolved  bool
	feasible  bool
	endAtStop bool
	stopIndex int
	duration  float64 // block occupancy, dwell included
}

func (g *Graph) newEdges(p edgeParams) *edgeBuilder {
	p.validate(g.infra, len(g.req.Steps))
	return &edgeBuilder{g: g, p: p}
}

// resolve simulates the block if no envelope was given and derives the
// occupancy duration. It reports false when the block cannot be run.
func (b *edgeBuilder) resolve() bool {
	if b.resolved {
		return b.feasible
	}
	b.resolved = true
	p := &b.p
	if p.envelope == nil {
		env, ok := b.g.simulate(p.block, p.startSpeed, p.startOffset, p.waypointIndex)
		if !ok {
			return false
		}
		p.envelope = env
	}
	stop, stopIndex, hasStop := b.g.stopOnBlock(p.block, p.startOffset, p.waypointIndex)
	b.endAtStop = hasStop && math.Abs(p.startOffset+p.envelope.Length()-stop) < stopEpsilon
	b.stopIndex = stopIndex
	b.duration = p.envelope.TotalTime() / b.g.ratio
	if b.endAtStop {
		b.duration += b.g.req.Steps[stopIndex].Duration
	}
	b.feasible = true
	return true
}

// makeAllEdges builds one edge per reachable opening of the block.
func (b *edgeBuilder) makeAllEdges() []*Edge {
	if b.hasDuplicateBlocks() || !b.resolve() {
		return nil
	}
	var out []*Edge
	for _, d := range b.delays() {
		if e := b.makeSingleEdge(d); e != nil {
			out = append(out, e)
		}
	}
	return out
}

// findEdgeSameNextOccupancy builds the edge using the opening that ends with
// the reservation starting at timeNextOccupancy: the one with the largest
// delay still starting no later than that.
func (b *edgeBuilder) findEdgeSameNextOccupancy(timeNextOccupancy float64) *Edge {
	if !b.resolve() {
		return nil
	}
	best, found := 0.0, false
	for _, d := range b.delays() {
		if b.p.startTime+d <= timeNextOccupancy {
			best, found = d, true
		}
	}
	if !found {
		return nil
	}
	return b.makeSingleEdge(best)
}

// delays returns the candidate delays, ascending.
func (b *edgeBuilder) delays() []float64 {
	dm := b.g.delays
	all := dm.minimumDelaysPerOpening(b.p.block, b.p.startTime, b.duration)
	if !b.p.forceMaxDelay {
		return all
	}
	floor := -1
	for i, d := range all {
		if d <= b.p.prevMaximumAddedDelay {
			floor = i
		}
	}
	if floor < 0 {
		return nil
	}
	last := all[floor]
	return []float64{math.Min(
		b.p.prevMaximumAddedDelay,
		last+dm.findMaximumAddedDelay(b.p.block, b.p.startTime+last, b.duration),
	)}
}

// makeSingleEdge builds the edge adding delay, then repairs it with an
// engineering allowance and backtracking when needed. It returns nil when
// the edge cannot be made conflict free.
func (b *edgeBuilder) makeSingleEdge(delay float64) *Edge {
	if math.IsInf(delay, 0) || !b.resolve() {
		return nil
	}
	g, p, dm := b.g, &b.p, b.g.delays
	start := p.startTime + delay
	e := &Edge{
		Block:     p.block,
		Envelope:  p.envelope,
		TimeStart: start,
		MaximumAddedDelayAfter: math.Min(
			p.prevMaximumAddedDelay-delay,
			dm.findMaximumAddedDelay(p.block, start, b.duration),
		),
		AddedDelay:        delay,
		TimeNextOccupancy: dm.findNextOccupancy(p.block, start),
		TotalAddedDelay:   p.prevAddedDelay + delay,
		PrevNode:          p.prevNode,
		StartOffset:       p.startOffset,
		MinuteTimeStart:   int(start / 60),
		SpeedRatio:        g.ratio,
		EndAtStop:         b.endAtStop,
	}
	if b.endAtStop {
		e.WaypointIndex = b.stopIndex
	} else {
		e.WaypointIndex = g.waypointAfter(p.block, e.StartOffset, e.EndOffset(), p.waypointIndex)
	}

	if e.MaximumAddedDelayAfter < 0 {
		if p.noAllowance {
			return nil
		}
		if e = g.tryEngineeringAllowance(e); e == nil {
			return nil
		}
	}
	if e = g.backtrack(e); e == nil || dm.isRunTimeTooLong(e, g.duration(e)) {
		return nil
	}
	return e
}

// hasDuplicateBlocks reports whether the block was already run earlier on
// the path, other than up to a stop.
func (b *edgeBuilder) hasDuplicateBlocks() bool {
	for n := b.p.prevNode; n != nil && n.PrevEdge != nil; n = n.PrevEdge.PrevNode {
		if e := n.PrevEdge; !e.EndAtStop && e.Block == b.p.block {
			return true
		}
	}
	return false
}

// duration returns how long e occupies its block, dwell included.
func (g *Graph) duration(e *Edge) float64 {
	d := e.TravelTime()
	if e.EndAtStop {
		d += g.req.Steps[e.WaypointIndex].Duration
	}
	return d
}
