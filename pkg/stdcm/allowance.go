package stdcm

import "rail_router/pkg/physics"

// tryEngineeringAllowance slows down the edges before e so that the train
// reaches e's block late enough to need no more departure shift than the
// path allows. It returns the rebuilt e, or nil.
func (g *Graph) tryEngineeringAllowance(e *Edge) *Edge {
	needed := -e.MaximumAddedDelayAfter
	if e.PrevNode.PrevEdge == nil {
		return nil
	}
	affected := g.findAffectedEdges(e.PrevNode.PrevEdge, needed)
	if len(affected) == 0 {
		return nil
	}

	envs := make([]*physics.Envelope, len(affected))
	for i, a := range affected {
		envs[i] = a.Envelope
	}
	// Envelopes are unscaled: scaled time is unscaled time / ratio.
	slowed, ok := physics.EngineeringAllowance(physics.Concat(envs...), needed*g.ratio, g.model)
	if !ok {
		return nil
	}

	prev := affected[0].PrevNode
	var offset float64
	for _, old := range affected {
		length := old.Envelope.Length()
		p := edgeParams{
			block:         old.Block,
			startOffset:   old.StartOffset,
			envelope:      slowed.Slice(offset, offset+length),
			forceMaxDelay: true,
			noAllowance:   true,
		}.from(prev)
		rebuilt := g.newEdges(p).findEdgeSameNextOccupancy(old.TimeNextOccupancy)
		if rebuilt == nil {
			return nil
		}
		prev = g.endNode(rebuilt)
		offset += length
	}

	p := edgeParams{block: e.Block, startOffset: e.StartOffset, envelope: e.Envelope, noAllowance: true}.from(prev)
	return g.newEdges(p).findEdgeSameNextOccupancy(e.TimeNextOccupancy)
}

// findAffectedEdges walks back from e and returns, in path order, the edges
// that can each end needed seconds later without reaching their next
// occupancy. The walk stops at a stop.
func (g *Graph) findAffectedEdges(e *Edge, needed float64) []*Edge {
	var out []*Edge
	for ; e != nil; e = e.PrevNode.PrevEdge {
		if e.EndAtStop || needed > e.TimeNextOccupancy-(e.TimeStart+g.duration(e)) {
			break
		}
		out = append(out, e)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
