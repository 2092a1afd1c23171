package stdcm

// backtrack moves the delay e adds onto the departure time: the edges before
// e are rebuilt AddedDelay seconds later, each in the opening it used, and e
// is rebuilt behind them. It returns nil when an earlier edge would lose its
// opening.
func (g *Graph) backtrack(e *Edge) *Edge {
	if e.AddedDelay <= 0 || e.PrevNode.PrevEdge == nil {
		return e
	}
	prev := g.shiftChain(e.PrevNode.PrevEdge, e.AddedDelay)
	if prev == nil {
		return nil
	}
	p := edgeParams{block: e.Block, startOffset: e.StartOffset, envelope: e.Envelope, noAllowance: true}.from(g.endNode(prev))
	return g.newEdges(p).findEdgeSameNextOccupancy(e.TimeNextOccupancy)
}

// shiftChain rebuilds e and every edge before it delay seconds later.
func (g *Graph) shiftChain(e *Edge, delay float64) *Edge {
	if prev := e.PrevNode.PrevEdge; prev != nil {
		shifted := g.shiftChain(prev, delay)
		if shifted == nil {
			return nil
		}
		p := edgeParams{block: e.Block, startOffset: e.StartOffset, envelope: e.Envelope, noAllowance: true}.from(g.endNode(shifted))
		return g.newEdges(p).findEdgeSameNextOccupancy(e.TimeNextOccupancy)
	}

	// First edge: leave later from the start node, and keep the delay the
	// edge itself added.
	start := *e.PrevNode
	start.Time += delay
	start.MaximumAddedDelay -= delay
	start.TotalPrevAddedDelay += delay
	p := edgeParams{block: e.Block, startOffset: e.StartOffset, envelope: e.Envelope, noAllowance: true}.from(&start)
	return g.newEdges(p).makeSingleEdge(e.AddedDelay)
}
