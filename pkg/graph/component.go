// Package graph holds connectivity helpers used when importing
// infrastructure.
package graph

// Network tracks which track sections are connected to each other as they
// get joined at shared nodes. Sections are numbered 0..n-1.
type Network struct {
	parent []int
	size   []int
}

// NewNetwork returns n sections, each on its own.
func NewNetwork(n int) *Network {
	nw := &Network{parent: make([]int, n), size: make([]int, n)}
	for i := range n {
		nw.parent[i] = i
		nw.size[i] = 1
	}
	return nw
}

func (nw *Network) root(s int) int {
	for nw.parent[s] != s {
		nw.parent[s] = nw.parent[nw.parent[s]]
		s = nw.parent[s]
	}
	return s
}

// Join connects sections a and b. It reports false if they already were.
func (nw *Network) Join(a, b int) bool {
	ra, rb := nw.root(a), nw.root(b)
	if ra == rb {
		return false
	}
	if nw.size[ra] < nw.size[rb] {
		ra, rb = rb, ra
	}
	nw.parent[rb] = ra
	nw.size[ra] += nw.size[rb]
	return true
}

// JoinAll connects every section meeting at one node.
func (nw *Network) JoinAll(sections []int) {
	for _, s := range sections[min(1, len(sections)):] {
		nw.Join(sections[0], s)
	}
}

// Connected reports whether a train could run from a to b, ignoring
// directions.
func (nw *Network) Connected(a, b int) bool { return nw.root(a) == nw.root(b) }

// Size returns the number of sections connected to s, s included.
func (nw *Network) Size(s int) int { return nw.size[nw.root(s)] }

// Main returns, in increasing order, the sections of the largest connected
// network. Ties go to the network holding the lowest section.
func (nw *Network) Main() []int {
	best := -1
	for s := range nw.parent {
		if best < 0 || nw.Size(s) > nw.Size(best) {
			best = s
		}
	}
	if best < 0 {
		return nil
	}
	root := nw.root(best)
	out := make([]int, 0, nw.size[root])
	for s := range nw.parent {
		if nw.root(s) == root {
			out = append(out, s)
		}
	}
	return out
}
