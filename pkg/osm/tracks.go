package osm

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"

	"rail_router/pkg/geo"
	"rail_router/pkg/graph"
	"rail_router/pkg/infra"
)

// BuildStats summarizes a BuildDescription run.
type BuildStats struct {
	Segments    int // track sections before component filtering
	Tracks      int
	Routes      int
	Switches    int
	BufferStops int
}

type segment struct {
	way   *Way
	index int
	nodes []osm.NodeID
	line  orb.LineString
}

func (s *segment) id() string { return fmt.Sprintf("w%d_%d", s.way.ID, s.index) }

// trackEnd is one end of a track section at a node. The side splits the
// ends meeting at a node in two groups facing each other: a train arriving
// through an end on one side leaves through an end on the other side.
type trackEnd struct {
	seg   int
	start bool
	side  byte
}

// BuildDescription turns railway ways into track sections and routes.
//
// Ways are split at every node shared with another way, then only the
// largest connected set of track sections is kept. Each track section gets
// one route per direction; routes are chained through detectors placed on
// either side of every node.
func BuildDescription(res *ParseResult, name string) (*infra.Description, BuildStats) {
	segs := splitWays(res)
	stats := BuildStats{Segments: len(segs)}

	// Largest connected component over track sections sharing a node.
	byNode := make(map[osm.NodeID][]int)
	var nodeOrder []osm.NodeID
	for i, s := range segs {
		for _, n := range []osm.NodeID{s.nodes[0], s.nodes[len(s.nodes)-1]} {
			if _, seen := byNode[n]; !seen {
				nodeOrder = append(nodeOrder, n)
			}
			byNode[n] = append(byNode[n], i)
		}
	}
	network := graph.NewNetwork(len(segs))
	for _, n := range nodeOrder {
		network.JoinAll(byNode[n])
	}
	keep := network.Main()
	kept := make([]segment, 0, len(keep))
	for _, i := range keep {
		kept = append(kept, segs[i])
	}
	segs = kept

	desc := &infra.Description{Name: name}
	for i := range segs {
		s := &segs[i]
		td := infra.TrackDesc{
			ID:               s.id(),
			Length:           geo.Length(s.line),
			Electrification:  s.way.Electrification,
			MaxSpeed:         s.way.MaxSpeed,
			SpeedLimitsByTag: s.way.SpeedLimitsByTag,
		}
		for _, p := range s.line {
			td.Geometry = append(td.Geometry, [2]float64{p[0], p[1]})
		}
		desc.Tracks = append(desc.Tracks, td)
	}

	ends := sideEnds(segs)
	for i := range segs {
		s := &segs[i]
		first, last := s.nodes[0], s.nodes[len(s.nodes)-1]
		startSide, endSide := ends[endKey{i, true}], ends[endKey{i, false}]
		length := desc.Tracks[i].Length
		desc.Routes = append(desc.Routes,
			infra.RouteDesc{
				ID:            s.id() + ">",
				EntryDetector: detector(first, opposite(startSide)),
				ExitDetector:  detector(last, endSide),
				Path:          []infra.TrackRangeDesc{{Track: s.id(), Direction: infra.StartToStop, Begin: 0, End: length}},
			},
			infra.RouteDesc{
				ID:            s.id() + "<",
				EntryDetector: detector(last, opposite(endSide)),
				ExitDetector:  detector(first, startSide),
				Path:          []infra.TrackRangeDesc{{Track: s.id(), Direction: infra.StopToStart, Begin: 0, End: length}},
			},
		)
	}
	addNodes(desc, segs)
	stats.Tracks = len(desc.Tracks)
	stats.Routes = len(desc.Routes)
	stats.Switches = len(desc.Switches)
	stats.BufferStops = len(desc.BufferStops)
	return desc, stats
}

// addNodes classifies the nodes joining track ends: a single end is a buffer
// stop, three ends a point switch and four a crossing. Two ends are a plain
// link and need nothing.
func addNodes(desc *infra.Description, segs []segment) {
	type end struct {
		seg   int
		start bool
	}
	at := make(map[osm.NodeID][]end)
	var order []osm.NodeID
	for i := range segs {
		s := &segs[i]
		for _, e := range []end{{i, true}, {i, false}} {
			n := s.nodes[len(s.nodes)-1]
			if e.start {
				n = s.nodes[0]
			}
			if _, seen := at[n]; !seen {
				order = append(order, n)
			}
			at[n] = append(at[n], e)
		}
	}

	for _, n := range order {
		ends := at[n]
		id := fmt.Sprintf("n%d", n)
		switch len(ends) {
		case 1:
			e := ends[0]
			pos := 0.0
			if !e.start {
				pos = desc.Tracks[e.seg].Length
			}
			desc.BufferStops = append(desc.BufferStops, infra.BufferStopDesc{
				ID: id, Track: segs[e.seg].id(), Position: pos,
			})
		case 3, 4:
			typ := infra.PointSwitch
			if len(ends) == 4 {
				typ = infra.CrossSwitch
			}
			sw := infra.SwitchDesc{ID: id, Type: typ}
			for _, e := range ends {
				sw.Tracks = append(sw.Tracks, segs[e.seg].id())
			}
			desc.Switches = append(desc.Switches, sw)
		}
	}
}

// splitWays cuts ways at nodes used more than once, dropping degenerate
// pieces.
func splitWays(res *ParseResult) []segment {
	uses := make(map[osm.NodeID]int)
	for _, w := range res.Ways {
		for _, n := range w.NodeIDs {
			uses[n]++
		}
	}

	var out []segment
	for wi := range res.Ways {
		w := &res.Ways[wi]
		index := 0
		begin := 0
		for i := 1; i < len(w.NodeIDs); i++ {
			if i < len(w.NodeIDs)-1 && uses[w.NodeIDs[i]] < 2 {
				continue
			}
			nodes := w.NodeIDs[begin : i+1]
			begin = i
			line := make(orb.LineString, 0, len(nodes))
			for _, n := range nodes {
				p := orb.Point{res.NodeLon[n], res.NodeLat[n]}
				if len(line) > 0 && line[len(line)-1] == p {
					continue
				}
				line = append(line, p)
			}
			if len(line) < 2 || geo.Length(line) <= 0 {
				continue
			}
			out = append(out, segment{way: w, index: index, nodes: nodes, line: line})
			index++
		}
	}
	return out
}

type endKey struct {
	seg   int
	start bool
}

// sideEnds assigns a side to every track end. At each node the first end
// seen is on side 'a'; other ends pointing the same way (within 90 degrees)
// join it, the rest are on side 'b'.
func sideEnds(segs []segment) map[endKey]byte {
	type ref struct{ dx, dy float64 }
	refs := make(map[osm.NodeID]ref)
	out := make(map[endKey]byte, 2*len(segs))
	for i := range segs {
		s := &segs[i]
		for _, start := range []bool{true, false} {
			node, dx, dy := outward(s, start)
			r, ok := refs[node]
			if !ok {
				refs[node] = ref{dx, dy}
				out[endKey{i, start}] = 'a'
				continue
			}
			if dx*r.dx+dy*r.dy >= 0 {
				out[endKey{i, start}] = 'a'
			} else {
				out[endKey{i, start}] = 'b'
			}
		}
	}
	return out
}

// outward returns the node at one end of s and the local planar direction
// leaving that node along s.
func outward(s *segment, start bool) (osm.NodeID, float64, float64) {
	node, from, to := s.nodes[0], s.line[0], s.line[1]
	if !start {
		n := len(s.line)
		node, from, to = s.nodes[len(s.nodes)-1], s.line[n-1], s.line[n-2]
	}
	dx := (to[0] - from[0]) * math.Cos(from[1]*math.Pi/180)
	dy := to[1] - from[1]
	return node, dx, dy
}

func opposite(side byte) byte {
	if side == 'a' {
		return 'b'
	}
	return 'a'
}

func detector(n osm.NodeID, side byte) string {
	return fmt.Sprintf("n%d%c", n, side)
}
