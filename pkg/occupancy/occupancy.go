// Package occupancy holds the time intervals during which other trains
// reserve each block of an infrastructure.
//
// A Table is built once per occupancy snapshot and is read-only afterwards,
// so concurrent searches may share it.
package occupancy

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"rail_router/pkg/infra"
)

// ErrUnknownBlock is returned when a reservation names a block the infra
// does not have.
var ErrUnknownBlock = errors.New("unknown block")

// Interval is the half-open time interval [Start, End), in seconds.
type Interval struct {
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
}

// Duration returns End - Start.
func (i Interval) Duration() float64 { return i.End - i.Start }

// Overlaps reports whether i and o share any instant.
func (i Interval) Overlaps(o Interval) bool { return i.Start < o.End && o.Start < i.End }

// Reservation is the exclusive use of a block by another train.
type Reservation struct {
	Block    string `json:"block" yaml:"block"`
	Interval `yaml:",inline"`
	// Train optionally names the train holding the reservation.
	Train string `json:"train,omitempty" yaml:"train,omitempty"`
}

// Table lists, per block, the sorted disjoint reserved intervals.
type Table struct {
	byBlock [][]Interval // indexed by infra.RouteID
}

// NewTable resolves every reservation's block and merges overlapping or
// touching intervals.
func NewTable(in *infra.Infra, reservations []Reservation) (*Table, error) {
	t := &Table{byBlock: make([][]Interval, in.NumRoutes())}
	for _, r := range reservations {
		id, err := in.RouteByName(r.Block)
		if err != nil {
			return nil, fmt.Errorf("%w %q", ErrUnknownBlock, r.Block)
		}
		if !(r.Start < r.End) {
			return nil, fmt.Errorf("invalid reservation of %q: [%v, %v)", r.Block, r.Start, r.End)
		}
		t.byBlock[id] = append(t.byBlock[id], r.Interval)
	}
	for i, ivs := range t.byBlock {
		t.byBlock[i] = merge(ivs)
	}
	return t, nil
}

func merge(ivs []Interval) []Interval {
	if len(ivs) < 2 {
		return ivs
	}
	sort.Slice(ivs, func(a, b int) bool { return ivs[a].Start < ivs[b].Start })
	out := ivs[:1]
	for _, iv := range ivs[1:] {
		last := &out[len(out)-1]
		if iv.Start <= last.End {
			last.End = math.Max(last.End, iv.End)
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Reservations returns the sorted disjoint reserved intervals of block. The
// slice must not be modified. A nil table has no reservations.
func (t *Table) Reservations(block infra.RouteID) []Interval {
	if t == nil || int(block) >= len(t.byBlock) {
		return nil
	}
	return t.byBlock[block]
}

// Conflicts returns the reservations of block overlapping [from, to).
func (t *Table) Conflicts(block infra.RouteID, from, to float64) []Interval {
	res := t.Reservations(block)
	i := sort.Search(len(res), func(i int) bool { return res[i].End > from })
	j := i
	for j < len(res) && res[j].Start < to {
		j++
	}
	return res[i:j]
}

// Openings returns the free intervals of block.
func (t *Table) Openings(block infra.RouteID) []Interval {
	return Openings(t.Reservations(block))
}

// Count returns the number of merged reservations over all blocks.
func (t *Table) Count() int {
	if t == nil {
		return 0
	}
	n := 0
	for _, ivs := range t.byBlock {
		n += len(ivs)
	}
	return n
}

// Openings returns the maximal free intervals around sorted disjoint
// reservations, from -Inf to +Inf.
func Openings(reservations []Interval) []Interval {
	out := make([]Interval, 0, len(reservations)+1)
	start := math.Inf(-1)
	for _, r := range reservations {
		if r.Start > start {
			out = append(out, Interval{Start: start, End: r.Start})
		}
		start = r.End
	}
	if !math.IsInf(start, 1) {
		out = append(out, Interval{Start: start, End: math.Inf(1)})
	}
	return out
}
