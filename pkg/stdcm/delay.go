package stdcm

import (
	"math"
	"slices"
	"sort"

	"rail_router/pkg/infra"
	"rail_router/pkg/occupancy"
)

// Availability lists, per block, the sorted disjoint intervals reserved by
// other trains. *occupancy.Table implements it.
type Availability interface {
	Reservations(block infra.RouteID) []occupancy.Interval
}

// delayManager answers the timing questions of edge construction. A train
// entering a block at t for d seconds occupies the whole block over
// [t - gapBefore, t + d + gapAfter).
type delayManager struct {
	avail      Availability
	gapBefore  float64
	gapAfter   float64
	maxRunTime float64
	startTime  float64
}

// minimumDelaysPerOpening returns, for each opening the traversal fits in,
// the smallest delay to add to entry to get there. Sorted, unique.
func (m *delayManager) minimumDelaysPerOpening(block infra.RouteID, entry, duration float64) []float64 {
	var out []float64
	for _, o := range occupancy.Openings(m.avail.Reservations(block)) {
		t := math.Max(entry, o.Start+m.gapBefore)
		if t+duration+m.gapAfter <= o.End {
			out = append(out, t-entry)
		}
	}
	return slices.Compact(out)
}

// firstReservationAfter returns the first reservation of block ending after
// the occupancy of a train entering at entry begins.
func (m *delayManager) firstReservationAfter(block infra.RouteID, entry float64) (occupancy.Interval, bool) {
	res := m.avail.Reservations(block)
	begin := entry - m.gapBefore
	i := sort.Search(len(res), func(i int) bool { return res[i].End > begin })
	if i == len(res) {
		return occupancy.Interval{}, false
	}
	return res[i], true
}

// findMaximumAddedDelay returns how much later than entry the train could
// enter without its occupancy reaching the next reservation.
func (m *delayManager) findMaximumAddedDelay(block infra.RouteID, entry, duration float64) float64 {
	r, ok := m.firstReservationAfter(block, entry)
	if !ok {
		return math.Inf(1)
	}
	return r.Start - (entry + duration + m.gapAfter)
}

// findNextOccupancy returns the start of the next reservation of block.
func (m *delayManager) findNextOccupancy(block infra.RouteID, entry float64) float64 {
	r, ok := m.firstReservationAfter(block, entry)
	if !ok {
		return math.Inf(1)
	}
	return r.Start
}

// isRunTimeTooLong reports whether the train, once past e, has been running
// longer than allowed since its actual departure.
func (m *delayManager) isRunTimeTooLong(e *Edge, duration float64) bool {
	departure := m.startTime + e.TotalAddedDelay
	return e.TimeStart+duration-departure > m.maxRunTime
}
