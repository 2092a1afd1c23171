package pathfinding

// minHeap is a concrete-typed min-heap for the search queue.
// Avoids interface boxing overhead of container/heap.
type minHeap[E any] struct {
	items []queueItem[E]
	seq   uint64
}

// queueItem is a priority queue entry. seq breaks cost ties in insertion order.
type queueItem[E any] struct {
	cost  float64
	seq   uint64
	state *state[E]
}

func (h *minHeap[E]) Len() int { return len(h.items) }

func (h *minHeap[E]) Push(st *state[E]) {
	h.items = append(h.items, queueItem[E]{cost: st.cost, seq: h.seq, state: st})
	h.seq++
	h.siftUp(len(h.items) - 1)
}

func (h *minHeap[E]) Pop() *state[E] {
	n := len(h.items)
	item := h.items[0]
	h.items[0] = h.items[n-1]
	h.items[n-1] = queueItem[E]{}
	h.items = h.items[:n-1]
	if len(h.items) > 0 {
		h.siftDown(0)
	}
	return item.state
}

func (h *minHeap[E]) less(i, j int) bool {
	if h.items[i].cost != h.items[j].cost {
		return h.items[i].cost < h.items[j].cost
	}
	return h.items[i].seq < h.items[j].seq
}

func (h *minHeap[E]) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.less(i, parent) {
			break
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *minHeap[E]) siftDown(i int) {
	n := len(h.items)
	for {
		smallest := i
		left := 2*i + 1
		right := 2*i + 2
		if left < n && h.less(left, smallest) {
			smallest = left
		}
		if right < n && h.less(right, smallest) {
			smallest = right
		}
		if smallest == i {
			break
		}
		h.items[i], h.items[smallest] = h.items[smallest], h.items[i]
		i = smallest
	}
}
