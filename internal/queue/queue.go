// Package queue provides bounded binary heaps keyed by distance, used by the
// beam searches and top-k merges.
package queue

// Item is a (row id, distance) pair held by a priority queue.
type Item struct {
	ID       uint64
	Distance float32
}

// PriorityQueue is a value-based binary heap over Items. A min-heap pops the
// closest item first; a max-heap pops the farthest, which makes it a natural
// bounded top-k container (peek the worst, evict on overflow).
type PriorityQueue struct {
	isMax bool
	items []Item
}

// NewMin initializes a min-heap with the given capacity hint.
func NewMin(capacity int) *PriorityQueue {
	return &PriorityQueue{items: make([]Item, 0, capacity)}
}

// NewMax initializes a max-heap with the given capacity hint.
func NewMax(capacity int) *PriorityQueue {
	return &PriorityQueue{isMax: true, items: make([]Item, 0, capacity)}
}

// Len returns the number of items in the queue.
func (pq *PriorityQueue) Len() int { return len(pq.items) }

// Reset clears the queue for reuse.
func (pq *PriorityQueue) Reset() { pq.items = pq.items[:0] }

// Top returns the root item without removing it.
func (pq *PriorityQueue) Top() (Item, bool) {
	if len(pq.items) == 0 {
		return Item{}, false
	}
	return pq.items[0], true
}

// Push inserts an item while maintaining the heap invariant.
func (pq *PriorityQueue) Push(item Item) {
	pq.items = append(pq.items, item)
	pq.siftUp(len(pq.items) - 1)
}

// Pop removes and returns the root item.
func (pq *PriorityQueue) Pop() (Item, bool) {
	n := len(pq.items)
	if n == 0 {
		return Item{}, false
	}
	root := pq.items[0]
	last := pq.items[n-1]
	pq.items[n-1] = Item{}
	pq.items = pq.items[:n-1]
	if n-1 > 0 {
		pq.items[0] = last
		pq.siftDown(0)
	}
	return root, true
}

func (pq *PriorityQueue) less(i, j int) bool {
	a, b := pq.items[i], pq.items[j]
	if a.Distance != b.Distance {
		if pq.isMax {
			return a.Distance > b.Distance
		}
		return a.Distance < b.Distance
	}
	// Equal distances: prefer lower ids near the root of a min-heap, higher
	// ids near the root of a max-heap, so bounded top-k eviction keeps the
	// lowest-id ties.
	if pq.isMax {
		return a.ID > b.ID
	}
	return a.ID < b.ID
}

func (pq *PriorityQueue) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !pq.less(i, p) {
			return
		}
		pq.items[i], pq.items[p] = pq.items[p], pq.items[i]
		i = p
	}
}

func (pq *PriorityQueue) siftDown(i int) {
	n := len(pq.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		if r := l + 1; r < n && pq.less(r, l) {
			best = r
		}
		if !pq.less(best, i) {
			return
		}
		pq.items[i], pq.items[best] = pq.items[best], pq.items[i]
		i = best
	}
}
