package engine

import (
	"container/heap"
	"sort"
)

// Candidate is one (id, distance) pair considered during top-k
// selection.
type Candidate struct {
	ID       int64
	Distance float32
}

// better applies the total order on (distance, id): the metric decides
// on distance, ties break by ascending id.
func better(a, b Candidate, metric Metric) bool {
	if a.Distance != b.Distance {
		return metric.Better(a.Distance, b.Distance)
	}
	return a.ID < b.ID
}

// candidateHeap keeps the worst retained candidate at the root so it
// can be evicted when a better one arrives.
type candidateHeap struct {
	items  []Candidate
	metric Metric
}

func (h *candidateHeap) Len() int            { return len(h.items) }
func (h *candidateHeap) Less(i, j int) bool  { return better(h.items[j], h.items[i], h.metric) }
func (h *candidateHeap) Swap(i, j int)       { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *candidateHeap) Push(x any)          { h.items = append(h.items, x.(Candidate)) }
func (h *candidateHeap) Pop() any {
	last := len(h.items) - 1
	item := h.items[last]
	h.items = h.items[:last]
	return item
}

// TopK selects the best k candidates under the metric's ordering using
// a bounded heap. Sentinel entries (id = SentinelID) are dropped before
// selection. The result is sorted best-first and deterministic for a
// given candidate multiset regardless of input order.
func TopK(candidates []Candidate, k int, metric Metric) []Candidate {
	if k <= 0 {
		return nil
	}

	h := &candidateHeap{items: make([]Candidate, 0, k), metric: metric}
	for _, c := range candidates {
		if c.ID == SentinelID {
			continue
		}
		if h.Len() < k {
			heap.Push(h, c)
			continue
		}
		if better(c, h.items[0], metric) {
			h.items[0] = c
			heap.Fix(h, 0)
		}
	}

	selected := h.items
	sort.Slice(selected, func(i, j int) bool {
		return better(selected[i], selected[j], metric)
	})
	return selected
}
