package rag

import (
	"container/heap"
	"fmt"
	"math"
	"slices"
)

// CosineSimilarity returns dot(a,b) / (|a| * |b|) computed in float64.
// A zero-norm operand yields 0 rather than NaN so degenerate vectors sort
// deterministically instead of poisoning the ranking.
func CosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// Rounding can push parallel vectors a hair past the unit interval.
	return math.Max(-1, math.Min(1, sim))
}

// Less reports whether a ranks strictly before b: higher similarity first,
// then lower id.
func Less(a, b QueryResult) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	return a.Record.ID < b.Record.ID
}

// SortResults orders results in ranking order in place.
func SortResults(results []QueryResult) {
	slices.SortFunc(results, func(a, b QueryResult) int {
		switch {
		case Less(a, b):
			return -1
		case Less(b, a):
			return 1
		default:
			return 0
		}
	})
}

// CheckQuery validates a nearest-neighbour request against a store's
// dimension and maximum limit.
func CheckQuery(query []float32, limit, dim, maxLimit int) error {
	if limit <= 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidArgument, limit)
	}
	if maxLimit > 0 && limit > maxLimit {
		return fmt.Errorf("%w: limit %d exceeds maximum %d", ErrInvalidArgument, limit, maxLimit)
	}
	if len(query) != dim {
		return fmt.Errorf("%w: query vector: %w", ErrInvalidArgument, &DimensionError{Expected: dim, Actual: len(query)})
	}
	return nil
}

// TopK accumulates the k best results of a streaming scan using a bounded
// min-heap keyed on ranking order, so a full scan costs O(n log k).
type TopK struct {
	k int
	h resultHeap
}

// NewTopK returns an accumulator keeping at most k results.
func NewTopK(k int) *TopK {
	return &TopK{k: k, h: make(resultHeap, 0, k)}
}

// Push offers a candidate result.
func (t *TopK) Push(r QueryResult) {
	if t.h.Len() < t.k {
		heap.Push(&t.h, r)
		return
	}
	// h[0] is the worst retained result.
	if Less(r, t.h[0]) {
		t.h[0] = r
		heap.Fix(&t.h, 0)
	}
}

// Results returns the retained results in ranking order.
func (t *TopK) Results() []QueryResult {
	out := make([]QueryResult, len(t.h))
	copy(out, t.h)
	SortResults(out)
	return out
}

// resultHeap is a min-heap where the root is the lowest-ranked result.
type resultHeap []QueryResult

func (h resultHeap) Len() int           { return len(h) }
func (h resultHeap) Less(i, j int) bool { return Less(h[j], h[i]) }
func (h resultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *resultHeap) Push(x any) { *h = append(*h, x.(QueryResult)) }

func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
