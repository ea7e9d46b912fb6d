// Package vector implements an exact in-memory nearest-neighbour index.
package vector

import (
	"container/heap"
	"fmt"
	"math"
	"sort"

	"docbot/internal/domain"
)

// Metric selects how vectors are compared.
type Metric string

const (
	// L2 ranks by Euclidean distance, smaller is better.
	L2 Metric = "l2"
	// InnerProduct ranks by dot product of L2-normalized vectors, larger is better.
	InnerProduct Metric = "ip"
)

// ParseMetric converts a config string into a Metric.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case L2, InnerProduct:
		return Metric(s), nil
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// Similarity converts a raw score into a bounded, higher-is-better value.
func (m Metric) Similarity(score float64) float64 {
	if m == L2 {
		return 1 / (1 + score)
	}
	return score
}

// better reports whether a ranks ahead of b. Ties go to the lower id.
func (m Metric) better(a, b Hit) bool {
	if a.Score != b.Score {
		if m == L2 {
			return a.Score < b.Score
		}
		return a.Score > b.Score
	}
	return a.ID < b.ID
}

// Hit is one search result. Score is the L2 distance or the inner product.
type Hit struct {
	ID    int
	Score float64
}

// Index stores vectors contiguously and answers exact top-k queries by
// linear scan. It is immutable after Build and safe for concurrent Search.
type Index struct {
	metric Metric
	dim    int
	n      int
	data   []float32
}

// Build creates an index over vectors; vector i gets id i. Every vector must
// share the first vector's dimension. In InnerProduct mode vectors are
// normalized before insertion.
func Build(metric Metric, vectors [][]float32) (*Index, error) {
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	idx := &Index{metric: metric, n: len(vectors)}
	if len(vectors) == 0 {
		return idx, nil
	}

	idx.dim = len(vectors[0])
	if idx.dim == 0 {
		return nil, fmt.Errorf("vector 0 is empty: %w", domain.ErrDimensionMismatch)
	}
	idx.data = make([]float32, 0, idx.dim*len(vectors))
	for i, v := range vectors {
		if len(v) != idx.dim {
			return nil, fmt.Errorf("vector %d has %d dimensions, want %d: %w", i, len(v), idx.dim, domain.ErrDimensionMismatch)
		}
		if metric == InnerProduct {
			v = Normalize(v)
		}
		idx.data = append(idx.data, v...)
	}
	return idx, nil
}

func (x *Index) Metric() Metric { return x.metric }
func (x *Index) Dim() int       { return x.dim }
func (x *Index) Len() int       { return x.n }

// Search returns up to k hits ordered best-first. An empty index yields no
// hits and no error. In InnerProduct mode the query is normalized first.
func (x *Index) Search(query []float32, k int) ([]Hit, error) {
	if x.n == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != x.dim {
		return nil, fmt.Errorf("query has %d dimensions, want %d: %w", len(query), x.dim, domain.ErrDimensionMismatch)
	}
	if x.metric == InnerProduct {
		query = Normalize(query)
	}
	if k > x.n {
		k = x.n
	}

	h := &hitHeap{metric: x.metric, hits: make([]Hit, 0, k)}
	for id := 0; id < x.n; id++ {
		vec := x.data[id*x.dim : (id+1)*x.dim]
		hit := Hit{ID: id, Score: x.score(query, vec)}
		if h.Len() < k {
			heap.Push(h, hit)
			continue
		}
		if x.metric.better(hit, h.hits[0]) {
			h.hits[0] = hit
			heap.Fix(h, 0)
		}
	}

	out := h.hits
	sort.Slice(out, func(i, j int) bool { return x.metric.better(out[i], out[j]) })
	return out, nil
}

func (x *Index) score(q, v []float32) float64 {
	var sum float64
	if x.metric == L2 {
		for i := range q {
			d := float64(q[i]) - float64(v[i])
			sum += d * d
		}
		return math.Sqrt(sum)
	}
	for i := range q {
		sum += float64(q[i]) * float64(v[i])
	}
	return sum
}

// Normalize returns a unit-length copy of v. A zero vector is returned as zeros.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, f := range v {
		norm += float64(f) * float64(f)
	}
	out := make([]float32, len(v))
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}

// hitHeap keeps the worst retained hit at the root.
type hitHeap struct {
	metric Metric
	hits   []Hit
}

func (h *hitHeap) Len() int           { return len(h.hits) }
func (h *hitHeap) Less(i, j int) bool { return h.metric.better(h.hits[j], h.hits[i]) }
func (h *hitHeap) Swap(i, j int)      { h.hits[i], h.hits[j] = h.hits[j], h.hits[i] }
func (h *hitHeap) Push(x any)         { h.hits = append(h.hits, x.(Hit)) }
func (h *hitHeap) Pop() any {
	old := h.hits
	n := len(old)
	x := old[n-1]
	h.hits = old[:n-1]
	return x
}
