package search

import (
	"container/heap"
	"context"
	"sort"
)

// vecHit is one vector-scan candidate.
type vecHit struct {
	Row   int
	Score float64
}

// vecHeap is a min-heap of the best hits seen so far; the root is the
// weakest, evicted when something better arrives.
type vecHeap []vecHit

func (h vecHeap) Len() int           { return len(h) }
func (h vecHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h vecHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *vecHeap) Push(x any)        { *h = append(*h, x.(vecHit)) }
func (h *vecHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// blockSource yields decoded vector rows in blocks.
type blockSource interface {
	Count() int
	VectorBlock(start, length int) ([][]float32, error)
}

// scanVectors computes cosine similarity between the query and every live
// row, scanning the matrix in blocks to bound peak memory. Stored vectors
// and the query are L2-normalized, so cosine reduces to a dot product.
// Results come back sorted best-first; ties break by row (insertion rank).
func scanVectors(ctx context.Context, src blockSource, query []float32, k, blockRows int, tombstones map[int]struct{}) ([]vecHit, error) {
	if k <= 0 {
		return nil, nil
	}
	if blockRows <= 0 {
		blockRows = 1024
	}

	h := make(vecHeap, 0, k)
	heap.Init(&h)

	total := src.Count()
	for start := 0; start < total; start += blockRows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		block, err := src.VectorBlock(start, blockRows)
		if err != nil {
			return nil, err
		}
		for i, row := range block {
			rowIndex := start + i
			if _, dead := tombstones[rowIndex]; dead {
				continue
			}
			score := dot(query, row)
			if h.Len() < k {
				heap.Push(&h, vecHit{Row: rowIndex, Score: score})
				continue
			}
			if score > h[0].Score {
				h[0] = vecHit{Row: rowIndex, Score: score}
				heap.Fix(&h, 0)
			}
		}
	}

	hits := make([]vecHit, h.Len())
	copy(hits, h)
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Row < hits[j].Row
	})
	return hits, nil
}

// dot computes the inner product of two equal-length vectors.
func dot(a, b []float32) float64 {
	var sum float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
