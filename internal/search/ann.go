package search

import (
	"context"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// ANNIndex is an optional in-memory HNSW accelerator over the vector
// matrix. Rows are the node keys, so results plug straight into the same
// mapping the block scan uses. The index is rebuilt from the store at boot;
// it is an accelerator, not a source of truth.
type ANNIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	count int
}

// NewANNIndex creates an empty HNSW index tuned for normalized vectors.
func NewANNIndex() *ANNIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 40
	graph.Ml = 0.25
	return &ANNIndex{graph: graph}
}

// BuildFromStore loads every live row into the index, scanning the matrix
// in blocks. Tombstoned rows are skipped at query time instead, so the
// index does not need rebuilding on delete.
func (a *ANNIndex) BuildFromStore(ctx context.Context, src blockSource, blockRows int) error {
	if blockRows <= 0 {
		blockRows = 1024
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	total := src.Count()
	for start := 0; start < total; start += blockRows {
		if err := ctx.Err(); err != nil {
			return err
		}
		block, err := src.VectorBlock(start, blockRows)
		if err != nil {
			return err
		}
		for i, vec := range block {
			a.graph.Add(hnsw.MakeNode(uint64(start+i), vec))
		}
	}
	a.count = total
	return nil
}

// Search returns the best k live rows for the query. It over-fetches to
// compensate for tombstoned neighbors, then filters and re-scores with the
// exact dot product so ordering matches the block scan.
func (a *ANNIndex) Search(query []float32, k int, tombstones map[int]struct{}) ([]vecHit, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.count == 0 || k <= 0 {
		return nil, nil
	}

	fetch := k + len(tombstones)
	if fetch > a.count {
		fetch = a.count
	}

	nodes := a.graph.Search(query, fetch)
	hits := make([]vecHit, 0, k)
	for _, node := range nodes {
		row := int(node.Key)
		if _, dead := tombstones[row]; dead {
			continue
		}
		hits = append(hits, vecHit{Row: row, Score: dot(query, node.Value)})
		if len(hits) == k {
			break
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Row < hits[j].Row
	})
	return hits, nil
}
