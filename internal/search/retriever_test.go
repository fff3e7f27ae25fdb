package search

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridrag/hybridrag/internal/chunk"
	"github.com/hybridrag/hybridrag/internal/store"
)

const testDims = 4

func normalized(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), store.Options{
		DatabaseFile: filepath.Join(dir, "chunks.db"),
		MatrixFile:   filepath.Join(dir, "vectors.bin"),
		MetaFile:     filepath.Join(dir, "vectors_meta.json"),
		Dimensions:   testDims,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedStore inserts three chunks with axis-aligned vectors so similarity
// ordering is obvious.
func seedStore(t *testing.T, s *store.Store) {
	t.Helper()
	chunks := []chunk.Chunk{
		{ID: "c0", Text: "dipole antenna gain patterns", Source: "a.txt", SeqIndex: 0, Start: 0, End: 28},
		{ID: "c1", Text: "waveguide flange torque values", Source: "a.txt", SeqIndex: 1, Start: 28, End: 58},
		{ID: "c2", Text: "coaxial cable velocity factor", Source: "b.txt", SeqIndex: 0, Start: 0, End: 29},
	}
	vectors := [][]float32{
		normalized([]float32{1, 0, 0, 0}),
		normalized([]float32{0, 1, 0, 0}),
		normalized([]float32{0, 0, 1, 0}),
	}
	_, err := s.InsertBatch(context.Background(), chunks, vectors)
	require.NoError(t, err)
}

func TestRetrieve_VectorOnly(t *testing.T) {
	s := newTestStore(t)
	seedStore(t, s)

	r := New(s, Options{TopK: 2, Hybrid: false}, nil, nil)
	query := normalized([]float32{0.9, 0.1, 0, 0})

	results, err := r.Retrieve(context.Background(), query, "")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "c0", results[0].Chunk.ID)
	assert.Greater(t, results[0].VecScore, results[0].BM25Score)
}

func TestRetrieve_HybridSurfacesKeywordOnlyMatch(t *testing.T) {
	s := newTestStore(t)
	seedStore(t, s)

	r := New(s, Options{TopK: 3, Hybrid: true, MinScore: 0}, nil, nil)

	// The query vector points at c0, but the text mentions only c2's terms.
	query := normalized([]float32{1, 0, 0, 0})
	results, err := r.Retrieve(context.Background(), query, "velocity factor")
	require.NoError(t, err)

	ids := make([]string, len(results))
	for i, sc := range results {
		ids[i] = sc.Chunk.ID
	}
	assert.Contains(t, ids, "c2", "keyword hit must survive fusion")
	assert.Contains(t, ids, "c0", "vector hit must survive fusion")
}

func TestRetrieve_MinScoreCutoff(t *testing.T) {
	s := newTestStore(t)
	seedStore(t, s)

	r := New(s, Options{TopK: 3, Hybrid: false, MinScore: 1.1}, nil, nil)
	query := normalized([]float32{1, 0, 0, 0})

	results, err := r.Retrieve(context.Background(), query, "")
	require.NoError(t, err)
	assert.Empty(t, results, "impossible cutoff drops everything")
}

func TestRetrieve_SkipsTombstonedRows(t *testing.T) {
	s := newTestStore(t)
	seedStore(t, s)

	_, err := s.DeleteBySource(context.Background(), "a.txt")
	require.NoError(t, err)

	r := New(s, Options{TopK: 3, Hybrid: true, MinScore: 0}, nil, nil)
	query := normalized([]float32{1, 0, 0, 0})

	results, err := r.Retrieve(context.Background(), query, "dipole antenna")
	require.NoError(t, err)
	for _, sc := range results {
		assert.NotEqual(t, "c0", sc.Chunk.ID)
		assert.NotEqual(t, "c1", sc.Chunk.ID)
	}
}

func TestRetrieve_Deterministic(t *testing.T) {
	s := newTestStore(t)
	seedStore(t, s)

	r := New(s, Options{TopK: 3, Hybrid: true, MinScore: 0}, nil, nil)
	query := normalized([]float32{0.5, 0.5, 0.5, 0})

	first, err := r.Retrieve(context.Background(), query, "antenna cable torque")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := r.Retrieve(context.Background(), query, "antenna cable torque")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRetrieve_EmptyQueryVectorRejected(t *testing.T) {
	s := newTestStore(t)
	r := New(s, Options{TopK: 3}, nil, nil)
	_, err := r.Retrieve(context.Background(), nil, "text")
	assert.Error(t, err)
}

func TestRetrieve_RerankerReordersWhenEnabled(t *testing.T) {
	s := newTestStore(t)
	seedStore(t, s)

	opts := Options{TopK: 3, Hybrid: false, MinScore: 0, RerankerEnabled: true, RerankerTopN: 3}
	r := New(s, opts, NewLexicalReranker(), nil)

	// Vector-wise the query is closest to c0, but the text overlaps c1.
	query := normalized([]float32{0.6, 0.55, 0, 0})
	results, err := r.Retrieve(context.Background(), query, "waveguide flange torque values")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "c1", results[0].Chunk.ID)
}

func TestScanVectors_HeapKeepsBestAcrossBlocks(t *testing.T) {
	s := newTestStore(t)

	var chunks []chunk.Chunk
	var vectors [][]float32
	for i := 0; i < 10; i++ {
		chunks = append(chunks, chunk.Chunk{
			ID: string(rune('a' + i)), Text: "filler", Source: "f.txt",
			SeqIndex: i, Start: i * 10, End: i*10 + 6,
		})
		// Increasing first component: later rows score higher.
		vectors = append(vectors, normalized([]float32{float32(i + 1), 1, 0, 0}))
	}
	_, err := s.InsertBatch(context.Background(), chunks, vectors)
	require.NoError(t, err)

	query := normalized([]float32{1, 0, 0, 0})
	// Block size 3 forces multiple blocks.
	hits, err := scanVectors(context.Background(), s, query, 2, 3, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 9, hits[0].Row)
	assert.Equal(t, 8, hits[1].Row)
}

func TestANNIndex_MatchesBlockScanTopResult(t *testing.T) {
	s := newTestStore(t)
	seedStore(t, s)

	ann := NewANNIndex()
	require.NoError(t, ann.BuildFromStore(context.Background(), s, 2))

	query := normalized([]float32{0, 1, 0, 0})
	exact, err := scanVectors(context.Background(), s, query, 1, 0, nil)
	require.NoError(t, err)
	approx, err := ann.Search(query, 1, nil)
	require.NoError(t, err)

	require.Len(t, exact, 1)
	require.Len(t, approx, 1)
	assert.Equal(t, exact[0].Row, approx[0].Row)
}

func TestANNIndex_SkipsTombstones(t *testing.T) {
	s := newTestStore(t)
	seedStore(t, s)

	ann := NewANNIndex()
	require.NoError(t, ann.BuildFromStore(context.Background(), s, 0))

	query := normalized([]float32{0, 1, 0, 0})
	hits, err := ann.Search(query, 1, map[int]struct{}{1: {}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.NotEqual(t, 1, hits[0].Row)
}
