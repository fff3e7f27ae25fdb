package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseRRF_CombinesLists(t *testing.T) {
	vec := []rankedEntry{
		{ChunkID: "a", Score: 0.9, Row: 0},
		{ChunkID: "b", Score: 0.8, Row: 1},
	}
	bm25 := []rankedEntry{
		{ChunkID: "b", Score: 4.2, Row: 1},
		{ChunkID: "c", Score: 3.1, Row: 2},
	}

	fused := fuseRRF(vec, bm25, 60)
	require.Len(t, fused, 3)

	// b appears in both lists and must outrank the single-list entries.
	assert.Equal(t, "b", fused[0].ChunkID)
	assert.Equal(t, 2, fused[0].VecRank)
	assert.Equal(t, 1, fused[0].BM25Rank)
	assert.InDelta(t, (1.0/62+1.0/61)*rrfScaleFactor, fused[0].RRFScore, 1e-9)

	// a (vector rank 1) beats c (keyword rank 2).
	assert.Equal(t, "a", fused[1].ChunkID)
	assert.Equal(t, "c", fused[2].ChunkID)
}

func TestFuseRRF_ScoresClippedToOne(t *testing.T) {
	vec := []rankedEntry{{ChunkID: "a", Score: 1, Row: 0}}
	bm25 := []rankedEntry{{ChunkID: "a", Score: 9, Row: 0}}

	// k=1 makes the raw RRF sum 1.0; scaling would push it to 30 without
	// the clip.
	fused := fuseRRF(vec, bm25, 1)
	require.Len(t, fused, 1)
	assert.Equal(t, 1.0, fused[0].RRFScore)
}

func TestFuseRRF_TieBreaksByInsertionRank(t *testing.T) {
	// Two chunks each appear once at rank 1 of one list: identical scores.
	vec := []rankedEntry{{ChunkID: "late", Score: 0.9, Row: 7}}
	bm25 := []rankedEntry{{ChunkID: "early", Score: 3.0, Row: 2}}

	fused := fuseRRF(vec, bm25, 60)
	require.Len(t, fused, 2)
	assert.Equal(t, fused[0].RRFScore, fused[1].RRFScore)
	assert.Equal(t, "early", fused[0].ChunkID, "earlier insertion rank wins ties")
}

func TestFuseRRF_EmptyInputs(t *testing.T) {
	fused := fuseRRF(nil, nil, 60)
	assert.Empty(t, fused)
}

func TestFuseRRF_Deterministic(t *testing.T) {
	vec := []rankedEntry{
		{ChunkID: "a", Row: 0}, {ChunkID: "b", Row: 1}, {ChunkID: "c", Row: 2},
	}
	bm25 := []rankedEntry{
		{ChunkID: "c", Row: 2}, {ChunkID: "d", Row: 3}, {ChunkID: "a", Row: 0},
	}

	first := fuseRRF(vec, bm25, 60)
	for i := 0; i < 20; i++ {
		again := fuseRRF(vec, bm25, 60)
		assert.Equal(t, first, again)
	}
}
