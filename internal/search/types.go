// Package search implements hybrid retrieval: a block-wise cosine scan over
// the vector matrix combined with BM25 full-text search, fused with
// Reciprocal Rank Fusion.
package search

import (
	"github.com/hybridrag/hybridrag/internal/chunk"
)

// DefaultRRFConstant is the standard RRF smoothing parameter. k=60 is
// empirically validated across domains.
const DefaultRRFConstant = 60

// rrfScaleFactor maps RRF scores into [0, 1] so the shared min_score
// cutoff applies to hybrid results as well as single-source searches.
const rrfScaleFactor = 30.0

// DefaultCandidateLimit bounds each source's candidate list when no
// reranker depth is configured.
const DefaultCandidateLimit = 20

// Options configures a Retriever.
type Options struct {
	// TopK is the number of results to return.
	TopK int

	// MinScore drops results scoring below it after normalization.
	MinScore float64

	// Hybrid enables BM25 + vector fusion; false means vector-only.
	Hybrid bool

	// RRFK is the RRF smoothing constant.
	RRFK int

	// RerankerEnabled turns on the optional rerank pass. Off by default:
	// reranking narrows context diversity and measurably hurts refusal and
	// injection-resistance behavior downstream.
	RerankerEnabled bool

	// RerankerTopN is the candidate depth fed to each source and, when
	// reranking is enabled, to the reranker.
	RerankerTopN int

	// BlockRows is the vector scan block size.
	BlockRows int
}

// ScoredChunk is one retrieval result with its provenance.
type ScoredChunk struct {
	Chunk chunk.Chunk

	// Score is the final normalized score in [0, 1].
	Score float64

	// VecScore is the cosine similarity, when the chunk surfaced in the
	// vector list.
	VecScore float64

	// BM25Score is the keyword score, when the chunk surfaced in the
	// full-text list.
	BM25Score float64

	// VecRank and BM25Rank are 1-based positions in each source list,
	// zero when absent.
	VecRank  int
	BM25Rank int

	// Row is the chunk's insertion rank, used for deterministic
	// tie-breaking.
	Row int
}

// candidateLimit resolves the per-source list depth.
func (o Options) candidateLimit() int {
	n := o.RerankerTopN
	if n <= 0 {
		n = DefaultCandidateLimit
	}
	if n < o.TopK {
		n = o.TopK
	}
	return n
}
