package search

import (
	"context"
	"log/slog"

	"github.com/hybridrag/hybridrag/internal/chunk"
	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
	"github.com/hybridrag/hybridrag/internal/store"
)

// ChunkStore is the slice of the store the retriever needs.
type ChunkStore interface {
	Count() int
	VectorBlock(start, length int) ([][]float32, error)
	Tombstones(ctx context.Context) (map[int]struct{}, error)
	FTSSearch(ctx context.Context, query string, limit int) ([]store.FTSHit, error)
	FetchChunks(ctx context.Context, ids []string) ([]chunk.Chunk, error)
	ChunkIDsByRows(ctx context.Context, rows []int) (map[int]string, error)
	RowsByChunkIDs(ctx context.Context, ids []string) (map[string]int, error)
}

// Retriever runs hybrid vector + keyword retrieval over a chunk store.
// Safe for concurrent use; each query takes its own read snapshot.
type Retriever struct {
	store    ChunkStore
	opts     Options
	reranker Reranker
	ann      *ANNIndex
	logger   *slog.Logger
}

// New creates a retriever. The reranker may be nil; it is only consulted
// when Options.RerankerEnabled is set.
func New(chunkStore ChunkStore, opts Options, reranker Reranker, logger *slog.Logger) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.RRFK <= 0 {
		opts.RRFK = DefaultRRFConstant
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: chunkStore, opts: opts, reranker: reranker, logger: logger}
}

// SetANN installs an optional approximate-nearest-neighbor index that
// replaces the exhaustive block scan for the vector list.
func (r *Retriever) SetANN(ann *ANNIndex) {
	r.ann = ann
}

// Retrieve returns the top-K chunks for a query embedding and its raw text.
// Deterministic for a fixed store: ties break by insertion rank.
func (r *Retriever) Retrieve(ctx context.Context, queryVec []float32, queryText string) ([]ScoredChunk, error) {
	if len(queryVec) == 0 {
		return nil, rgerrors.New(rgerrors.ErrCodeQueryEmpty, "query embedding is empty", nil)
	}

	limit := r.opts.candidateLimit()

	tombstones, err := r.store.Tombstones(ctx)
	if err != nil {
		return nil, err
	}

	vecHits, err := r.vectorCandidates(ctx, queryVec, limit, tombstones)
	if err != nil {
		return nil, err
	}

	vecEntries, err := r.resolveVecEntries(ctx, vecHits)
	if err != nil {
		return nil, err
	}

	var bm25Entries []rankedEntry
	if r.opts.Hybrid && queryText != "" {
		bm25Entries, err = r.keywordCandidates(ctx, queryText, limit)
		if err != nil {
			return nil, err
		}
	}

	fused := fuseRRF(vecEntries, bm25Entries, r.opts.RRFK)

	kept := make([]fusedCandidate, 0, len(fused))
	for _, c := range fused {
		if c.RRFScore < r.opts.MinScore {
			continue
		}
		kept = append(kept, c)
	}

	rerankDepth := len(kept)
	if !r.opts.RerankerEnabled || r.reranker == nil {
		if len(kept) > r.opts.TopK {
			kept = kept[:r.opts.TopK]
		}
		rerankDepth = 0
	}

	results, err := r.hydrate(ctx, kept)
	if err != nil {
		return nil, err
	}

	if rerankDepth > 0 {
		results, err = r.reranker.Rerank(ctx, queryText, results)
		if err != nil {
			return nil, err
		}
		if len(results) > r.opts.TopK {
			results = results[:r.opts.TopK]
		}
	}

	r.logger.Debug("retrieval_completed",
		slog.Int("vector_candidates", len(vecEntries)),
		slog.Int("keyword_candidates", len(bm25Entries)),
		slog.Int("returned", len(results)))

	return results, nil
}

// vectorCandidates runs either the ANN index or the exhaustive block scan.
func (r *Retriever) vectorCandidates(ctx context.Context, queryVec []float32, limit int, tombstones map[int]struct{}) ([]vecHit, error) {
	if r.ann != nil {
		return r.ann.Search(queryVec, limit, tombstones)
	}
	return scanVectors(ctx, r.store, queryVec, limit, r.opts.BlockRows, tombstones)
}

// resolveVecEntries maps scan rows back to chunk IDs. Rows with no mapping
// (should not happen for live rows) are dropped.
func (r *Retriever) resolveVecEntries(ctx context.Context, hits []vecHit) ([]rankedEntry, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	rows := make([]int, len(hits))
	for i, h := range hits {
		rows[i] = h.Row
	}
	idByRow, err := r.store.ChunkIDsByRows(ctx, rows)
	if err != nil {
		return nil, err
	}
	entries := make([]rankedEntry, 0, len(hits))
	for _, h := range hits {
		id, ok := idByRow[h.Row]
		if !ok {
			continue
		}
		entries = append(entries, rankedEntry{ChunkID: id, Score: h.Score, Row: h.Row})
	}
	return entries, nil
}

// keywordCandidates runs the OR-semantics full-text search and attaches
// insertion ranks for deterministic fusion.
func (r *Retriever) keywordCandidates(ctx context.Context, queryText string, limit int) ([]rankedEntry, error) {
	hits, err := r.store.FTSSearch(ctx, queryText, limit)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	rowByID, err := r.store.RowsByChunkIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	entries := make([]rankedEntry, 0, len(hits))
	for _, h := range hits {
		entries = append(entries, rankedEntry{ChunkID: h.ChunkID, Score: h.Score, Row: rowByID[h.ChunkID]})
	}
	return entries, nil
}

// hydrate fetches chunk records for the fused candidates, preserving order.
func (r *Retriever) hydrate(ctx context.Context, candidates []fusedCandidate) ([]ScoredChunk, error) {
	if len(candidates) == 0 {
		return []ScoredChunk{}, nil
	}
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ChunkID
	}
	chunks, err := r.store.FetchChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]chunk.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	out := make([]ScoredChunk, 0, len(candidates))
	for _, c := range candidates {
		rec, ok := byID[c.ChunkID]
		if !ok {
			continue
		}
		out = append(out, ScoredChunk{
			Chunk:     rec,
			Score:     c.RRFScore,
			VecScore:  c.VecScore,
			BM25Score: c.BM25Score,
			VecRank:   c.VecRank,
			BM25Rank:  c.BM25Rank,
			Row:       c.Row,
		})
	}
	return out, nil
}
