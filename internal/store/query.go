package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/hybridrag/hybridrag/internal/chunk"
	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
)

// ftsTermRegex extracts searchable terms from a raw query.
var ftsTermRegex = regexp.MustCompile(`[\pL\pN]+`)

// buildFTSQuery turns a raw query into an OR-connected FTS5 MATCH
// expression, so partial matches surface instead of requiring every term.
func buildFTSQuery(query string) string {
	terms := ftsTermRegex.FindAllString(query, -1)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

// FTSSearch runs a BM25-scored full-text search over live chunk text.
// Query terms are OR-connected; tombstoned chunks are excluded. Scores are
// positive, higher is better.
func (s *Store) FTSSearch(ctx context.Context, query string, limit int) ([]FTSHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, rgerrors.InternalError("store is closed", nil)
	}
	if limit <= 0 {
		return []FTSHit{}, nil
	}

	match := buildFTSQuery(query)
	if match == "" {
		return []FTSHit{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, bm25(chunks_fts) AS score
		FROM chunks_fts f
		JOIN chunks c ON c.rowid = f.rowid
		WHERE chunks_fts MATCH ?
		  AND NOT EXISTS (
			SELECT 1 FROM vector_mapping m
			JOIN tombstones t ON t.row_index = m.row_index
			WHERE m.chunk_id = c.id
		  )
		ORDER BY score
		LIMIT ?`, match, limit)
	if err != nil {
		// FTS5 reports malformed match expressions as errors; treat as empty.
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return []FTSHit{}, nil
		}
		return nil, rgerrors.StoreCorruption("full-text search failed", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []FTSHit
	for rows.Next() {
		var hit FTSHit
		if err := rows.Scan(&hit.ChunkID, &hit.Score); err != nil {
			return nil, rgerrors.StoreCorruption("failed to scan search result", err)
		}
		// bm25() returns negative values, lower is better; negate so
		// higher is better.
		hit.Score = -hit.Score
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// FetchChunks hydrates chunk records by ID, preserving input order.
// Unknown IDs are skipped silently.
func (s *Store) FetchChunks(ctx context.Context, ids []string) ([]chunk.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, rgerrors.InternalError("store is closed", nil)
	}
	if len(ids) == 0 {
		return []chunk.Chunk{}, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT id, text, source, seq_index, "start", "end", heading, metadata
		FROM chunks WHERE id IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, rgerrors.StoreCorruption("failed to fetch chunks", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]chunk.Chunk, len(ids))
	for rows.Next() {
		var c chunk.Chunk
		var metaJSON string
		if err := rows.Scan(&c.ID, &c.Text, &c.Source, &c.SeqIndex, &c.Start, &c.End, &c.Heading, &metaJSON); err != nil {
			return nil, rgerrors.StoreCorruption("failed to scan chunk", err)
		}
		if metaJSON != "" && metaJSON != "{}" {
			if err := json.Unmarshal([]byte(metaJSON), &c.Metadata); err != nil {
				return nil, rgerrors.StoreCorruption("failed to decode chunk metadata", err).
					WithDetail("chunk_id", c.ID)
			}
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, rgerrors.StoreCorruption("failed to iterate chunks", err)
	}

	out := make([]chunk.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// RowsByChunkIDs maps chunk IDs to their vector row indices.
func (s *Store) RowsByChunkIDs(ctx context.Context, ids []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, rgerrors.InternalError("store is closed", nil)
	}
	if len(ids) == 0 {
		return map[string]int{}, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT chunk_id, row_index FROM vector_mapping
		WHERE chunk_id IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, rgerrors.StoreCorruption("failed to resolve chunk mapping", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int, len(ids))
	for rows.Next() {
		var id string
		var row int
		if err := rows.Scan(&id, &row); err != nil {
			return nil, rgerrors.StoreCorruption("failed to scan chunk mapping", err)
		}
		out[id] = row
	}
	return out, rows.Err()
}

// Tombstones returns the set of tombstoned row indices, for the retriever
// to skip during block scans.
func (s *Store) Tombstones(ctx context.Context) (map[int]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, rgerrors.InternalError("store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT row_index FROM tombstones`)
	if err != nil {
		return nil, rgerrors.StoreCorruption("failed to read tombstones", err)
	}
	defer func() { _ = rows.Close() }()

	set := make(map[int]struct{})
	for rows.Next() {
		var row int
		if err := rows.Scan(&row); err != nil {
			return nil, rgerrors.StoreCorruption("failed to scan tombstone", err)
		}
		set[row] = struct{}{}
	}
	return set, rows.Err()
}

// ChunkIDsByRows maps vector row indices back to chunk IDs.
func (s *Store) ChunkIDsByRows(ctx context.Context, rowIndices []int) (map[int]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, rgerrors.InternalError("store is closed", nil)
	}
	if len(rowIndices) == 0 {
		return map[int]string{}, nil
	}

	placeholders := make([]string, len(rowIndices))
	args := make([]any, len(rowIndices))
	for i, r := range rowIndices {
		placeholders[i] = "?"
		args[i] = r
	}

	query := fmt.Sprintf(`
		SELECT row_index, chunk_id FROM vector_mapping
		WHERE row_index IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, rgerrors.StoreCorruption("failed to resolve row mapping", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int]string, len(rowIndices))
	for rows.Next() {
		var row int
		var id string
		if err := rows.Scan(&row, &id); err != nil {
			return nil, rgerrors.StoreCorruption("failed to scan row mapping", err)
		}
		out[row] = id
	}
	return out, rows.Err()
}
