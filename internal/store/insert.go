package store

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hybridrag/hybridrag/internal/chunk"
	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
)

// InsertBatch inserts chunks and their vectors in one transaction. Chunks
// whose deterministic ID already exists are ignored, which makes re-running
// a partially indexed file a no-op. Vector rows for newly inserted chunks
// are flushed to the matrix before the transaction commits, so a committed
// mapping row always has a matrix row behind it.
//
// Returns the number of newly inserted chunks.
func (s *Store) InsertBatch(ctx context.Context, chunks []chunk.Chunk, vectors [][]float32) (int, error) {
	if len(chunks) != len(vectors) {
		return 0, rgerrors.ValidationError("chunk and vector counts differ", nil)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, rgerrors.InternalError("store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, rgerrors.StoreCorruption("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	insertChunk, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO chunks (id, text, source, seq_index, "start", "end", heading, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, rgerrors.StoreCorruption("failed to prepare chunk insert", err)
	}
	defer func() { _ = insertChunk.Close() }()

	// A chunk deleted and later re-ingested keeps its ID but gets a fresh
	// appended row; its old row stays tombstoned.
	insertMapping, err := tx.PrepareContext(ctx, `
		INSERT INTO vector_mapping (chunk_id, row_index) VALUES (?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET row_index = excluded.row_index`)
	if err != nil {
		return 0, rgerrors.StoreCorruption("failed to prepare mapping insert", err)
	}
	defer func() { _ = insertMapping.Close() }()

	nextRow := s.meta.Count
	var newVectors [][]float32

	for i, c := range chunks {
		metaJSON := "{}"
		if len(c.Metadata) > 0 {
			data, err := json.Marshal(c.Metadata)
			if err != nil {
				return 0, rgerrors.ValidationError("failed to encode chunk metadata", err)
			}
			metaJSON = string(data)
		}

		res, err := insertChunk.ExecContext(ctx,
			c.ID, c.Text, c.Source, c.SeqIndex, c.Start, c.End, c.Heading, metaJSON)
		if err != nil {
			return 0, rgerrors.StoreCorruption("failed to insert chunk", err).
				WithDetail("chunk_id", c.ID)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, rgerrors.StoreCorruption("failed to read insert result", err)
		}
		if affected == 0 {
			// Already present from a previous (possibly interrupted) run.
			continue
		}

		if _, err := insertMapping.ExecContext(ctx, c.ID, nextRow); err != nil {
			return 0, rgerrors.StoreCorruption("failed to record vector mapping", err).
				WithDetail("chunk_id", c.ID)
		}
		newVectors = append(newVectors, vectors[i])
		nextRow++
	}

	if len(newVectors) > 0 {
		encoded, err := encodeRows(newVectors, s.opts.Dimensions)
		if err != nil {
			return 0, err
		}
		if err := s.writeRowsAt(s.meta.Count, encoded); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, rgerrors.StoreCorruption("failed to commit insert batch", err)
	}

	if len(newVectors) > 0 {
		s.meta.Count = nextRow
		if err := s.writeSidecar(); err != nil {
			// The mapping committed; the stale sidecar heals on next open.
			s.logger.Warn("sidecar_write_failed", slog.String("error", err.Error()))
		}
	}

	return len(newVectors), nil
}

// DeleteBySource removes a source file's chunks and tombstones their vector
// rows. Mapping rows are kept: the matrix is append-only and row indices are
// never reassigned.
func (s *Store) DeleteBySource(ctx context.Context, source string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, rgerrors.InternalError("store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, rgerrors.StoreCorruption("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO tombstones (row_index)
		SELECT m.row_index FROM vector_mapping m
		JOIN chunks c ON c.id = m.chunk_id
		WHERE c.source = ?`, source); err != nil {
		return 0, rgerrors.StoreCorruption("failed to tombstone vector rows", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source = ?`, source)
	if err != nil {
		return 0, rgerrors.StoreCorruption("failed to delete chunks", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, rgerrors.StoreCorruption("failed to read delete result", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM file_signatures WHERE source = ?`, source); err != nil {
		return 0, rgerrors.StoreCorruption("failed to delete file signature", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, rgerrors.StoreCorruption("failed to commit delete", err)
	}

	if deleted > 0 {
		s.logger.Info("source_deleted",
			slog.String("source", source),
			slog.Int64("chunks", deleted))
	}
	return int(deleted), nil
}
