package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
)

// BeginRun records the start of an indexing run and returns its ID. Run IDs
// combine a monotonic sequence number with a UUID so they sort by start
// order and remain unique across clock skew.
func (s *Store) BeginRun(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", rgerrors.InternalError("store is closed", nil)
	}

	var seq int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&seq); err != nil {
		return "", rgerrors.StoreCorruption("failed to allocate run sequence", err)
	}

	runID := fmt.Sprintf("%06d-%s", seq, uuid.NewString())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, seq, started_at, status)
		VALUES (?, ?, ?, ?)`,
		runID, seq, time.Now().UTC().Format(time.RFC3339), RunStatusRunning)
	if err != nil {
		return "", rgerrors.StoreCorruption("failed to record run start", err)
	}
	return runID, nil
}

// FinishRun records a run's terminal status and counters.
func (s *Store) FinishRun(ctx context.Context, runID, status string, counts RunCounts) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return rgerrors.InternalError("store is closed", nil)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET ended_at = ?, files_seen = ?, files_skipped = ?,
			files_parsed = ?, chunks_added = ?, status = ?
		WHERE run_id = ?`,
		time.Now().UTC().Format(time.RFC3339),
		counts.FilesSeen, counts.FilesSkipped, counts.FilesParsed,
		counts.ChunksAdded, status, runID)
	if err != nil {
		return rgerrors.StoreCorruption("failed to record run end", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return rgerrors.StoreCorruption("failed to read run update result", err)
	}
	if affected == 0 {
		return rgerrors.ValidationError(fmt.Sprintf("unknown run %q", runID), nil)
	}
	return nil
}

// RunRecord is one persisted indexing run.
type RunRecord struct {
	RunID     string
	Seq       int
	StartedAt time.Time
	EndedAt   time.Time
	Counts    RunCounts
	Status    string
}

// RecentRuns returns the most recent runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, rgerrors.InternalError("store is closed", nil)
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, started_at, COALESCE(ended_at, ''),
			files_seen, files_skipped, files_parsed, chunks_added, status
		FROM runs ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, rgerrors.StoreCorruption("failed to read runs", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var started, ended string
		if err := rows.Scan(&r.RunID, &r.Seq, &started, &ended,
			&r.Counts.FilesSeen, &r.Counts.FilesSkipped,
			&r.Counts.FilesParsed, &r.Counts.ChunksAdded, &r.Status); err != nil {
			return nil, rgerrors.StoreCorruption("failed to scan run", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		if ended != "" {
			r.EndedAt, _ = time.Parse(time.RFC3339, ended)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
