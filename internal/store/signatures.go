package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
)

// GetSignature returns the last-seen signature for a source path. The
// second return reports whether a signature exists.
func (s *Store) GetSignature(ctx context.Context, source string) (Signature, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Signature{}, false, rgerrors.InternalError("store is closed", nil)
	}

	var sig Signature
	var indexedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT source, size, mtime, indexed_at FROM file_signatures WHERE source = ?`,
		source).Scan(&sig.Source, &sig.Size, &sig.MTime, &indexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Signature{}, false, nil
	}
	if err != nil {
		return Signature{}, false, rgerrors.StoreCorruption("failed to read file signature", err)
	}
	sig.IndexedAt, _ = time.Parse(time.RFC3339, indexedAt)
	return sig, true, nil
}

// PutSignature records a file's signature after it was indexed
// successfully. Updating the signature is the last step of the per-file
// pipeline; a crash before it means the file is re-processed on resume.
func (s *Store) PutSignature(ctx context.Context, sig Signature) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return rgerrors.InternalError("store is closed", nil)
	}

	indexedAt := sig.IndexedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO file_signatures (source, size, mtime, indexed_at)
		VALUES (?, ?, ?, ?)`,
		sig.Source, sig.Size, sig.MTime, indexedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return rgerrors.StoreCorruption("failed to write file signature", err)
	}
	return nil
}

// AllSignatures returns every recorded signature keyed by source path,
// used to detect files deleted since the last run.
func (s *Store) AllSignatures(ctx context.Context) (map[string]Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, rgerrors.InternalError("store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source, size, mtime, indexed_at FROM file_signatures`)
	if err != nil {
		return nil, rgerrors.StoreCorruption("failed to read file signatures", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]Signature)
	for rows.Next() {
		var sig Signature
		var indexedAt string
		if err := rows.Scan(&sig.Source, &sig.Size, &sig.MTime, &indexedAt); err != nil {
			return nil, rgerrors.StoreCorruption("failed to scan file signature", err)
		}
		sig.IndexedAt, _ = time.Parse(time.RFC3339, indexedAt)
		out[sig.Source] = sig
	}
	return out, rows.Err()
}
