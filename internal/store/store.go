package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
)

// Store is the persistent chunk and vector store. Multiple concurrent
// readers, single writer: InsertBatch and DeleteBySource hold the write
// lock for the duration of their transaction.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	matrix *os.File
	opts   Options
	logger *slog.Logger

	meta   sidecar
	closed bool
}

// schemaVersion is bumped whenever the schema changes shape.
const schemaVersion = 1

// validateIntegrity runs a quick integrity check on an existing database
// before opening it for real. A missing file is fine (it will be created).
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// Open opens or initializes the store: migrates the database schema,
// opens the vector matrix, and validates the sidecar against both the
// matrix file and the row mapping, repairing what it can.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Dimensions <= 0 {
		return nil, rgerrors.ValidationError("store dimensions must be positive", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(opts.DatabaseFile); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, rgerrors.New(rgerrors.ErrCodeFilePermission,
				fmt.Sprintf("failed to create data directory %s", dir), err)
		}
	}

	if err := validateIntegrity(opts.DatabaseFile); err != nil {
		return nil, rgerrors.StoreCorruption("chunk database failed integrity check", err).
			WithDetail("path", opts.DatabaseFile).
			WithRemedy("move the database aside and re-index")
	}

	db, err := sql.Open("sqlite", opts.DatabaseFile+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, rgerrors.StoreCorruption("failed to open chunk database", err)
	}

	// Single writer prevents SQLITE_BUSY churn under WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores some DSN params; set pragmas explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, rgerrors.StoreCorruption("failed to set pragma", err)
		}
	}

	s := &Store{db: db, opts: opts, logger: logger}

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	matrix, err := os.OpenFile(opts.MatrixFile, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		_ = db.Close()
		return nil, rgerrors.New(rgerrors.ErrCodeFilePermission,
			"failed to open vector matrix file", err).WithDetail("path", opts.MatrixFile)
	}
	s.matrix = matrix

	if err := s.recoverSidecar(ctx); err != nil {
		_ = matrix.Close()
		_ = db.Close()
		return nil, err
	}

	logger.Info("vector_store_opened",
		slog.String("database", opts.DatabaseFile),
		slog.Int("dim", s.meta.Dim),
		slog.Int("count", s.meta.Count))

	return s, nil
}

// migrate creates or upgrades the schema.
func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id        TEXT PRIMARY KEY,
		text      TEXT NOT NULL,
		source    TEXT NOT NULL,
		seq_index INTEGER NOT NULL,
		"start"   INTEGER NOT NULL,
		"end"     INTEGER NOT NULL,
		heading   TEXT NOT NULL DEFAULT '',
		metadata  TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source);

	-- External-content FTS index over chunk text, kept in sync by triggers.
	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		text,
		content='chunks',
		content_rowid='rowid',
		tokenize='unicode61'
	);

	CREATE TRIGGER IF NOT EXISTS chunks_fts_ai AFTER INSERT ON chunks BEGIN
		INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
	END;
	CREATE TRIGGER IF NOT EXISTS chunks_fts_ad AFTER DELETE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
	END;
	CREATE TRIGGER IF NOT EXISTS chunks_fts_au AFTER UPDATE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
		INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
	END;

	CREATE TABLE IF NOT EXISTS file_signatures (
		source     TEXT PRIMARY KEY,
		size       INTEGER NOT NULL,
		mtime      INTEGER NOT NULL,
		indexed_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		run_id       TEXT PRIMARY KEY,
		seq          INTEGER NOT NULL,
		started_at   TEXT NOT NULL,
		ended_at     TEXT,
		files_seen   INTEGER NOT NULL DEFAULT 0,
		files_skipped INTEGER NOT NULL DEFAULT 0,
		files_parsed INTEGER NOT NULL DEFAULT 0,
		chunks_added INTEGER NOT NULL DEFAULT 0,
		status       TEXT NOT NULL
	);

	-- Append-only ledger: row_index i holds the chunk whose insertion rank
	-- is i. Rows survive chunk deletion so the matrix is never re-ranked.
	CREATE TABLE IF NOT EXISTS vector_mapping (
		chunk_id  TEXT PRIMARY KEY,
		row_index INTEGER UNIQUE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tombstones (
		row_index INTEGER PRIMARY KEY
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return rgerrors.StoreCorruption("failed to initialize schema", err)
	}

	var version int
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return rgerrors.StoreCorruption("failed to read schema version", err)
	}
	if version > schemaVersion {
		return rgerrors.StoreCorruption(
			fmt.Sprintf("database schema version %d is newer than supported %d", version, schemaVersion), nil).
			WithRemedy("upgrade the binary or re-index with this version")
	}
	return nil
}

// recoverSidecar validates the sidecar against the matrix file and the
// mapping table and repairs what it can. The mapping table is the
// authority: vectors are flushed to disk before their mapping rows commit,
// so every committed mapping row has a matrix row behind it.
func (s *Store) recoverSidecar(ctx context.Context) error {
	rowWidth := int64(s.opts.Dimensions) * bytesPerValue

	fi, err := s.matrix.Stat()
	if err != nil {
		return rgerrors.New(rgerrors.ErrCodeFilePermission, "failed to stat vector matrix", err)
	}
	if fi.Size()%rowWidth != 0 {
		return rgerrors.StoreCorruption(
			fmt.Sprintf("vector matrix size %d is not divisible by row width %d", fi.Size(), rowWidth), nil).
			WithDetail("path", s.opts.MatrixFile).
			WithRemedy("delete the matrix and sidecar files and re-index")
	}
	rowsOnDisk := int(fi.Size() / rowWidth)

	var mappedRows int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(row_index) + 1, 0) FROM vector_mapping`).Scan(&mappedRows); err != nil {
		return rgerrors.StoreCorruption("failed to read vector mapping", err)
	}
	if mappedRows > rowsOnDisk {
		return rgerrors.StoreCorruption(
			fmt.Sprintf("vector mapping records %d rows but matrix holds %d", mappedRows, rowsOnDisk), nil).
			WithRemedy("delete the matrix and sidecar files and re-index")
	}

	meta, parseErr := s.readSidecar()
	switch {
	case parseErr == nil && meta.Dim != s.opts.Dimensions && meta.Count > 0:
		return rgerrors.StoreCorruption(
			fmt.Sprintf("stored dimension %d does not match embedder dimension %d", meta.Dim, s.opts.Dimensions), nil).
			WithRemedy("re-index with the current embedding model")
	case parseErr == nil && meta.Dtype != DtypeFloat16 && meta.Count > 0:
		return rgerrors.StoreCorruption(
			fmt.Sprintf("unsupported matrix dtype %q", meta.Dtype), nil)
	case parseErr != nil:
		// Structured-format corruption: the count is recoverable from the
		// mapping, so rebuild the sidecar instead of resetting the matrix.
		s.logger.Warn("sidecar_rebuilt",
			slog.String("path", s.opts.MetaFile),
			slog.String("reason", parseErr.Error()),
			slog.Int("recovered_count", mappedRows))
		meta = sidecar{Dim: s.opts.Dimensions, Count: mappedRows, Dtype: DtypeFloat16}
	}

	// A stale count (crash between matrix flush and sidecar write, or a
	// torn tail append) is healed by trusting the committed mapping.
	if meta.Count != mappedRows {
		s.logger.Warn("vector_count_repaired",
			slog.Int("sidecar_count", meta.Count),
			slog.Int("mapped_count", mappedRows),
			slog.Int("rows_on_disk", rowsOnDisk))
		meta.Count = mappedRows
	}
	meta.Dim = s.opts.Dimensions
	meta.Dtype = DtypeFloat16

	s.meta = meta
	return s.writeSidecar()
}

// readSidecar loads the metadata file. A missing file reads as an empty
// store, not an error.
func (s *Store) readSidecar() (sidecar, error) {
	data, err := os.ReadFile(s.opts.MetaFile)
	if os.IsNotExist(err) {
		return sidecar{Dim: s.opts.Dimensions, Count: 0, Dtype: DtypeFloat16}, nil
	}
	if err != nil {
		return sidecar{}, err
	}
	var meta sidecar
	if err := json.Unmarshal(data, &meta); err != nil {
		return sidecar{}, err
	}
	if meta.Dim <= 0 || meta.Count < 0 {
		return sidecar{}, fmt.Errorf("sidecar fields out of range: dim=%d count=%d", meta.Dim, meta.Count)
	}
	return meta, nil
}

// writeSidecar persists the metadata atomically (write temp, rename).
func (s *Store) writeSidecar() error {
	data, err := json.Marshal(s.meta)
	if err != nil {
		return rgerrors.InternalError("failed to encode sidecar", err)
	}
	tmp := s.opts.MetaFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return diskError("failed to write sidecar", err)
	}
	if err := os.Rename(tmp, s.opts.MetaFile); err != nil {
		return diskError("failed to replace sidecar", err)
	}
	return nil
}

// Count returns the number of vector rows (live + tombstoned).
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta.Count
}

// Dimensions returns the embedding dimension.
func (s *Store) Dimensions() int {
	return s.opts.Dimensions
}

// Stats reports store-level counts for diagnostics.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Stats{}, rgerrors.InternalError("store is closed", nil)
	}

	st := Stats{VectorCount: s.meta.Count, Dimensions: s.meta.Dim}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&st.ChunkCount); err != nil {
		return Stats{}, rgerrors.StoreCorruption("failed to count chunks", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tombstones`).Scan(&st.TombstoneCount); err != nil {
		return Stats{}, rgerrors.StoreCorruption("failed to count tombstones", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT source) FROM chunks`).Scan(&st.SourceCount); err != nil {
		return Stats{}, rgerrors.StoreCorruption("failed to count sources", err)
	}
	return st, nil
}

// Close checkpoints and closes the database and matrix. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		if err := s.db.Close(); err != nil {
			firstErr = err
		}
	}
	if s.matrix != nil {
		if err := s.matrix.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
