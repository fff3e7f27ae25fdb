// Package store persists chunks, their full-text index, and their embedding
// vectors. Chunks live in a SQLite database (with an FTS5 index kept in sync
// by triggers); vectors live in a contiguous row-major float16 matrix on disk
// with a small JSON sidecar describing its shape.
package store

import (
	"log/slog"
	"time"
)

// Matrix layout constants.
const (
	// bytesPerValue is the width of one float16 matrix cell.
	bytesPerValue = 2

	// DtypeFloat16 is the only supported matrix element type.
	DtypeFloat16 = "float16"

	// DefaultBlockRows is the default number of rows per vector block scan.
	DefaultBlockRows = 1024
)

// Options configures a Store.
type Options struct {
	// DatabaseFile is the SQLite database path.
	DatabaseFile string

	// MatrixFile is the float16 vector matrix path.
	MatrixFile string

	// MetaFile is the JSON sidecar path.
	MetaFile string

	// Dimensions is the embedding dimension expected by the caller, read
	// from the embedder at load time. A stored matrix with a different
	// dimension is rejected as corrupt.
	Dimensions int

	// Logger receives structured events. Nil means slog.Default().
	Logger *slog.Logger
}

// sidecar is the persisted matrix metadata.
type sidecar struct {
	Dim   int    `json:"dim"`
	Count int    `json:"count"`
	Dtype string `json:"dtype"`
}

// Signature is a lightweight per-file change signature.
type Signature struct {
	Source    string
	Size      int64
	MTime     int64
	IndexedAt time.Time
}

// FTSHit is one full-text search result.
type FTSHit struct {
	ChunkID string
	Score   float64
}

// RunCounts summarizes one indexing run.
type RunCounts struct {
	FilesSeen    int
	FilesSkipped int
	FilesParsed  int
	ChunksAdded  int
}

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// Stats reports store-level counts for diagnostics.
type Stats struct {
	ChunkCount     int
	VectorCount    int
	TombstoneCount int
	Dimensions     int
	SourceCount    int
}
