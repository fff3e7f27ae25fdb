// Package index walks a source folder, detects changed files, and feeds them
// through the parse -> chunk -> embed -> store pipeline. Runs are resumable:
// the per-file signature is written only after all of the file's chunks are
// committed, and chunk IDs are deterministic, so a crashed run re-processes
// at most the file it was working on.
package index

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/hybridrag/hybridrag/internal/chunk"
	"github.com/hybridrag/hybridrag/internal/config"
	"github.com/hybridrag/hybridrag/internal/embed"
	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
	"github.com/hybridrag/hybridrag/internal/parser"
	"github.com/hybridrag/hybridrag/internal/store"
)

const (
	// maxTextBlockChars bounds the text window handed to the chunker so a
	// single huge file cannot blow up peak memory.
	maxTextBlockChars = 200_000

	// binaryThreshold is the non-printable rune ratio above which extracted
	// text is rejected as binary garbage.
	binaryThreshold = 0.30

	// lockFileName is the writer lock inside the data directory.
	lockFileName = ".index.lock"

	// embedWorkers bounds the number of concurrent embedding batches.
	embedWorkers = 4
)

// FileEvent describes the outcome of one file for the progress callback.
type FileEvent struct {
	Path string

	// Action is one of "indexed", "skipped", "failed", "deleted".
	Action string

	// Chunks is the number of chunks inserted for an indexed file.
	Chunks int

	// Detail carries the skip reason or failure diagnostic.
	Detail string
}

// Result summarizes a completed indexing run.
type Result struct {
	RunID          string
	Counts         store.RunCounts
	SourcesDeleted int
	Duration       time.Duration
}

// Runner executes indexing runs against a single store.
type Runner struct {
	store    *store.Store
	embedder embed.Embedder
	chunker  *chunk.Chunker
	parsers  *parser.Registry
	cfg      *config.Config
	logger   *slog.Logger

	// Progress, when set, is invoked once per file at file boundaries.
	Progress func(FileEvent)

	retry rgerrors.RetryConfig
}

// NewRunner wires an indexing runner. All dependencies are required.
func NewRunner(st *store.Store, embedder embed.Embedder, chunker *chunk.Chunker, parsers *parser.Registry, cfg *config.Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	retry := rgerrors.DefaultRetryConfig()
	retry.InitialDelay = 200 * time.Millisecond
	retry.MaxDelay = 2 * time.Second
	return &Runner{
		store:    st,
		embedder: embedder,
		chunker:  chunker,
		parsers:  parsers,
		cfg:      cfg,
		logger:   logger,
		retry:    retry,
	}
}

// Run indexes the configured source folder. It holds the writer lock for the
// whole run, records a run row, and reconciles deleted files at the end.
// Cancellation is honored between files; the run row is then marked
// cancelled and committed work stays valid.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	started := time.Now()

	root := r.cfg.Paths.SourceFolder
	info, err := os.Stat(root)
	if err != nil {
		return nil, rgerrors.New(rgerrors.ErrCodeFileNotFound,
			fmt.Sprintf("source folder %s does not exist", root), err)
	}
	if !info.IsDir() {
		return nil, rgerrors.ValidationError(
			fmt.Sprintf("source folder %s is not a directory", root), nil)
	}

	unlock, err := r.acquireLock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	runID, err := r.store.BeginRun(ctx)
	if err != nil {
		return nil, err
	}
	r.logger.Info("index_run_started",
		slog.String("run_id", runID),
		slog.String("source_folder", root))

	result := &Result{RunID: runID}
	runErr := r.runLocked(ctx, root, result)

	status := store.RunStatusCompleted
	switch {
	case ctx.Err() != nil:
		status = store.RunStatusCancelled
	case runErr != nil:
		status = store.RunStatusFailed
	}
	if ferr := r.store.FinishRun(context.WithoutCancel(ctx), runID, status, result.Counts); ferr != nil {
		r.logger.Warn("index_run_record_failed", slog.String("error", ferr.Error()))
	}

	result.Duration = time.Since(started)
	r.logger.Info("index_run_finished",
		slog.String("run_id", runID),
		slog.String("status", status),
		slog.Int("files_seen", result.Counts.FilesSeen),
		slog.Int("files_skipped", result.Counts.FilesSkipped),
		slog.Int("chunks_added", result.Counts.ChunksAdded),
		slog.Int("sources_deleted", result.SourcesDeleted),
		slog.Int64("duration_ms", result.Duration.Milliseconds()))

	if runErr != nil {
		return result, runErr
	}
	return result, nil
}

// acquireLock takes the single-writer flock in the data directory. A held
// lock means another indexing run is active; that is an immediate error, not
// a wait.
func (r *Runner) acquireLock() (func(), error) {
	dataDir := filepath.Dir(r.cfg.Paths.DatabaseFile)
	lock := flock.New(filepath.Join(dataDir, lockFileName))

	locked, err := lock.TryLock()
	if err != nil {
		return nil, rgerrors.New(rgerrors.ErrCodeIndexFailed, "acquiring writer lock", err)
	}
	if !locked {
		return nil, rgerrors.New(rgerrors.ErrCodeIndexFailed,
			"another indexing run holds the writer lock", nil).
			WithDetail("lock_file", lock.Path()).
			WithRemedy("wait for the other run to finish, or remove a stale lock file")
	}
	return func() { _ = lock.Unlock() }, nil
}

// runLocked is the body of a run, executed under the writer lock.
func (r *Runner) runLocked(ctx context.Context, root string, result *Result) error {
	files, err := r.collectFiles(root)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(files))
	for _, path := range files {
		// Cancellation is checked at file boundaries only; a file in flight
		// finishes so its signature stays consistent.
		if ctx.Err() != nil {
			return ctx.Err()
		}

		seen[path] = true
		result.Counts.FilesSeen++

		if err := r.indexFile(ctx, path, result); err != nil {
			if !rgerrors.IsFatal(err) && ctx.Err() == nil {
				// Per-file failures are diagnostics, not run failures.
				result.Counts.FilesSkipped++
				r.emit(FileEvent{Path: path, Action: "failed", Detail: err.Error()})
				r.logger.Warn("index_file_failed",
					slog.String("path", path),
					slog.String("error", err.Error()))
				continue
			}
			return err
		}
	}

	deleted, err := r.reconcileDeleted(ctx, seen)
	if err != nil {
		return err
	}
	result.SourcesDeleted = deleted
	return nil
}

// collectFiles walks the source tree and returns the supported files in a
// deterministic order. Hidden directories are not descended into.
func (r *Runner) collectFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if _, ok := r.parsers.Lookup(path); ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, rgerrors.New(rgerrors.ErrCodeIndexFailed, "walking source folder", err)
	}
	sort.Strings(files)
	return files, nil
}

// indexFile runs the per-file pipeline: signature check, parse, validate,
// chunk in bounded blocks, embed, insert, then record the signature.
func (r *Runner) indexFile(ctx context.Context, path string, result *Result) error {
	info, err := os.Stat(path)
	if err != nil {
		return rgerrors.New(rgerrors.ErrCodeFileNotFound, "stat failed", err)
	}

	sig := store.Signature{
		Source: path,
		Size:   info.Size(),
		MTime:  info.ModTime().Unix(),
	}
	prev, found, err := r.store.GetSignature(ctx, path)
	if err != nil {
		return err
	}
	if found && prev.Size == sig.Size && prev.MTime == sig.MTime {
		result.Counts.FilesSkipped++
		r.emit(FileEvent{Path: path, Action: "skipped", Detail: "unchanged"})
		return nil
	}

	// A re-indexed file may have shrunk or shifted; drop its old chunks so
	// stale passages cannot surface. Deterministic IDs make the re-insert of
	// unchanged chunks free.
	if found {
		if _, err := r.store.DeleteBySource(ctx, path); err != nil {
			return err
		}
	}

	parse, ok := r.parsers.Lookup(path)
	if !ok {
		result.Counts.FilesSkipped++
		r.emit(FileEvent{Path: path, Action: "skipped", Detail: "unsupported extension"})
		return nil
	}

	text, diags := parse(path)
	if diags.HasError() {
		result.Counts.FilesSkipped++
		r.emit(FileEvent{Path: path, Action: "skipped", Detail: diags.Error()})
		r.logger.Info("index_file_skipped",
			slog.String("path", path),
			slog.String("reason", diags.Error()))
		return nil
	}
	if strings.TrimSpace(text) == "" {
		result.Counts.FilesSkipped++
		r.emit(FileEvent{Path: path, Action: "skipped", Detail: "empty after parsing"})
		return nil
	}
	if parser.LooksBinary(text, binaryThreshold) {
		result.Counts.FilesSkipped++
		r.emit(FileEvent{Path: path, Action: "skipped", Detail: "binary content"})
		r.logger.Info("index_file_skipped",
			slog.String("path", path),
			slog.String("reason", "binary content"))
		return nil
	}

	added, err := r.ingestText(ctx, path, text)
	if err != nil {
		return err
	}

	// The signature is written last: a crash before this point leaves the
	// file looking unindexed, and the next run redoes it idempotently.
	sig.IndexedAt = time.Now().UTC()
	if err := r.store.PutSignature(ctx, sig); err != nil {
		return err
	}

	result.Counts.FilesParsed++
	result.Counts.ChunksAdded += added
	r.emit(FileEvent{Path: path, Action: "indexed", Chunks: added})
	return nil
}

// ingestText chunks, embeds, and inserts text in bounded blocks, returning
// the number of chunks newly inserted.
func (r *Runner) ingestText(ctx context.Context, path, text string) (int, error) {
	added := 0
	seqBase := 0
	for off := 0; off < len(text); off += maxTextBlockChars {
		end := off + maxTextBlockChars
		if end > len(text) {
			end = len(text)
		}
		block := text[off:end]

		chunks := r.chunker.Split(path, block)
		rebase(chunks, path, block, off, seqBase)
		seqBase += len(chunks)

		n, err := r.ingestChunks(ctx, chunks)
		if err != nil {
			return added, err
		}
		added += n
	}
	return added, nil
}

// rebase shifts block-relative chunk offsets to whole-file offsets and
// re-derives the deterministic IDs from the corrected ranges.
func rebase(chunks []chunk.Chunk, source, block string, off, seqBase int) {
	if off == 0 && seqBase == 0 {
		return
	}
	for i := range chunks {
		c := &chunks[i]
		raw := block[c.Start:c.End]
		c.Start += off
		c.End += off
		c.SeqIndex += seqBase
		c.ID = chunk.ChunkID(source, c.Start, c.End, raw)
	}
}

// ingestChunks embeds one block's chunks with a bounded worker pool, then
// inserts them in a single batch. The insert is retried on transient errors.
func (r *Runner) ingestChunks(ctx context.Context, chunks []chunk.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	batchSize := r.cfg.Embedding.BatchSize
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}

	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedWorkers)

	for start := 0; start < len(chunks); start += batchSize {
		start := start
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := start; i < end; i++ {
				texts[i-start] = chunks[i].Text
			}
			vecs, err := r.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return err
			}
			copy(vectors[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var inserted int
	err := rgerrors.Retry(ctx, r.retry, func() error {
		n, err := r.store.InsertBatch(ctx, chunks, vectors)
		inserted = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// reconcileDeleted tombstones every previously indexed source that the walk
// no longer found on disk.
func (r *Runner) reconcileDeleted(ctx context.Context, seen map[string]bool) (int, error) {
	sigs, err := r.store.AllSignatures(ctx)
	if err != nil {
		return 0, err
	}

	var gone []string
	for source := range sigs {
		if !seen[source] {
			gone = append(gone, source)
		}
	}
	sort.Strings(gone)

	for _, source := range gone {
		if _, err := r.store.DeleteBySource(ctx, source); err != nil {
			return 0, err
		}
		r.emit(FileEvent{Path: source, Action: "deleted"})
		r.logger.Info("index_source_deleted", slog.String("path", source))
	}
	return len(gone), nil
}

func (r *Runner) emit(ev FileEvent) {
	if r.Progress != nil {
		r.Progress(ev)
	}
}
