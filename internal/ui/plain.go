package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hybridrag/hybridrag/internal/index"
)

// PlainRenderer writes one line per event with no ANSI sequences, suitable
// for pipes and CI logs.
type PlainRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

var _ Renderer = (*PlainRenderer)(nil)

// NewPlainRenderer creates a plain-text renderer.
func NewPlainRenderer(out io.Writer) *PlainRenderer {
	return &PlainRenderer{out: out}
}

// FileDone implements Renderer.
func (r *PlainRenderer) FileDone(ev index.FileEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Action {
	case "indexed":
		fmt.Fprintf(r.out, "indexed  %s (%d chunks)\n", ev.Path, ev.Chunks)
	case "deleted":
		fmt.Fprintf(r.out, "deleted  %s\n", ev.Path)
	default:
		fmt.Fprintf(r.out, "%-8s %s: %s\n", ev.Action, ev.Path, ev.Detail)
	}
}

// RunFinished implements Renderer.
func (r *PlainRenderer) RunFinished(res *index.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(r.out, "run %s finished in %s\n", res.RunID, res.Duration.Round(time.Millisecond))
	fmt.Fprintf(r.out, "  files seen:    %d\n", res.Counts.FilesSeen)
	fmt.Fprintf(r.out, "  files indexed: %d\n", res.Counts.FilesParsed)
	fmt.Fprintf(r.out, "  files skipped: %d\n", res.Counts.FilesSkipped)
	fmt.Fprintf(r.out, "  chunks added:  %d\n", res.Counts.ChunksAdded)
	if res.SourcesDeleted > 0 {
		fmt.Fprintf(r.out, "  sources removed: %d\n", res.SourcesDeleted)
	}
}

// Info implements Renderer.
func (r *PlainRenderer) Info(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, msg)
}
