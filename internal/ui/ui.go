// Package ui renders indexing progress and run summaries for the CLI. Two
// renderers share one interface: a styled one for interactive terminals and
// a plain one for pipes and CI logs. The choice is automatic from the
// output's TTY status.
package ui

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/hybridrag/hybridrag/internal/index"
)

// Renderer displays indexing progress.
type Renderer interface {
	// FileDone reports one file's outcome as the run progresses.
	FileDone(ev index.FileEvent)

	// RunFinished renders the end-of-run summary.
	RunFinished(res *index.Result)

	// Info prints a free-form status line.
	Info(msg string)
}

// NewRenderer picks the styled renderer when out is an interactive
// terminal, the plain one otherwise.
func NewRenderer(out io.Writer) Renderer {
	if f, ok := out.(*os.File); ok {
		if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
			return NewStyledRenderer(out)
		}
	}
	return NewPlainRenderer(out)
}
