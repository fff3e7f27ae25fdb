package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hybridrag/hybridrag/internal/index"
)

// Styles for the interactive renderer.
var (
	styleIndexed = lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // green
	styleSkipped = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	styleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
	styleDeleted = lipgloss.NewStyle().Foreground(lipgloss.Color("13")) // magenta
	styleDim     = lipgloss.NewStyle().Faint(true)
	styleSummary = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
)

// StyledRenderer writes colored output for interactive terminals.
type StyledRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

var _ Renderer = (*StyledRenderer)(nil)

// NewStyledRenderer creates a color renderer.
func NewStyledRenderer(out io.Writer) *StyledRenderer {
	return &StyledRenderer{out: out}
}

// FileDone implements Renderer.
func (r *StyledRenderer) FileDone(ev index.FileEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Action {
	case "indexed":
		fmt.Fprintf(r.out, "%s %s %s\n",
			styleIndexed.Render("+"), ev.Path,
			styleDim.Render(fmt.Sprintf("(%d chunks)", ev.Chunks)))
	case "skipped":
		fmt.Fprintf(r.out, "%s %s %s\n",
			styleSkipped.Render("~"), ev.Path, styleDim.Render(ev.Detail))
	case "deleted":
		fmt.Fprintf(r.out, "%s %s\n", styleDeleted.Render("-"), ev.Path)
	default:
		fmt.Fprintf(r.out, "%s %s %s\n",
			styleFailed.Render("!"), ev.Path, styleDim.Render(ev.Detail))
	}
}

// RunFinished implements Renderer.
func (r *StyledRenderer) RunFinished(res *index.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	body := fmt.Sprintf(
		"run %s (%s)\nfiles seen %d   indexed %d   skipped %d\nchunks added %d   sources removed %d",
		res.RunID, res.Duration.Round(time.Millisecond),
		res.Counts.FilesSeen, res.Counts.FilesParsed, res.Counts.FilesSkipped,
		res.Counts.ChunksAdded, res.SourcesDeleted)
	fmt.Fprintln(r.out, styleSummary.Render(body))
}

// Info implements Renderer.
func (r *StyledRenderer) Info(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, styleDim.Render(msg))
}
