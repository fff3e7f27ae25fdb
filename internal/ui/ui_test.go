package ui

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hybridrag/hybridrag/internal/index"
	"github.com/hybridrag/hybridrag/internal/store"
)

func sampleResult() *index.Result {
	return &index.Result{
		RunID: "000007-abc",
		Counts: store.RunCounts{
			FilesSeen:    10,
			FilesSkipped: 3,
			FilesParsed:  7,
			ChunksAdded:  42,
		},
		SourcesDeleted: 1,
		Duration:       1500 * time.Millisecond,
	}
}

func TestPlainRenderer_FileEvents(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainRenderer(&buf)

	r.FileDone(index.FileEvent{Path: "a.txt", Action: "indexed", Chunks: 5})
	r.FileDone(index.FileEvent{Path: "b.bin", Action: "skipped", Detail: "binary content"})
	r.FileDone(index.FileEvent{Path: "c.txt", Action: "failed", Detail: "stat failed"})
	r.FileDone(index.FileEvent{Path: "d.txt", Action: "deleted"})

	out := buf.String()
	assert.Contains(t, out, "indexed  a.txt (5 chunks)")
	assert.Contains(t, out, "skipped  b.bin: binary content")
	assert.Contains(t, out, "failed   c.txt: stat failed")
	assert.Contains(t, out, "deleted  d.txt")
	assert.NotContains(t, out, "\x1b[", "plain output carries no ANSI escapes")
}

func TestPlainRenderer_RunSummary(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainRenderer(&buf)

	r.RunFinished(sampleResult())

	out := buf.String()
	assert.Contains(t, out, "run 000007-abc finished in 1.5s")
	assert.Contains(t, out, "files seen:    10")
	assert.Contains(t, out, "chunks added:  42")
	assert.Contains(t, out, "sources removed: 1")
}

func TestStyledRenderer_CarriesContent(t *testing.T) {
	var buf bytes.Buffer
	r := NewStyledRenderer(&buf)

	r.FileDone(index.FileEvent{Path: "a.txt", Action: "indexed", Chunks: 5})
	r.RunFinished(sampleResult())
	r.Info("reindex scheduled")

	out := buf.String()
	assert.Contains(t, out, "a.txt")
	assert.Contains(t, out, "000007-abc")
	assert.Contains(t, out, "chunks added 42")
	assert.Contains(t, out, "reindex scheduled")
}

func TestNewRenderer_NonTTYIsPlain(t *testing.T) {
	var buf bytes.Buffer
	_, plain := NewRenderer(&buf).(*PlainRenderer)
	assert.True(t, plain, "non-file writers always get the plain renderer")
}
