// Package chunk splits document text into overlapping passages whose
// boundaries respect natural language structure when possible. Chunks carry
// deterministic identifiers so re-ingesting the same content is idempotent.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Default chunking parameters.
const (
	DefaultChunkSize     = 1200
	DefaultOverlap       = 200
	DefaultMaxHeadingLen = 120

	// headingLookback is how far back from a chunk start the heading scan
	// reaches.
	headingLookback = 2000
)

// Chunk is one contiguous passage extracted from a source file.
type Chunk struct {
	// ID is deterministic: derived from source path, byte range, and
	// content hash. Stable across re-indexing runs and platforms.
	ID string

	// Text is the payload, including the optional [SECTION] prefix.
	Text string

	// Source is the originating file path.
	Source string

	// SeqIndex is the 0-based position of this chunk within its file.
	SeqIndex int

	// Start and End delimit the byte range in the source text.
	Start int
	End   int

	// Heading is the section heading found by the backward scan, if any.
	Heading string

	// Metadata carries format-specific key-value pairs from the parser.
	Metadata map[string]string
}

// Chunker splits text into overlapping chunks.
type Chunker struct {
	// Size is the target window in bytes.
	Size int
	// Overlap is how many bytes consecutive chunks share.
	Overlap int
	// MaxHeadingLen caps the length of a prepended heading.
	MaxHeadingLen int
}

// New creates a Chunker, falling back to defaults for non-positive values.
func New(size, overlap, maxHeadingLen int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultOverlap
		if overlap >= size {
			overlap = size / 4
		}
	}
	if maxHeadingLen <= 0 {
		maxHeadingLen = DefaultMaxHeadingLen
	}
	return &Chunker{Size: size, Overlap: overlap, MaxHeadingLen: maxHeadingLen}
}

// Split chunks the given text. Zero-length input emits no chunks; text at or
// below the window size emits exactly one. Chunks never cross file
// boundaries.
func (c *Chunker) Split(source, text string) []Chunk {
	if len(text) == 0 {
		return nil
	}

	var chunks []Chunk
	pos := 0
	seq := 0

	for pos < len(text) {
		end := pos + c.Size
		if end >= len(text) {
			end = len(text)
		} else {
			end = c.findBoundary(text, pos, end)
		}

		chunks = append(chunks, c.emit(source, text, seq, pos, end))
		seq++

		if end >= len(text) {
			break
		}

		// Step back by the overlap from the actual cut so no text is lost
		// when the boundary landed short of the full window.
		next := end - c.Overlap
		if next <= pos {
			next = pos + 1
		}
		pos = next
	}

	return chunks
}

// findBoundary seeks the strongest natural boundary within the second half
// of the window [pos, limit). Priority: paragraph break, sentence terminator
// followed by whitespace, any newline. Falls back to a hard cut at limit.
func (c *Chunker) findBoundary(text string, pos, limit int) int {
	half := pos + c.Size/2
	window := text[half:limit]

	// Paragraph break: cut after the blank line.
	if i := strings.LastIndex(window, "\n\n"); i >= 0 {
		return half + i + 2
	}

	// Sentence terminator followed by whitespace: cut after the terminator.
	for i := len(window) - 2; i >= 0; i-- {
		if isSentenceEnd(window[i]) && isSpace(window[i+1]) {
			return half + i + 1
		}
	}

	// Any newline.
	if i := strings.LastIndexByte(window, '\n'); i >= 0 {
		return half + i + 1
	}

	return limit
}

// emit builds a Chunk for text[start:end], prepending the nearest heading
// when one is found within the lookback window.
func (c *Chunker) emit(source, text string, seq, start, end int) Chunk {
	raw := text[start:end]
	heading := c.findHeading(text, start)

	payload := raw
	if heading != "" {
		payload = "[SECTION] " + heading + "\n" + raw
	}

	return Chunk{
		ID:       ChunkID(source, start, end, raw),
		Text:     payload,
		Source:   source,
		SeqIndex: seq,
		Start:    start,
		End:      end,
		Heading:  heading,
	}
}

// findHeading scans backward up to headingLookback bytes from start for the
// nearest line that looks like a section heading.
func (c *Chunker) findHeading(text string, start int) string {
	from := start - headingLookback
	if from < 0 {
		from = 0
	}

	region := text[from:start]
	lines := strings.Split(region, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || len(line) > c.MaxHeadingLen {
			continue
		}
		if isHeading(line) {
			return line
		}
	}
	return ""
}

// isHeading reports whether a trimmed line matches a heading pattern:
// all-uppercase line, numbered section, or a line ending with a colon.
func isHeading(line string) bool {
	if strings.HasSuffix(line, ":") {
		return true
	}
	if numberedSection(line) {
		return true
	}
	return allUppercase(line)
}

// numberedSection matches lines like "3 Overview" or "2.4.1 Tolerances".
func numberedSection(line string) bool {
	i := 0
	digits := 0
	for i < len(line) {
		ch := line[i]
		switch {
		case ch >= '0' && ch <= '9':
			digits++
			i++
		case ch == '.' && digits > 0 && i+1 < len(line) && line[i+1] >= '0' && line[i+1] <= '9':
			i++
		default:
			goto done
		}
	}
done:
	return digits > 0 && i < len(line) && (line[i] == ' ' || line[i] == '\t')
}

// allUppercase reports whether the line contains letters and none of them
// are lowercase.
func allUppercase(line string) bool {
	hasLetter := false
	for _, r := range line {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if (r >= 'A' && r <= 'Z') || r > 127 {
			hasLetter = true
		}
	}
	return hasLetter
}

func isSentenceEnd(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// ChunkID derives the deterministic chunk identifier from the source path,
// byte range, and a hash of the raw content. Identical input at identical
// offsets yields an identical ID across runs and platforms.
func ChunkID(source string, start, end int, raw string) string {
	content := sha256.Sum256([]byte(raw))
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%d\x00%s", source, start, end, hex.EncodeToString(content[:]))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
