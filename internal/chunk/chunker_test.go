package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_EmptyInput(t *testing.T) {
	c := New(100, 20, 0)
	assert.Empty(t, c.Split("a.txt", ""))
}

func TestSplit_SingleCharacter(t *testing.T) {
	c := New(100, 20, 0)
	chunks := c.Split("a.txt", "x")
	require.Len(t, chunks, 1)
	assert.Equal(t, "x", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 1, chunks[0].End)
}

func TestSplit_JustUnderWindowIsOneChunk(t *testing.T) {
	c := New(100, 20, 0)
	text := strings.Repeat("a", 99)
	chunks := c.Split("a.txt", text)
	assert.Len(t, chunks, 1)
}

func TestSplit_JustOverWindowIsTwoChunksWithOverlap(t *testing.T) {
	c := New(100, 20, 0)
	text := strings.Repeat("a", 101)
	chunks := c.Split("a.txt", text)
	require.Len(t, chunks, 2)

	// Second chunk starts overlap bytes before the first chunk's end.
	assert.Equal(t, chunks[0].End-c.Overlap, chunks[1].Start)
	assert.Equal(t, 101, chunks[1].End)
}

func TestSplit_CoversFullTextWithoutGaps(t *testing.T) {
	c := New(120, 30, 0)
	text := strings.Repeat("lorem ipsum dolor sit amet. ", 60)
	chunks := c.Split("doc.txt", text)
	require.NotEmpty(t, chunks)

	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, len(text), chunks[len(chunks)-1].End)
	for i := 1; i < len(chunks); i++ {
		assert.LessOrEqual(t, chunks[i].Start, chunks[i-1].End,
			"chunk %d must start at or before the previous end", i)
		assert.Greater(t, chunks[i].End, chunks[i-1].End)
	}
}

func TestSplit_PrefersParagraphBoundary(t *testing.T) {
	// Paragraph break in the second half of the window.
	text := strings.Repeat("a", 70) + "\n\n" + strings.Repeat("b", 200)
	c := New(100, 10, 0)
	chunks := c.Split("doc.txt", text)
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, 72, chunks[0].End, "cut should land after the blank line")
}

func TestSplit_PrefersSentenceBoundaryOverNewline(t *testing.T) {
	text := strings.Repeat("a", 60) + ". " + strings.Repeat("b", 10) + "\n" + strings.Repeat("c", 200)
	c := New(100, 10, 0)
	chunks := c.Split("doc.txt", text)
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, 61, chunks[0].End, "cut should land after the period")
}

func TestSplit_HardCutWithoutBoundaries(t *testing.T) {
	text := strings.Repeat("x", 250)
	c := New(100, 10, 0)
	chunks := c.Split("doc.txt", text)
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, 100, chunks[0].End)
}

func TestSplit_SequenceIndices(t *testing.T) {
	text := strings.Repeat("word ", 200)
	c := New(100, 20, 0)
	chunks := c.Split("doc.txt", text)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.SeqIndex)
		assert.Equal(t, "doc.txt", ch.Source)
	}
}

func TestSplit_HeadingPrepend(t *testing.T) {
	text := "SAFETY REQUIREMENTS\n" +
		strings.Repeat("The assembly shall be grounded. ", 10)
	c := New(150, 20, 0)
	chunks := c.Split("spec.txt", text)
	require.NotEmpty(t, chunks)

	// Later chunks pick up the heading found by the backward scan.
	last := chunks[len(chunks)-1]
	assert.Equal(t, "SAFETY REQUIREMENTS", last.Heading)
	assert.True(t, strings.HasPrefix(last.Text, "[SECTION] SAFETY REQUIREMENTS\n"))
}

func TestSplit_NumberedHeading(t *testing.T) {
	text := "2.4.1 Tolerances\n" + strings.Repeat("Tolerance on Part A is five percent. ", 10)
	c := New(150, 20, 0)
	chunks := c.Split("spec.txt", text)
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, "2.4.1 Tolerances", chunks[1].Heading)
}

func TestSplit_ColonHeading(t *testing.T) {
	text := "Installation notes:\n" + strings.Repeat("Mount the bracket first. ", 12)
	c := New(150, 20, 0)
	chunks := c.Split("spec.txt", text)
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, "Installation notes:", chunks[1].Heading)
}

func TestSplit_LongLineIsNotHeading(t *testing.T) {
	long := strings.Repeat("A", 300) + ":"
	text := long + "\n" + strings.Repeat("body text here. ", 20)
	c := New(150, 20, 50)
	chunks := c.Split("spec.txt", text)
	for _, ch := range chunks {
		assert.NotEqual(t, long, ch.Heading)
	}
}

func TestChunkID_Deterministic(t *testing.T) {
	a := ChunkID("doc.txt", 0, 100, "content")
	b := ChunkID("doc.txt", 0, 100, "content")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestChunkID_DiffersByRangeSourceAndContent(t *testing.T) {
	base := ChunkID("doc.txt", 0, 100, "content")
	assert.NotEqual(t, base, ChunkID("doc.txt", 1, 100, "content"))
	assert.NotEqual(t, base, ChunkID("doc.txt", 0, 101, "content"))
	assert.NotEqual(t, base, ChunkID("other.txt", 0, 100, "content"))
	assert.NotEqual(t, base, ChunkID("doc.txt", 0, 100, "different"))
}

func TestSplit_IdenticalInputIdenticalIDs(t *testing.T) {
	text := strings.Repeat("stable content. ", 100)
	c := New(200, 40, 0)

	first := c.Split("doc.txt", text)
	second := c.Split("doc.txt", text)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}
