package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitter_EmptyText(t *testing.T) {
	s := NewSplitter()

	assert.Nil(t, s.Split("doc.txt", ""))
	assert.Nil(t, s.Split("doc.txt", "\n  \n\t\n"))
}

func TestSplitter_SingleParagraph(t *testing.T) {
	s := NewSplitter()

	chunks := s.Split("guide.md", "camera lens replacement guide\nstep one, remove the mount")

	require.Len(t, chunks, 1)
	c := chunks[0]
	assert.Equal(t, "guide.md#000", c.ID)
	assert.Equal(t, "guide.md", c.Source)
	assert.Equal(t, 0, c.Ordinal)
	assert.Equal(t, "camera lens replacement guide\nstep one, remove the mount", c.Content)
	assert.Equal(t, 1, c.StartLine)
	assert.Equal(t, 2, c.EndLine)
}

func TestSplitter_PacksParagraphsUpToLimit(t *testing.T) {
	// Given: three 7-token paragraphs against a 20-token limit
	p1 := strings.Repeat("a", 28)
	p2 := strings.Repeat("b", 28)
	p3 := strings.Repeat("c", 28)
	text := p1 + "\n\n" + p2 + "\n\n" + p3
	s := NewSplitterWithOptions(Options{MaxTokens: 20, OverlapTokens: -1})

	chunks := s.Split("notes.txt", text)

	// Then: the first two fit together, the third overflows into its own
	require.Len(t, chunks, 2)
	assert.Equal(t, p1+"\n\n"+p2, chunks[0].Content)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 3, chunks[0].EndLine)
	assert.Equal(t, p3, chunks[1].Content)
	assert.Equal(t, 5, chunks[1].StartLine)
	assert.Equal(t, 5, chunks[1].EndLine)
	assert.Equal(t, "notes.txt#000", chunks[0].ID)
	assert.Equal(t, "notes.txt#001", chunks[1].ID)
}

func TestSplitter_OverlapRepeatsTrailingParagraph(t *testing.T) {
	p1 := strings.Repeat("a", 28)
	p2 := strings.Repeat("b", 28)
	p3 := strings.Repeat("c", 28)
	text := p1 + "\n\n" + p2 + "\n\n" + p3
	s := NewSplitterWithOptions(Options{MaxTokens: 20, OverlapTokens: 8})

	chunks := s.Split("notes.txt", text)

	// The closing paragraph of the first chunk reopens the second
	require.Len(t, chunks, 2)
	assert.Equal(t, p1+"\n\n"+p2, chunks[0].Content)
	assert.Equal(t, p2+"\n\n"+p3, chunks[1].Content)
	assert.Equal(t, 3, chunks[1].StartLine, "overlap keeps the repeated paragraph's real line")
	assert.Equal(t, 5, chunks[1].EndLine)
}

func TestSplitter_OversizedParagraphSplitsIntoWindows(t *testing.T) {
	// Given: one 100-char paragraph against a 40-char window
	text := strings.Repeat("x", 100)
	s := NewSplitterWithOptions(Options{MaxTokens: 10, OverlapTokens: -1})

	chunks := s.Split("big.txt", text)

	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0].Content, 40)
	assert.Len(t, chunks[1].Content, 40)
	assert.Len(t, chunks[2].Content, 20)
	for i, c := range chunks {
		assert.Equal(t, i, c.Ordinal)
		assert.Equal(t, 1, c.StartLine, "windows share the paragraph's line range")
		assert.Equal(t, 1, c.EndLine)
	}
}

func TestSplitter_ShortParagraphBeforeOversized(t *testing.T) {
	short := strings.Repeat("s", 8)
	big := strings.Repeat("x", 100)
	s := NewSplitterWithOptions(Options{MaxTokens: 10, OverlapTokens: -1})

	chunks := s.Split("mixed.txt", short+"\n\n"+big)

	require.Len(t, chunks, 4)
	assert.Equal(t, short, chunks[0].Content)
	assert.Len(t, chunks[1].Content, 40)
	assert.Equal(t, "mixed.txt#003", chunks[3].ID)
}

func TestSplitter_WindowsCutAtRuneBoundaries(t *testing.T) {
	text := strings.Repeat("日", 50)
	s := NewSplitterWithOptions(Options{MaxTokens: 10, OverlapTokens: -1})

	chunks := s.Split("cjk.txt", text)

	require.Len(t, chunks, 2)
	assert.Equal(t, 40, utf8.RuneCountInString(chunks[0].Content))
	assert.Equal(t, 10, utf8.RuneCountInString(chunks[1].Content))
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c.Content))
	}
}

func TestSplitter_WhitespaceOnlyLinesSeparateParagraphs(t *testing.T) {
	s := NewSplitter()

	chunks := s.Split("doc.txt", "para one\n \t \npara two")

	require.Len(t, chunks, 1)
	assert.Equal(t, "para one\n\npara two", chunks[0].Content)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 3, chunks[0].EndLine)
}

func TestNewSplitterWithOptions_ClampsOverlap(t *testing.T) {
	// Overlap at or above the chunk limit would never make progress
	s := NewSplitterWithOptions(Options{MaxTokens: 10, OverlapTokens: 50})

	assert.Equal(t, 5, s.opts.OverlapTokens)
}
