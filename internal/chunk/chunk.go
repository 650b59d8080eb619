// Package chunk splits extracted document text into retrievable units.
// Chunks follow paragraph boundaries so a retrieved unit reads as a
// coherent passage, with configurable overlap between consecutive
// chunks to keep context that straddles a boundary findable.
package chunk

import (
	"fmt"
	"strings"
)

const (
	// DefaultMaxChunkTokens keeps chunks within embedder context with headroom.
	DefaultMaxChunkTokens = 512

	// DefaultOverlapTokens is carried from one chunk into the next.
	DefaultOverlapTokens = 64

	// TokensPerChar is a rough approximation: 4 chars per token.
	TokensPerChar = 4
)

// Chunk is one retrievable unit of a source document.
type Chunk struct {
	// ID is "<source>#<ordinal>", e.g. "docs/guide.md#002".
	ID      string
	Source  string
	Ordinal int
	Content string

	// StartLine and EndLine are 1-indexed and inclusive. Windows cut
	// from an oversized paragraph share that paragraph's line range.
	StartLine int
	EndLine   int
}

// Options configures the splitter. Zero fields take defaults; overlap
// can be disabled with a negative value.
type Options struct {
	MaxTokens     int
	OverlapTokens int
}

// Splitter turns document text into paragraph-bounded chunks.
type Splitter struct {
	opts Options
}

// NewSplitter creates a splitter with default options.
func NewSplitter() *Splitter {
	return NewSplitterWithOptions(Options{})
}

// NewSplitterWithOptions creates a splitter with custom limits.
func NewSplitterWithOptions(opts Options) *Splitter {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	if opts.OverlapTokens < 0 {
		opts.OverlapTokens = 0
	}
	if opts.OverlapTokens >= opts.MaxTokens {
		opts.OverlapTokens = opts.MaxTokens / 2
	}
	return &Splitter{opts: opts}
}

// paragraph is a blank-line delimited block with its line range.
type paragraph struct {
	content   string
	startLine int
	endLine   int
	tokens    int
}

// Split chunks text from source. Paragraphs pack greedily up to the
// token limit; when a chunk closes, trailing paragraphs within the
// overlap budget repeat at the start of the next one. Empty text
// yields no chunks.
func (s *Splitter) Split(source, text string) []Chunk {
	paras := parseParagraphs(text)
	if len(paras) == 0 {
		return nil
	}

	var (
		chunks    []Chunk
		cur       []paragraph
		curTokens int
	)
	flush := func() {
		if len(cur) == 0 {
			return
		}
		chunks = append(chunks, buildChunk(cur))
		cur = nil
		curTokens = 0
	}

	for _, para := range paras {
		if para.tokens > s.opts.MaxTokens {
			flush()
			for _, window := range s.splitOversized(para) {
				chunks = append(chunks, buildChunk([]paragraph{window}))
			}
			continue
		}

		if len(cur) > 0 && curTokens+para.tokens > s.opts.MaxTokens {
			chunks = append(chunks, buildChunk(cur))
			cur = s.overlapTail(cur)
			curTokens = 0
			for _, p := range cur {
				curTokens += p.tokens
			}
		}
		cur = append(cur, para)
		curTokens += para.tokens
	}
	flush()

	for i := range chunks {
		chunks[i].Source = source
		chunks[i].Ordinal = i
		chunks[i].ID = fmt.Sprintf("%s#%03d", source, i)
	}
	return chunks
}

// overlapTail picks the trailing paragraphs of a closed chunk that fit
// the overlap budget. It never returns the whole chunk, each new chunk
// must contain at least one fresh paragraph.
func (s *Splitter) overlapTail(cur []paragraph) []paragraph {
	if s.opts.OverlapTokens <= 0 || len(cur) < 2 {
		return nil
	}
	total := 0
	start := len(cur)
	for i := len(cur) - 1; i > 0; i-- {
		if total+cur[i].tokens > s.opts.OverlapTokens {
			break
		}
		total += cur[i].tokens
		start = i
	}
	if start == len(cur) {
		return nil
	}
	return append([]paragraph(nil), cur[start:]...)
}

// splitOversized cuts a paragraph that alone exceeds the limit into
// fixed-size rune windows.
func (s *Splitter) splitOversized(para paragraph) []paragraph {
	runes := []rune(para.content)
	window := s.opts.MaxTokens * TokensPerChar
	step := window - s.opts.OverlapTokens*TokensPerChar
	if step < 1 {
		step = window
	}

	var out []paragraph
	for start := 0; start < len(runes); start += step {
		end := min(start+window, len(runes))
		out = append(out, paragraph{
			content:   string(runes[start:end]),
			startLine: para.startLine,
			endLine:   para.endLine,
		})
		if end == len(runes) {
			break
		}
	}
	return out
}

func buildChunk(paras []paragraph) Chunk {
	parts := make([]string, len(paras))
	for i, p := range paras {
		parts[i] = p.content
	}
	return Chunk{
		Content:   strings.Join(parts, "\n\n"),
		StartLine: paras[0].startLine,
		EndLine:   paras[len(paras)-1].endLine,
	}
}

// parseParagraphs groups lines into blank-line delimited blocks. Lines
// holding only whitespace count as blank.
func parseParagraphs(text string) []paragraph {
	lines := strings.Split(text, "\n")

	var (
		paras   []paragraph
		buf     []string
		startLn int
	)
	flush := func(endLine int) {
		if len(buf) == 0 {
			return
		}
		content := strings.TrimRight(strings.Join(buf, "\n"), " \t")
		paras = append(paras, paragraph{
			content:   content,
			startLine: startLn,
			endLine:   endLine,
			tokens:    estimateTokens(content),
		})
		buf = nil
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			flush(i)
			continue
		}
		if len(buf) == 0 {
			startLn = i + 1
		}
		buf = append(buf, line)
	}
	flush(len(lines))
	return paras
}

func estimateTokens(content string) int {
	return len(content) / TokensPerChar
}
