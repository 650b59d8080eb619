package index

import (
	"strings"
	"unicode"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
)

// maxMemoInputLen bounds which inputs the tokenizer memoizes. Queries are
// short and repeat often; document bodies are neither, and caching them
// would hold full texts in memory.
const maxMemoInputLen = 512

// Tokenizer converts text into lowercase tokens. It is deterministic and
// never fails: any rune that is not a letter or digit separates tokens,
// and tokens shorter than the configured minimum are dropped.
type Tokenizer struct {
	minTokenLen int
	stopWords   map[string]struct{}
	memo        *lru.Cache[string, []string]
}

// NewTokenizer creates a tokenizer from cfg. A zero MinTokenLength falls
// back to the default; a zero TokenMemoSize disables memoization.
func NewTokenizer(cfg Config) *Tokenizer {
	minLen := cfg.MinTokenLength
	if minLen <= 0 {
		minLen = DefaultConfig().MinTokenLength
	}

	t := &Tokenizer{
		minTokenLen: minLen,
		stopWords:   buildStopWordSet(cfg.StopWords),
	}

	if cfg.TokenMemoSize > 0 {
		// Errors only on non-positive size, which is excluded above.
		t.memo, _ = lru.New[string, []string](cfg.TokenMemoSize)
	}

	return t
}

// Tokenize splits text into lowercase tokens. The returned slice is owned
// by the caller; memoization is not observable through it.
func (t *Tokenizer) Tokenize(text string) []string {
	if text == "" {
		return nil
	}

	memoizable := t.memo != nil && len(text) <= maxMemoInputLen
	if memoizable {
		if cached, ok := t.memo.Get(text); ok {
			return cloneTokens(cached)
		}
	}

	tokens := t.split(text)

	if memoizable {
		t.memo.Add(text, cloneTokens(tokens))
	}
	return tokens
}

// split does the actual work: lowercase, cut on non-letter/digit runes,
// filter short tokens and stop words.
func (t *Tokenizer) split(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var tokens []string
	for _, tok := range fields {
		if utf8.RuneCountInString(tok) < t.minTokenLen {
			continue
		}
		if _, stop := t.stopWords[tok]; stop {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// buildStopWordSet converts a stop word list into a lookup set.
func buildStopWordSet(words []string) map[string]struct{} {
	if len(words) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	return set
}

func cloneTokens(tokens []string) []string {
	if tokens == nil {
		return nil
	}
	out := make([]string, len(tokens))
	copy(out, tokens)
	return out
}
