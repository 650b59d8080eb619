package index

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizer_Tokenize_LowercasesAndSplits(t *testing.T) {
	// Given: a default tokenizer
	tok := NewTokenizer(DefaultConfig())

	// When: tokenizing mixed-case text with punctuation
	tokens := tok.Tokenize("Invoice #2024: Q3-Report (Final)")

	// Then: tokens are lowercase and split on non-alphanumerics
	assert.Equal(t, []string{"invoice", "2024", "q3", "report", "final"}, tokens)
}

func TestTokenizer_Tokenize_FiltersShortTokens(t *testing.T) {
	tests := []struct {
		name   string
		minLen int
		input  string
		want   []string
	}{
		{"default min 2 drops single chars", 2, "a an apple", []string{"an", "apple"}},
		{"min 3 drops two-char tokens", 3, "a an apple", []string{"apple"}},
		{"min 1 keeps everything", 1, "a an apple", []string{"a", "an", "apple"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := NewTokenizer(Config{MinTokenLength: tt.minLen})
			assert.Equal(t, tt.want, tok.Tokenize(tt.input))
		})
	}
}

func TestTokenizer_Tokenize_CountsRunesNotBytes(t *testing.T) {
	// Given: a tokenizer with the default minimum length of 2
	tok := NewTokenizer(DefaultConfig())

	// When: tokenizing multi-byte text
	tokens := tok.Tokenize("héllo wörld 안녕 é")

	// Then: length filtering counts runes, so "안녕" (6 bytes, 2 runes)
	// survives while the single rune "é" is dropped
	assert.Equal(t, []string{"héllo", "wörld", "안녕"}, tokens)
}

func TestTokenizer_Tokenize_DropsStopWords(t *testing.T) {
	// Given: a tokenizer with stop words configured in mixed case
	tok := NewTokenizer(Config{StopWords: []string{"The", "and"}})

	// When: tokenizing text containing them
	tokens := tok.Tokenize("The cat AND the dog")

	// Then: stop words are gone regardless of case
	assert.Equal(t, []string{"cat", "dog"}, tokens)
}

func TestTokenizer_Tokenize_EmptyInputs(t *testing.T) {
	tok := NewTokenizer(DefaultConfig())

	assert.Empty(t, tok.Tokenize(""))
	assert.Empty(t, tok.Tokenize("   \t\n"))
	assert.Empty(t, tok.Tokenize("--- !!! ???"))
}

func TestTokenizer_Tokenize_MemoizedResultIsOwnedByCaller(t *testing.T) {
	// Given: a tokenizer with memoization enabled
	tok := NewTokenizer(Config{TokenMemoSize: 16})

	// When: tokenizing the same query twice and mutating the first result
	first := tok.Tokenize("camera lens")
	require.Equal(t, []string{"camera", "lens"}, first)
	first[0] = "mutated"

	// Then: the second call is unaffected by the mutation
	second := tok.Tokenize("camera lens")
	assert.Equal(t, []string{"camera", "lens"}, second)

	// And: the memo holds exactly one entry
	assert.Equal(t, 1, tok.memo.Len())
}

func TestTokenizer_Tokenize_LongInputsAreNotMemoized(t *testing.T) {
	// Given: a tokenizer with memoization enabled
	tok := NewTokenizer(Config{TokenMemoSize: 16})

	// When: tokenizing text longer than the memo input bound
	long := strings.Repeat("paragraph ", 100)
	require.Greater(t, len(long), maxMemoInputLen)
	tokens := tok.Tokenize(long)

	// Then: tokens come back but nothing was cached
	assert.Len(t, tokens, 100)
	assert.Equal(t, 0, tok.memo.Len())
}

func TestTokenizer_Tokenize_MemoDisabled(t *testing.T) {
	// Given: memoization disabled via zero size
	tok := NewTokenizer(Config{TokenMemoSize: 0, MinTokenLength: 2})
	require.Nil(t, tok.memo)

	// Then: tokenization still works
	assert.Equal(t, []string{"camera"}, tok.Tokenize("camera"))
}
