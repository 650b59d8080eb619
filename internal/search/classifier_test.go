package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifier_Classify_PatternFamilies(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name  string
		query string
		level Complexity
		k     int
	}{
		{"versus phrasing", "macbook vs thinkpad", Comparison, 10},
		{"compare phrasing", "compare the 2023 and 2024 invoices", Comparison, 10},
		{"difference phrasing", "difference between gross and net revenue", Comparison, 10},
		{"korean comparison", "삼성전자 LG전자 비교", Comparison, 10},
		{"why phrasing", "why did shipping costs rise", Complex, 7},
		{"how phrasing", "how to amortize equipment", Complex, 7},
		{"analysis phrasing", "revenue analysis for the third quarter", Complex, 7},
		{"korean complex", "매출 분석 보고서", Complex, 7},
		{"price phrasing", "price of the annual license", Simple, 3},
		{"when phrasing", "when is the filing deadline", Simple, 3},
		{"who phrasing", "who signed the contract", Simple, 3},
		{"korean simple", "배송비 얼마", Simple, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.query)
			assert.Equal(t, tt.level, got.Level)
			assert.Equal(t, tt.k, got.RecommendedK)
		})
	}
}

func TestClassifier_Classify_FamilyOrderIsFixed(t *testing.T) {
	c := NewClassifier()

	// Comparison cues win even when complex cues are present
	got := c.Classify("why compare the two vendors")
	assert.Equal(t, Comparison, got.Level)

	// Complex cues win over simple cues
	got = c.Classify("how much does the license cost")
	assert.Equal(t, Complex, got.Level)
}

func TestClassifier_Classify_LengthHeuristicFallback(t *testing.T) {
	c := NewClassifier()

	// No cue words, more than five tokens: complex
	got := c.Classify("quarterly ledger entries for the northern region office")
	assert.Equal(t, Complex, got.Level)
	assert.Equal(t, 7, got.RecommendedK)

	// No cue words, five tokens or fewer: simple
	got = c.Classify("quarterly ledger entries northern region")
	assert.Equal(t, Simple, got.Level)
	assert.Equal(t, 3, got.RecommendedK)
}

func TestClassifier_Classify_EmptyQuery(t *testing.T) {
	c := NewClassifier()

	got := c.Classify("")
	assert.Equal(t, Simple, got.Level)
	assert.Equal(t, 3, got.RecommendedK)
}

func TestClassifier_Classify_CaseInsensitive(t *testing.T) {
	c := NewClassifier()

	assert.Equal(t, Comparison, c.Classify("COMPARE A AND B").Level)
	assert.Equal(t, Complex, c.Classify("WHY is this").Level)
}

func TestClassifier_Classify_MemoIsNotObservable(t *testing.T) {
	// Given: one classifier with a memo, one without
	memoized := NewClassifier()
	plain := NewClassifierWithMemo(0)
	require.Nil(t, plain.memo)

	queries := []string{
		"compare a and b",
		"why does this happen",
		"price of coffee",
		"compare a and b", // repeat to exercise the memo hit path
	}

	// Then: both return identical results for every query
	for _, q := range queries {
		assert.Equal(t, plain.Classify(q), memoized.Classify(q), "query %q", q)
	}
}

func TestComplexity_String(t *testing.T) {
	assert.Equal(t, "simple", Simple.String())
	assert.Equal(t, "complex", Complex.String())
	assert.Equal(t, "comparison", Comparison.String())
}
