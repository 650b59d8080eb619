package search

import (
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Complexity is the classified complexity level of a query.
type Complexity int

const (
	// Simple queries ask for a single fact.
	Simple Complexity = iota

	// Complex queries ask for explanation or analysis.
	Complex

	// Comparison queries contrast two or more subjects.
	Comparison
)

// String returns the level name used in logs and reasoning trails.
func (c Complexity) String() string {
	switch c {
	case Comparison:
		return "comparison"
	case Complex:
		return "complex"
	default:
		return "simple"
	}
}

// QueryComplexity is the classification outcome: the level plus the
// recommended final result count for the adaptive selection phase.
type QueryComplexity struct {
	Level        Complexity
	RecommendedK int
}

// Recommended result counts per complexity level.
const (
	simpleK     = 3
	complexK    = 7
	comparisonK = 10
)

// DefaultClassifierMemoSize bounds the classification memo.
const DefaultClassifierMemoSize = 4096

// lengthHeuristicThreshold is the token count above which an unmatched
// query is treated as complex.
const lengthHeuristicThreshold = 5

// Compiled cue patterns, checked in fixed order: comparison wins over
// complex wins over simple. Korean cues sit outside the \b groups since
// word boundaries only apply to ASCII word characters. Compiled at
// package init.
var (
	comparisonCues = regexp.MustCompile(`(?i)\b(vs|versus|compar\w*|contrast|differences?|better|worse)\b|차이|비교`)
	complexCues    = regexp.MustCompile(`(?i)\b(why|how|explain|analy\w*|relationship|impact|trends?|causes?)\b|왜|어떻게|분석|영향`)
	simpleCues     = regexp.MustCompile(`(?i)\b(price|cost|when|who|what|where|which|date|amount|total)\b|얼마|언제|누가|무엇|가격`)
)

// Classifier maps query strings to a complexity level. Classification is
// a pure function of the query; the memo is a throughput optimization and
// is never observable in results.
type Classifier struct {
	memo *lru.Cache[string, QueryComplexity]
}

// NewClassifier creates a classifier with the default memo size.
func NewClassifier() *Classifier {
	return NewClassifierWithMemo(DefaultClassifierMemoSize)
}

// NewClassifierWithMemo creates a classifier with a custom memo size.
// Non-positive sizes disable memoization.
func NewClassifierWithMemo(size int) *Classifier {
	c := &Classifier{}
	if size > 0 {
		// Errors only on non-positive size, which is excluded above.
		c.memo, _ = lru.New[string, QueryComplexity](size)
	}
	return c
}

// Classify determines the complexity of query. Pattern families are
// checked in fixed order (comparison, complex, simple); when none match,
// queries longer than five whitespace tokens count as complex, everything
// else as simple.
func (c *Classifier) Classify(query string) QueryComplexity {
	key := strings.TrimSpace(strings.ToLower(query))

	if c.memo != nil {
		if cached, ok := c.memo.Get(key); ok {
			return cached
		}
	}

	result := classify(key)

	if c.memo != nil {
		c.memo.Add(key, result)
	}
	return result
}

func classify(query string) QueryComplexity {
	switch {
	case comparisonCues.MatchString(query):
		return QueryComplexity{Level: Comparison, RecommendedK: comparisonK}
	case complexCues.MatchString(query):
		return QueryComplexity{Level: Complex, RecommendedK: complexK}
	case simpleCues.MatchString(query):
		return QueryComplexity{Level: Simple, RecommendedK: simpleK}
	case len(strings.Fields(query)) > lengthHeuristicThreshold:
		return QueryComplexity{Level: Complex, RecommendedK: complexK}
	default:
		return QueryComplexity{Level: Simple, RecommendedK: simpleK}
	}
}
