// Package search provides hybrid retrieval for docquery: score fusion
// across the lexical and vector sources, query complexity classification,
// and the engine that orchestrates one query end to end.
package search

import (
	"fmt"
	"strings"
)

// Source tags recorded on hits to show which retrieval paths produced them.
const (
	SourceLexical = "lexical"
	SourceVector  = "vector"
)

// RankedHit is one hit in a fused result list. Rank is 1-based and fresh
// per query; Sources lists the retrieval paths that contributed.
type RankedHit struct {
	ID      string
	Score   float64
	Rank    int
	Sources []string
}

// FusionMethod selects how lexical and vector results are combined.
type FusionMethod int

const (
	// FusionRRF combines by reciprocal rank, ignoring score magnitudes.
	FusionRRF FusionMethod = iota

	// FusionWeightedSum combines min-max normalized scores by weight.
	FusionWeightedSum
)

// String returns the configuration name of the method.
func (m FusionMethod) String() string {
	switch m {
	case FusionWeightedSum:
		return "weighted_sum"
	default:
		return "rrf"
	}
}

// ParseFusionMethod converts a configuration string into a FusionMethod.
func ParseFusionMethod(s string) (FusionMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rrf":
		return FusionRRF, nil
	case "weighted_sum", "weighted-sum", "weighted":
		return FusionWeightedSum, nil
	default:
		return FusionRRF, fmt.Errorf("unknown fusion method %q", s)
	}
}

// FusedHit is a RankedHit plus the per-source scores it was fused from.
type FusedHit struct {
	RankedHit

	// LexicalScore is the raw BM25 score (0 when absent from that source).
	LexicalScore float64

	// VectorScore is the raw cosine similarity (0 when absent).
	VectorScore float64

	// Method records which fusion strategy produced the hit.
	Method FusionMethod
}

// Weights configures the relative importance of the retrieval sources.
// They need not sum to 1; the fuser warns when they do not.
type Weights struct {
	Lexical float64
	Vector  float64
}

// DefaultWeights returns the default source weights.
func DefaultWeights() Weights {
	return Weights{
		Lexical: 0.3,
		Vector:  0.7,
	}
}
