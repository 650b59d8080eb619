package rerank

import (
	"strings"
	"unicode"
)

// Weights of the two fallback components.
const (
	fallbackJaccardWeight = 0.7
	fallbackTFWeight      = 0.3
)

// FallbackScore computes a local relevance score for a (query, document)
// pair without any external calls. It combines the Jaccard overlap of the
// token sets with a term-frequency ratio:
//
//	score = 0.7·jaccard + 0.3·tf, clamped to [0,1]
//
// It is a pure function and never fails; degenerate inputs score 0.
func FallbackScore(query, document string) float64 {
	queryTokens := splitAlphaNumLower(query)
	docTokens := splitAlphaNumLower(document)

	querySet := toTokenSet(queryTokens)
	docSet := toTokenSet(docTokens)

	score := fallbackJaccardWeight*jaccard(querySet, docSet) +
		fallbackTFWeight*termFrequency(querySet, docTokens)

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// jaccard is |a ∩ b| / |a ∪ b|, 0 when the union is empty.
func jaccard(a, b map[string]struct{}) float64 {
	union := len(b)
	intersection := 0
	for token := range a {
		if _, ok := b[token]; ok {
			intersection++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// termFrequency is the share of document tokens that are query terms,
// 0 when the document is empty.
func termFrequency(querySet map[string]struct{}, docTokens []string) float64 {
	if len(docTokens) == 0 {
		return 0
	}
	matches := 0
	for _, token := range docTokens {
		if _, ok := querySet[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(docTokens))
}

// splitAlphaNumLower extracts lowercase alphanumeric tokens of any script.
func splitAlphaNumLower(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func toTokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		set[token] = struct{}{}
	}
	return set
}
