// Package rerank provides cross-encoder relevance scoring for the filter
// pipeline: a narrow capability interface, an HTTP client implementation,
// and a local fallback used whenever the capability is absent.
package rerank

import "context"

// CrossEncoder scores (query, document) pairs jointly. Scores are in
// [0,1], higher means more relevant.
type CrossEncoder interface {
	// Score returns the relevance of document to query.
	Score(ctx context.Context, query, document string) (float64, error)

	// Available reports whether the scoring backend is reachable. Callers
	// resolve this once at startup into a capability flag rather than
	// probing per query.
	Available(ctx context.Context) bool

	// Close releases client resources.
	Close() error
}
