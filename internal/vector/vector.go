// Package vector defines the vector search capability consumed by the
// hybrid engine, plus an in-process HNSW implementation of it.
package vector

import "context"

// Result is one vector search hit. Similarity is cosine similarity in
// [0,1], higher is closer.
type Result struct {
	ID         string
	Similarity float64
}

// Searcher serves nearest-neighbor queries over embedded documents.
// Implementations return results ordered by similarity descending, may
// return fewer than topK, and return an empty slice (not an error) when
// the index is empty.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]Result, error)
}
