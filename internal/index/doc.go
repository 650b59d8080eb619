// Package index implements the lexical side of docquery: a Unicode-aware
// tokenizer and an in-memory BM25 inverted index with snapshot persistence.
//
// The index is safe for concurrent use: searches run under a shared read
// lock while batch ingestion takes the write lock, recomputing the average
// document length before releasing it. Scoring uses
//
//	IDF(t) = ln(1 + (N - df + 0.5) / (df + 0.5))
//	score  = Σ IDF·tf·(k1+1) / (tf + k1·(1 - b + b·|d|/avgdl))
//
// with k1 and b configurable. Ties are broken by ingestion order, ranks
// are 1-based, and zero-score documents never appear in results.
package index
