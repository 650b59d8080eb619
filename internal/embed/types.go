// Package embed turns document and query text into dense vectors. The
// primary provider is an Ollama HTTP endpoint; a deterministic hash
// embedder serves as the no-dependency fallback.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultBatchSize is the number of texts sent per embedding request.
	DefaultBatchSize = 32

	// MaxBatchSize caps a single request to keep payloads bounded.
	MaxBatchSize = 256

	// DefaultWarmTimeout applies when the model served a request recently.
	DefaultWarmTimeout = 30 * time.Second

	// DefaultColdTimeout applies when the model may need loading first.
	DefaultColdTimeout = 120 * time.Second

	// ModelUnloadThreshold is how long Ollama keeps an idle model warm.
	ModelUnloadThreshold = 5 * time.Minute

	// DefaultMaxRetries is the retry budget per embedding request.
	DefaultMaxRetries = 3

	// DefaultDimensions matches nomic-embed-text.
	DefaultDimensions = 768

	// StaticDimensions is the hash embedder's vector width.
	StaticDimensions = 256
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding width.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the provider can serve requests now.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector scales a vector to unit length. Zero vectors pass
// through unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
