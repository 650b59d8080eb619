package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Provider selects an embedding implementation.
type Provider string

const (
	// ProviderAuto tries Ollama and falls back to static embeddings.
	ProviderAuto Provider = "auto"

	// ProviderOllama requires a reachable Ollama server.
	ProviderOllama Provider = "ollama"

	// ProviderStatic uses hash-based embeddings only.
	ProviderStatic Provider = "static"
)

// ParseProvider normalizes a configuration string into a Provider.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ProviderAuto, nil
	case "ollama":
		return ProviderOllama, nil
	case "static":
		return ProviderStatic, nil
	default:
		return ProviderAuto, fmt.Errorf("unknown embedding provider %q", s)
	}
}

// NewEmbedder builds the embedder for provider. An explicitly selected
// provider that cannot start is an error, never a silent substitution;
// only ProviderAuto falls back to static embeddings, with a warning.
func NewEmbedder(ctx context.Context, provider Provider, cfg OllamaConfig, logger *slog.Logger) (Embedder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch provider {
	case ProviderStatic:
		return NewStaticEmbedder(), nil
	case ProviderOllama:
		emb, err := NewOllamaEmbedder(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("embedding provider %q selected but unavailable: %w", provider, err)
		}
		return emb, nil
	case ProviderAuto, "":
		emb, err := NewOllamaEmbedder(ctx, cfg, logger)
		if err != nil {
			logger.Warn("ollama unavailable, falling back to static embeddings", "error", err)
			return NewStaticEmbedder(), nil
		}
		return emb, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
}
