package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	dqerrors "github.com/namjunsu/docquery/internal/errors"
)

const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the default embedding model for prose documents.
	DefaultOllamaModel = "nomic-embed-text"

	ollamaConnectTimeout = 5 * time.Second
	ollamaPoolSize       = 4
)

// FallbackOllamaModels are tried in order when the primary model is not
// installed.
var FallbackOllamaModels = []string{
	"mxbai-embed-large",
	"all-minilm",
}

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string

	// Model is the preferred embedding model.
	Model string

	// FallbackModels are tried in order when Model is not installed.
	FallbackModels []string

	// Dimensions is the embedding width. Zero means auto-detect from the
	// first embedding.
	Dimensions int

	// BatchSize is the number of texts per request.
	BatchSize int

	// ConnectTimeout bounds availability probes.
	ConnectTimeout time.Duration

	// MaxRetries is the retry budget per request, beyond the first attempt.
	MaxRetries int

	// PoolSize bounds the idle connection pool.
	PoolSize int

	// SkipHealthCheck skips model discovery at construction (testing).
	SkipHealthCheck bool
}

// DefaultOllamaConfig returns the standard Ollama configuration.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:           DefaultOllamaHost,
		Model:          DefaultOllamaModel,
		FallbackModels: FallbackOllamaModels,
		BatchSize:      DefaultBatchSize,
		ConnectTimeout: ollamaConnectTimeout,
		MaxRetries:     DefaultMaxRetries,
		PoolSize:       ollamaPoolSize,
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

type modelInfo struct {
	Name string `json:"name"`
}

type modelListResponse struct {
	Models []modelInfo `json:"models"`
}

// OllamaEmbedder generates embeddings through Ollama's HTTP API.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	cfg       OllamaConfig
	modelName string
	dims      int
	logger    *slog.Logger

	mu       sync.RWMutex
	closed   bool
	lastCall time.Time
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder connects to Ollama, resolves an installed embedding
// model, and detects the embedding width when not configured.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig, logger *slog.Logger) (*OllamaEmbedder, error) {
	def := DefaultOllamaConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.FallbackModels == nil {
		cfg.FallbackModels = def.FallbackModels
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = def.PoolSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	// No client-level timeout: each request carries its own warm or cold
	// deadline through the context.
	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		cfg:       cfg,
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
		logger:    logger.With("component", "embed"),
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, DefaultColdTimeout)
		defer cancel()

		model, err := e.findAvailableModel(checkCtx)
		if err != nil {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("connect to ollama: %w", err)
		}
		e.modelName = model

		if e.dims == 0 {
			dims, err := e.detectDimensions(checkCtx)
			if err != nil {
				transport.CloseIdleConnections()
				return nil, fmt.Errorf("detect embedding dimensions: %w", err)
			}
			e.dims = dims
		}
	}
	if e.dims == 0 {
		e.dims = DefaultDimensions
	}
	return e, nil
}

func (e *OllamaEmbedder) listModels(ctx context.Context) ([]modelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.Host+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return nil, fmt.Errorf("list models: status %d: %s", resp.StatusCode, string(body))
	}
	var result modelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode model list: %w", err)
	}
	return result.Models, nil
}

// findAvailableModel resolves the preferred model, or the first fallback,
// against what the server has installed. Matching ignores case and the
// ":tag" suffix, so "nomic-embed-text" matches "nomic-embed-text:latest".
func (e *OllamaEmbedder) findAvailableModel(ctx context.Context) (string, error) {
	models, err := e.listModels(ctx)
	if err != nil {
		return "", err
	}

	installed := make(map[string]string, len(models)*2)
	for _, m := range models {
		name := strings.ToLower(m.Name)
		installed[name] = m.Name
		base, _, _ := strings.Cut(name, ":")
		if _, ok := installed[base]; !ok {
			installed[base] = m.Name
		}
	}

	want := append([]string{e.cfg.Model}, e.cfg.FallbackModels...)
	for _, candidate := range want {
		name := strings.ToLower(candidate)
		if actual, ok := installed[name]; ok {
			return actual, nil
		}
		base, _, _ := strings.Cut(name, ":")
		if actual, ok := installed[base]; ok {
			return actual, nil
		}
	}
	return "", fmt.Errorf("no embedding model installed (tried %s and %v)", e.cfg.Model, e.cfg.FallbackModels)
}

func (e *OllamaEmbedder) detectDimensions(ctx context.Context) (int, error) {
	embeddings, err := e.doEmbed(ctx, []string{"dimension detection"})
	if err != nil {
		return 0, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return 0, fmt.Errorf("empty embedding returned")
	}
	return len(embeddings[0]), nil
}

// Embed generates the embedding for a single text. Empty input yields a
// zero vector without a network call.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dims), nil
	}
	embeddings, err := e.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, dqerrors.New(dqerrors.ErrCodeEmbeddingFailed, "no embedding returned", nil)
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for texts, preserving order. Empty
// texts become zero vectors; the rest are sent in configured batches.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type indexedText struct {
		idx  int
		text string
	}
	results := make([][]float32, len(texts))
	var pending []indexedText
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
		} else {
			pending = append(pending, indexedText{i, text})
		}
	}

	for start := 0; start < len(pending); start += e.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+e.cfg.BatchSize, len(pending))
		batch := pending[start:end]

		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}
		embeddings, err := e.embedWithRetry(ctx, batchTexts)
		if err != nil {
			return nil, fmt.Errorf("embed batch: %w", err)
		}
		for i, emb := range embeddings {
			results[batch[i].idx] = emb
		}
		e.logger.Debug("embedded batch", "size", len(batch), "done", end, "total", len(pending))
	}
	return results, nil
}

// requestTimeout picks the cold deadline for the first call or after the
// server has likely unloaded the model, the warm deadline otherwise.
func (e *OllamaEmbedder) requestTimeout() time.Duration {
	e.mu.RLock()
	lastCall := e.lastCall
	e.mu.RUnlock()
	if lastCall.IsZero() || time.Since(lastCall) > ModelUnloadThreshold {
		return DefaultColdTimeout
	}
	return DefaultWarmTimeout
}

func (e *OllamaEmbedder) updateLastCall() {
	e.mu.Lock()
	e.lastCall = time.Now()
	e.mu.Unlock()
}

func (e *OllamaEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	retryCfg := dqerrors.RetryConfig{
		MaxRetries:     e.cfg.MaxRetries,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2,
		Jitter:         true,
		ClassifyErrors: true,
	}
	return dqerrors.RetryWithResult(ctx, retryCfg, func() ([][]float32, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.requestTimeout())
		defer cancel()
		out, err := e.doEmbed(callCtx, texts)
		if err == nil {
			e.updateLastCall()
		}
		return out, err
	})
}

// doEmbed performs one embedding request and classifies failures so the
// retry layer can tell transient from permanent.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var input any
	if len(texts) == 1 {
		input = texts[0]
	} else {
		input = texts
	}
	body, err := json.Marshal(embedRequest{Model: e.modelName, Input: input})
	if err != nil {
		return nil, dqerrors.New(dqerrors.ErrCodeEmbeddingFailed, "encode embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, dqerrors.New(dqerrors.ErrCodeEmbeddingFailed, "build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, dqerrors.New(dqerrors.ErrCodeNetworkTimeout, "embedding request timed out", err)
		}
		return nil, dqerrors.New(dqerrors.ErrCodeSourceUnavailable, "ollama is unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		msg := fmt.Sprintf("embedding failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, dqerrors.New(dqerrors.ErrCodeRateLimited, msg, nil)
		case resp.StatusCode >= 500:
			return nil, dqerrors.New(dqerrors.ErrCodeSourceUnavailable, msg, nil)
		default:
			return nil, dqerrors.New(dqerrors.ErrCodeEmbeddingFailed, msg, nil)
		}
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, dqerrors.New(dqerrors.ErrCodeSourceUnavailable, "truncated or invalid embedding response", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, dqerrors.New(dqerrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("embedding count mismatch: sent %d texts, got %d embeddings", len(texts), len(result.Embeddings)), nil)
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		embeddings[i] = normalizeVector(vec)
	}
	return embeddings, nil
}

func (e *OllamaEmbedder) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("embedder is closed")
	}
	return nil
}

// Dimensions returns the embedding width.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the resolved model identifier.
func (e *OllamaEmbedder) ModelName() string {
	return e.modelName
}

// Available reports whether Ollama is reachable and the resolved model is
// still installed.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	if err := e.checkOpen(); err != nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, e.cfg.ConnectTimeout)
	defer cancel()

	models, err := e.listModels(probeCtx)
	if err != nil {
		return false
	}
	want := strings.ToLower(e.modelName)
	for _, m := range models {
		name := strings.ToLower(m.Name)
		base, _, _ := strings.Cut(name, ":")
		if name == want || base == want {
			return true
		}
	}
	return false
}

// Close releases the connection pool. Safe to call more than once.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
