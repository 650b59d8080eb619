package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	dqerrors "github.com/namjunsu/docquery/internal/errors"
)

// Default HTTP cross-encoder configuration values.
const (
	DefaultRerankTimeout        = 5 * time.Second
	DefaultRerankConnectTimeout = 2 * time.Second
	DefaultRerankPoolSize       = 4
	DefaultRerankMaxRetries     = 2

	breakerMinRequests  = 5
	breakerFailureRatio = 0.6
	breakerOpenTimeout  = 30 * time.Second
)

// HTTPConfig configures the HTTP cross-encoder client.
type HTTPConfig struct {
	// BaseURL is the scoring service root (e.g. http://localhost:8761).
	BaseURL string

	// Timeout bounds one scoring call (default: 5s).
	Timeout time.Duration

	// ConnectTimeout bounds the availability probe (default: 2s).
	ConnectTimeout time.Duration

	// PoolSize bounds pooled connections to the service (default: 4).
	PoolSize int

	// MaxRetries bounds retries of one scoring call (default: 2).
	MaxRetries int
}

// HTTPCrossEncoder scores pairs against an external scoring service. Calls
// run through a circuit breaker so a dead service fails fast instead of
// burning the per-call timeout on every candidate.
type HTTPCrossEncoder struct {
	cfg       HTTPConfig
	client    *http.Client
	transport *http.Transport
	breaker   *gobreaker.CircuitBreaker[float64]
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
}

var _ CrossEncoder = (*HTTPCrossEncoder)(nil)

// NewHTTPCrossEncoder creates a client for the scoring service at
// cfg.BaseURL. The service is not contacted here; call Available to
// resolve the capability.
func NewHTTPCrossEncoder(cfg HTTPConfig, logger *slog.Logger) (*HTTPCrossEncoder, error) {
	if cfg.BaseURL == "" {
		return nil, dqerrors.ConfigError("rerank service URL is empty", nil).
			WithSuggestion("set rerank.base_url or disable reranking")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRerankTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultRerankConnectTimeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultRerankPoolSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultRerankMaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rerank")

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	settings := gobreaker.Settings{
		Name:        "rerank",
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= breakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !dqerrors.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &HTTPCrossEncoder{
		cfg:       cfg,
		client:    &http.Client{Transport: transport},
		transport: transport,
		breaker:   gobreaker.NewCircuitBreaker[float64](settings),
		logger:    logger,
	}, nil
}

type scoreRequest struct {
	Query    string `json:"query"`
	Document string `json:"document"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

// Score sends the pair to the scoring service. The returned score is
// clamped to [0,1]. Retryable failures are retried with backoff inside
// one breaker invocation.
func (r *HTTPCrossEncoder) Score(ctx context.Context, query, document string) (float64, error) {
	retryCfg := dqerrors.RetryConfig{
		MaxRetries:     r.cfg.MaxRetries,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       time.Second,
		Multiplier:     2.0,
		Jitter:         true,
		ClassifyErrors: true,
	}

	score, err := r.breaker.Execute(func() (float64, error) {
		return dqerrors.RetryWithResult(ctx, retryCfg, func() (float64, error) {
			return r.doScore(ctx, query, document)
		})
	})
	if err != nil {
		return 0, err
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

// doScore performs one scoring request.
func (r *HTTPCrossEncoder) doScore(ctx context.Context, query, document string) (float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(scoreRequest{Query: query, Document: document})
	if err != nil {
		return 0, dqerrors.InternalError("marshal rerank request", err)
	}

	url := r.cfg.BaseURL + "/rerank/score"
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, dqerrors.InternalError("create rerank request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if callCtx.Err() != nil {
			return 0, dqerrors.New(dqerrors.ErrCodeNetworkTimeout,
				"rerank request timed out", err)
		}
		return 0, dqerrors.New(dqerrors.ErrCodeSourceUnavailable,
			"rerank service unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, dqerrors.New(dqerrors.ErrCodeSourceUnavailable,
			"read rerank response", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return 0, dqerrors.New(dqerrors.ErrCodeRateLimited,
			"rerank service rate limited", nil)
	case resp.StatusCode >= 500:
		return 0, dqerrors.New(dqerrors.ErrCodeSourceUnavailable,
			fmt.Sprintf("rerank service returned %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return 0, dqerrors.New(dqerrors.ErrCodeInvalidInput,
			fmt.Sprintf("rerank service rejected request with %d", resp.StatusCode), nil)
	}

	var parsed scoreResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return 0, dqerrors.New(dqerrors.ErrCodeSourceUnavailable,
			"decode rerank response", err)
	}
	return parsed.Score, nil
}

// Available probes the service health endpoint. It never blocks longer
// than the connect timeout.
func (r *HTTPCrossEncoder) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, r.cfg.BaseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("rerank service unavailable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

// Close releases pooled connections. Safe to call more than once.
func (r *HTTPCrossEncoder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.transport.CloseIdleConnections()
	return nil
}
