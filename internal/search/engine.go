package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/namjunsu/docquery/internal/alert"
	"github.com/namjunsu/docquery/internal/cache"
	dqerrors "github.com/namjunsu/docquery/internal/errors"
	"github.com/namjunsu/docquery/internal/index"
	"github.com/namjunsu/docquery/internal/pipeline"
	"github.com/namjunsu/docquery/internal/telemetry"
	"github.com/namjunsu/docquery/internal/vector"
	"golang.org/x/sync/errgroup"
)

// DefaultCandidateDepth is how many hits each retrieval source is asked
// for before fusion.
const DefaultCandidateDepth = 50

// ErrNilDependency is returned by NewEngine when a required collaborator
// is missing.
var ErrNilDependency = errors.New("nil dependency")

// Lexical serves ranked keyword queries. *index.BM25Index satisfies it.
type Lexical interface {
	Search(query string, topK int) ([]index.RankedHit, error)
	Stats() index.Stats
}

// EngineConfig carries the engine-level retrieval defaults. Zero values
// fall back to the documented defaults.
type EngineConfig struct {
	// Fusion is the default combination strategy for the two sources.
	Fusion FusionMethod

	// Weights are the default source weights for weighted-sum fusion.
	Weights Weights

	// RRFK is the reciprocal-rank smoothing constant.
	RRFK int

	// CandidateDepth is the per-source retrieval depth before fusion.
	CandidateDepth int
}

// DefaultEngineConfig returns the standard engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Fusion:         FusionRRF,
		Weights:        DefaultWeights(),
		RRFK:           DefaultRRFConstant,
		CandidateDepth: DefaultCandidateDepth,
	}
}

func (c EngineConfig) withDefaults() EngineConfig {
	def := DefaultEngineConfig()
	if c.Weights == (Weights{}) {
		c.Weights = def.Weights
	}
	if c.RRFK <= 0 {
		c.RRFK = def.RRFK
	}
	if c.CandidateDepth <= 0 {
		c.CandidateDepth = def.CandidateDepth
	}
	return c
}

// SearchOptions are per-call overrides. A nil *SearchOptions means all
// engine defaults.
type SearchOptions struct {
	// Limit fixes the final result count. When zero or negative the
	// classifier's adaptive recommendation applies.
	Limit int

	// Fusion overrides the engine's fusion method when non-nil.
	Fusion *FusionMethod

	// Weights overrides the engine's source weights when non-nil.
	Weights *Weights
}

// Response is the outcome of one search call.
type Response struct {
	// Query is the normalized query the engine actually ran.
	Query string

	// Complexity is the classifier's verdict for the query.
	Complexity QueryComplexity

	// Results are the filtered hits, best first.
	Results []pipeline.FilterResult

	// Degraded is true when one retrieval source failed and the response
	// was built from the other alone.
	Degraded bool

	// FromCache is true when the response was served from the result cache.
	FromCache bool

	// Took is the wall time spent producing the response.
	Took time.Duration
}

// Engine runs hybrid retrieval end to end: classify, retrieve from both
// sources in parallel, fuse, filter through the pipeline, cache, and
// record telemetry. Safe for concurrent use.
type Engine struct {
	cfg        EngineConfig
	index      Lexical
	vector     vector.Searcher
	pipe       *pipeline.Pipeline
	fuser      *Fuser
	classifier *Classifier
	resultTTL  *cache.Cache[*Response]
	alerter    alert.Sink
	metrics    *telemetry.Metrics
	queries    *telemetry.QueryMetrics
	logger     *slog.Logger
}

// EngineOption customizes an Engine beyond its required dependencies.
type EngineOption func(*Engine)

// WithCache installs a result cache.
func WithCache(c *cache.Cache[*Response]) EngineOption {
	return func(e *Engine) { e.resultTTL = c }
}

// WithAlerts installs a sink for degradation and failure notifications.
func WithAlerts(sink alert.Sink) EngineOption {
	return func(e *Engine) { e.alerter = sink }
}

// WithMetrics installs the Prometheus collector set.
func WithMetrics(m *telemetry.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithQueryMetrics shares an external query statistics collector instead
// of the engine-private one.
func WithQueryMetrics(qm *telemetry.QueryMetrics) EngineOption {
	return func(e *Engine) { e.queries = qm }
}

// WithClassifier replaces the default complexity classifier.
func WithClassifier(cl *Classifier) EngineOption {
	return func(e *Engine) { e.classifier = cl }
}

// NewEngine builds an engine over a lexical index, a vector searcher,
// and a filter pipeline.
func NewEngine(cfg EngineConfig, idx Lexical, vec vector.Searcher, pipe *pipeline.Pipeline, logger *slog.Logger, opts ...EngineOption) (*Engine, error) {
	if idx == nil {
		return nil, fmt.Errorf("%w: lexical index is required", ErrNilDependency)
	}
	if vec == nil {
		return nil, fmt.Errorf("%w: vector searcher is required", ErrNilDependency)
	}
	if pipe == nil {
		return nil, fmt.Errorf("%w: filter pipeline is required", ErrNilDependency)
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:        cfg,
		index:      idx,
		vector:     vec,
		pipe:       pipe,
		fuser:      NewFuser(cfg.RRFK, logger),
		classifier: NewClassifier(),
		logger:     logger.With("component", "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.queries == nil {
		e.queries = telemetry.NewQueryMetrics()
	}
	return e, nil
}

// Search answers a query. An empty or whitespace-only query returns an
// empty response without error. When both retrieval sources fail the
// error carries code ERR_503_SEARCH_FAILED; when only one fails the
// response is produced from the survivor and marked Degraded.
func (e *Engine) Search(ctx context.Context, query string, opts *SearchOptions) (*Response, error) {
	start := time.Now()

	normalized := cache.NormalizeQuery(query)
	if normalized == "" {
		return &Response{Took: time.Since(start)}, nil
	}

	fusion, weights, limit := e.resolveOptions(opts)
	log := e.logger.With("request_id", uuid.NewString())

	var key string
	if e.resultTTL != nil {
		key = cache.Key("search", normalized, fusion.String(), weights, limit)
		if hit, ok := e.resultTTL.Get(key); ok {
			resp := *hit
			resp.FromCache = true
			resp.Took = time.Since(start)
			e.record(&resp)
			log.Debug("cache hit", "query", normalized)
			return &resp, nil
		}
	}

	comp := e.classifier.Classify(normalized)

	lexHits, vecHits, lexErr, vecErr := e.parallelRetrieve(ctx, normalized)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	degraded := false
	switch {
	case lexErr != nil && vecErr != nil:
		joined := errors.Join(lexErr, vecErr)
		log.Error("all retrieval sources failed", "query", normalized, "error", joined)
		e.notify(ctx, alert.SeverityCritical, "all retrieval sources failed", map[string]any{
			"query": normalized,
			"error": joined.Error(),
		})
		if e.metrics != nil {
			e.metrics.ObserveSearch(telemetry.QueryClass(comp.Level.String()), telemetry.StatusError, time.Since(start), 0, false)
		}
		return nil, dqerrors.New(dqerrors.ErrCodeSearchFailed, "all retrieval sources failed", joined)
	case lexErr != nil:
		degraded = true
		log.Warn("lexical retrieval failed, serving vector results only", "error", lexErr)
		e.notify(ctx, alert.SeverityWarning, "retrieval source degraded", map[string]any{
			"source": SourceLexical,
			"query":  normalized,
			"error":  lexErr.Error(),
		})
	case vecErr != nil:
		degraded = true
		log.Warn("vector retrieval failed, serving lexical results only", "error", vecErr)
		e.notify(ctx, alert.SeverityWarning, "retrieval source degraded", map[string]any{
			"source": SourceVector,
			"query":  normalized,
			"error":  vecErr.Error(),
		})
	}

	fused := e.fuser.Fuse(fusion, lexHits, vecHits, weights)
	candidates := make([]pipeline.Candidate, len(fused))
	for i, fh := range fused {
		candidates[i] = pipeline.Candidate{
			ID:           fh.ID,
			VectorScore:  fh.VectorScore,
			LexicalScore: fh.LexicalScore,
		}
	}

	k := comp.RecommendedK
	if limit > 0 {
		k = limit
	}
	results, err := e.pipe.Run(ctx, normalized, candidates, k)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Query:      normalized,
		Complexity: comp,
		Results:    results,
		Degraded:   degraded,
		Took:       time.Since(start),
	}
	if e.resultTTL != nil {
		e.resultTTL.Set(key, resp)
	}
	e.record(resp)
	log.Debug("search complete",
		"query", normalized,
		"class", comp.Level.String(),
		"candidates", len(candidates),
		"results", len(results),
		"degraded", degraded,
		"took", resp.Took)
	return resp, nil
}

func (e *Engine) resolveOptions(opts *SearchOptions) (FusionMethod, Weights, int) {
	fusion := e.cfg.Fusion
	weights := e.cfg.Weights
	limit := 0
	if opts != nil {
		if opts.Fusion != nil {
			fusion = *opts.Fusion
		}
		if opts.Weights != nil {
			weights = *opts.Weights
		}
		limit = opts.Limit
	}
	return fusion, weights, limit
}

// parallelRetrieve queries both sources concurrently. Source errors are
// captured per source rather than failing the group, so one source going
// down cannot cancel the other.
func (e *Engine) parallelRetrieve(ctx context.Context, query string) ([]index.RankedHit, []vector.Result, error, error) {
	depth := e.cfg.CandidateDepth

	var (
		lexHits []index.RankedHit
		lexErr  error
		vecHits []vector.Result
		vecErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			lexErr = err
			return nil
		}
		lexHits, lexErr = e.index.Search(query, depth)
		return nil
	})
	g.Go(func() error {
		vecHits, vecErr = e.vector.Search(gctx, query, depth)
		return nil
	})
	// Closures never return errors, so Wait only synchronizes.
	_ = g.Wait()

	return lexHits, vecHits, lexErr, vecErr
}

func (e *Engine) notify(ctx context.Context, severity alert.Severity, title string, payload map[string]any) {
	if e.alerter == nil {
		return
	}
	e.alerter.Notify(ctx, alert.Event{Title: title, Severity: severity, Payload: payload})
}

func (e *Engine) record(resp *Response) {
	class := telemetry.QueryClass(resp.Complexity.Level.String())
	if e.metrics != nil {
		status := telemetry.StatusOK
		if resp.Degraded {
			status = telemetry.StatusDegraded
		}
		e.metrics.ObserveSearch(class, status, resp.Took, len(resp.Results), resp.FromCache)
	}
	e.queries.Record(telemetry.QueryEvent{
		Query:       resp.Query,
		Class:       class,
		ResultCount: len(resp.Results),
		Latency:     resp.Took,
		Degraded:    resp.Degraded,
		FromCache:   resp.FromCache,
		Timestamp:   time.Now(),
	})
}

// EngineStats aggregates observability state across the engine's parts.
type EngineStats struct {
	Index          index.Stats
	Cache          *cache.Stats
	Queries        telemetry.Snapshot
	UnresolvedDocs uint64
}

// Stats returns a point-in-time view of the engine.
func (e *Engine) Stats() EngineStats {
	s := EngineStats{
		Index:          e.index.Stats(),
		Queries:        e.queries.Snapshot(),
		UnresolvedDocs: e.pipe.UnresolvedDrops(),
	}
	if e.resultTTL != nil {
		cs := e.resultTTL.Stats()
		s.Cache = &cs
	}
	return s
}

// Close releases the engine's owned resources: the alert sink and, when
// the vector searcher holds files open, the searcher itself.
func (e *Engine) Close() error {
	var errs []error
	if e.alerter != nil {
		if err := e.alerter.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if closer, ok := e.vector.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
