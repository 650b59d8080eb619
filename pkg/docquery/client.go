package docquery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/namjunsu/docquery/internal/alert"
	"github.com/namjunsu/docquery/internal/cache"
	"github.com/namjunsu/docquery/internal/chunk"
	"github.com/namjunsu/docquery/internal/config"
	"github.com/namjunsu/docquery/internal/embed"
	"github.com/namjunsu/docquery/internal/index"
	"github.com/namjunsu/docquery/internal/ingest"
	"github.com/namjunsu/docquery/internal/pipeline"
	"github.com/namjunsu/docquery/internal/rerank"
	"github.com/namjunsu/docquery/internal/search"
	"github.com/namjunsu/docquery/internal/store"
	"github.com/namjunsu/docquery/internal/vector"
)

// ErrClosed is returned by operations on a closed Client.
var ErrClosed = errors.New("docquery: client closed")

// Options configure a Client beyond what the corpus configuration
// provides.
type Options struct {
	// Config replaces the configuration normally loaded from the corpus
	// root. Leave nil to load .docquery.yaml plus environment overrides
	// from root.
	Config *config.Config

	// Embedder overrides provider selection from the configuration.
	// The Client closes it on Close.
	Embedder embed.Embedder

	// Offline forces deterministic local embeddings, skipping any
	// provider probe. Ignored when Embedder is set.
	Offline bool

	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// SearchOptions tune a single query.
type SearchOptions struct {
	// Limit caps the result count. Zero lets the query classifier pick.
	Limit int

	// Fusion overrides the configured fusion method for this query:
	// "rrf" or "weighted_sum".
	Fusion string
}

// Result is one ranked chunk.
type Result struct {
	ID        string
	Score     float64
	Content   string
	Reasoning string
	Metadata  map[string]any
}

// Response carries the outcome of one search.
type Response struct {
	Query      string
	Complexity string
	Results    []Result
	Degraded   bool
	FromCache  bool
	Took       time.Duration
}

// IndexResult summarizes one rebuild.
type IndexResult struct {
	FilesScanned  int
	FilesIndexed  int
	FilesSkipped  int
	FilesFailed   int
	ChunksIndexed int
	Took          time.Duration

	// Failures lists per-file errors from files that could not be
	// indexed. A rebuild with failures still succeeds overall.
	Failures []error
}

// Stats describes the current index shape.
type Stats struct {
	Chunks         int
	Terms          int
	AvgChunkTokens float64
	StoredChunks   int
	Vectors        int
}

// Client owns the backend set for one corpus and the search engine over
// it. Open a Client per corpus root and reuse it; construction loads
// index snapshots and probes the embedding provider.
type Client struct {
	root     string
	cfg      *config.Config
	logger   *slog.Logger
	embedder embed.Embedder
	docs     *store.SQLiteStore

	mu     sync.RWMutex
	idx    *index.BM25Index
	vec    *vector.Index
	eng    *search.Engine
	closed bool
}

// Open loads the corpus configuration and any existing index snapshots
// under root's data directory. A corpus that has never been indexed
// opens with empty indexes; call Index to populate them.
func Open(ctx context.Context, root string, opts Options) (*Client, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve corpus root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("access corpus root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", absRoot)
	}

	cfg := opts.Config
	if cfg == nil {
		if cfg, err = config.LoadDir(absRoot); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.EffectiveDataDir(absRoot), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	docs, err := store.NewSQLiteStore(store.Config{
		Path:          cfg.StorePath(absRoot),
		BusyTimeoutMS: cfg.Store.BusyTimeoutMS,
	})
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}

	embedder := opts.Embedder
	if embedder == nil {
		if embedder, err = buildEmbedder(ctx, cfg, opts.Offline, logger); err != nil {
			_ = docs.Close()
			return nil, fmt.Errorf("initialize embedder: %w", err)
		}
	}

	c := &Client{
		root:     absRoot,
		cfg:      cfg,
		logger:   logger,
		embedder: embedder,
		docs:     docs,
	}
	if err := c.loadBackends(ctx); err != nil {
		_ = embedder.Close()
		_ = docs.Close()
		return nil, err
	}
	return c, nil
}

// Root returns the absolute corpus root the Client was opened on.
func (c *Client) Root() string {
	return c.root
}

// Index rebuilds the corpus index from scratch: every supported file
// under the root is re-read, re-chunked, and re-embedded, and the fresh
// snapshots replace the previous ones on disk. A rebuild that fails
// midway leaves the chunk store empty; retry Index to recover.
func (c *Client) Index(ctx context.Context) (*IndexResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	idx := c.newLexical()
	vec, err := c.newVector()
	if err != nil {
		return nil, fmt.Errorf("create vector index: %w", err)
	}

	ingOpts := []ingest.Option{
		ingest.WithLogger(c.logger),
		ingest.WithMaxFileSize(int64(c.cfg.Ingest.MaxFileSizeMB) << 20),
		ingest.WithSplitter(chunk.NewSplitterWithOptions(chunk.Options{
			MaxTokens:     c.cfg.Ingest.MaxChunkTokens,
			OverlapTokens: c.cfg.Ingest.OverlapTokens,
		})),
	}
	if c.cfg.Ingest.Workers > 0 {
		ingOpts = append(ingOpts, ingest.WithPoolSize(c.cfg.Ingest.Workers))
	}

	pipe, err := ingest.NewPipeline(idx, vec, c.docs, ingOpts...)
	if err != nil {
		_ = vec.Close()
		return nil, fmt.Errorf("create ingest pipeline: %w", err)
	}
	defer pipe.Release()

	start := time.Now()
	if err := c.docs.Clear(ctx); err != nil {
		_ = vec.Close()
		return nil, fmt.Errorf("clear chunk store: %w", err)
	}

	res, err := pipe.IngestDir(ctx, c.root)
	if err != nil {
		_ = vec.Close()
		return nil, fmt.Errorf("index corpus: %w", err)
	}

	if err := idx.Save(c.cfg.SnapshotPath(c.root)); err != nil {
		_ = vec.Close()
		return nil, fmt.Errorf("save lexical snapshot: %w", err)
	}
	if err := vec.Save(c.cfg.VectorIndexPath(c.root)); err != nil {
		_ = vec.Close()
		return nil, fmt.Errorf("save vector index: %w", err)
	}

	eng, err := c.buildEngine(ctx, idx, vec)
	if err != nil {
		_ = vec.Close()
		return nil, err
	}

	// Swap in the fresh backends, then release the old ones. The old
	// engine owns the old vector index and closes it.
	oldEng := c.eng
	c.idx, c.vec, c.eng = idx, vec, eng
	if oldEng != nil {
		_ = oldEng.Close()
	}

	out := &IndexResult{
		FilesScanned:  res.FilesScanned,
		FilesIndexed:  res.FilesIndexed,
		FilesSkipped:  res.FilesSkipped,
		FilesFailed:   res.FilesFailed,
		ChunksIndexed: res.ChunksIndexed,
		Took:          time.Since(start),
	}
	for _, fe := range res.Errors {
		out.Failures = append(out.Failures, fmt.Errorf("%s: %w", fe.Path, fe.Err))
	}
	return out, nil
}

// Search runs one query through fusion and the filter pipeline.
func (c *Client) Search(ctx context.Context, query string, opts *SearchOptions) (*Response, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}

	var engineOpts search.SearchOptions
	if opts != nil {
		engineOpts.Limit = opts.Limit
		if opts.Fusion != "" {
			fm, err := search.ParseFusionMethod(opts.Fusion)
			if err != nil {
				return nil, err
			}
			engineOpts.Fusion = &fm
		}
	}

	resp, err := c.eng.Search(ctx, query, &engineOpts)
	if err != nil {
		return nil, err
	}

	out := &Response{
		Query:      resp.Query,
		Complexity: resp.Complexity.Level.String(),
		Results:    make([]Result, 0, len(resp.Results)),
		Degraded:   resp.Degraded,
		FromCache:  resp.FromCache,
		Took:       resp.Took,
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, Result{
			ID:        r.ID,
			Score:     r.Score,
			Content:   r.Content,
			Reasoning: r.Reasoning,
			Metadata:  r.Metadata,
		})
	}
	return out, nil
}

// Stats reports the shape of the current index.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return Stats{}, ErrClosed
	}

	stored, err := c.docs.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count stored chunks: %w", err)
	}

	is := c.idx.Stats()
	return Stats{
		Chunks:         is.DocumentCount,
		Terms:          is.TermCount,
		AvgChunkTokens: is.AvgDocLength,
		StoredChunks:   stored,
		Vectors:        c.vec.Count(),
	}, nil
}

// Close releases every backend. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.eng != nil {
		// Engine.Close releases the vector index and the alert sink.
		if err := c.eng.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.embedder.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.docs.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// loadBackends opens the indexes from the data directory, or fresh
// empty ones when no snapshots exist, and builds the engine over them.
func (c *Client) loadBackends(ctx context.Context) error {
	vecPath := c.cfg.VectorIndexPath(c.root)
	if existing, err := vector.ReadIndexDimensions(vecPath); err == nil && existing > 0 && existing != c.embedder.Dimensions() {
		return fmt.Errorf(
			"vector index was built with %d-dimensional embeddings but %s produces %d; delete the data directory or re-run 'docquery index'",
			existing, c.embedder.ModelName(), c.embedder.Dimensions())
	}

	vec, err := c.newVector()
	if err != nil {
		return fmt.Errorf("create vector index: %w", err)
	}
	if fileExists(vecPath) {
		if err := vec.Load(vecPath); err != nil {
			_ = vec.Close()
			return fmt.Errorf("load vector index: %w", err)
		}
	}

	var idx *index.BM25Index
	if snapPath := c.cfg.SnapshotPath(c.root); fileExists(snapPath) {
		if idx, err = index.Load(snapPath); err != nil {
			_ = vec.Close()
			return fmt.Errorf("load lexical snapshot: %w", err)
		}
	} else {
		idx = c.newLexical()
	}

	eng, err := c.buildEngine(ctx, idx, vec)
	if err != nil {
		_ = vec.Close()
		return err
	}

	c.idx, c.vec, c.eng = idx, vec, eng
	return nil
}

func (c *Client) newLexical() *index.BM25Index {
	return index.New(index.Config{
		K1:             c.cfg.Index.K1,
		B:              c.cfg.Index.B,
		MinTokenLength: c.cfg.Index.MinTokenLength,
		StopWords:      c.cfg.Index.StopWords,
		TokenMemoSize:  c.cfg.Index.TokenMemoSize,
	})
}

func (c *Client) newVector() (*vector.Index, error) {
	return vector.NewIndex(vector.Config{
		Dimensions: c.cfg.Embed.Dimensions,
		Metric:     c.cfg.Vector.Metric,
		M:          c.cfg.Vector.M,
		EfSearch:   c.cfg.Vector.EfSearch,
	}, c.embedder)
}

// buildEngine assembles the filter pipeline, optional cross-encoder,
// result cache, and optional alert webhook around the given indexes.
func (c *Client) buildEngine(ctx context.Context, idx *index.BM25Index, vec *vector.Index) (*search.Engine, error) {
	var pipeOpts []pipeline.Option
	if c.cfg.Rerank.Enabled && c.cfg.Rerank.BaseURL != "" {
		enc, err := rerank.NewHTTPCrossEncoder(rerank.HTTPConfig{
			BaseURL:        c.cfg.Rerank.BaseURL,
			Timeout:        config.Duration(c.cfg.Rerank.Timeout, 0),
			ConnectTimeout: config.Duration(c.cfg.Rerank.ConnectTimeout, 0),
			MaxRetries:     c.cfg.Rerank.MaxRetries,
		}, c.logger)
		if err != nil {
			return nil, fmt.Errorf("configure cross-encoder: %w", err)
		}
		pipeOpts = append(pipeOpts, pipeline.WithCrossEncoder(enc, enc.Available(ctx)))
	}

	pipe, err := pipeline.New(pipeline.Config{
		MaxIntake:           c.cfg.Pipeline.MaxIntake,
		SimilarityThreshold: c.cfg.Pipeline.SimilarityThreshold,
		VectorWeight:        c.cfg.Pipeline.VectorWeight,
		LexicalWeight:       c.cfg.Pipeline.LexicalWeight,
		KeywordWeight:       c.cfg.Pipeline.KeywordWeight,
		DomainKeywords:      c.cfg.Pipeline.DomainKeywords,
		MaxKeywordResults:   c.cfg.Pipeline.MaxKeywordResults,
		RerankFloor:         c.cfg.Pipeline.RerankFloor,
		MaxRerankResults:    c.cfg.Pipeline.MaxRerankResults,
	}, c.docs, c.logger, pipeOpts...)
	if err != nil {
		return nil, fmt.Errorf("create filter pipeline: %w", err)
	}

	fusion, err := search.ParseFusionMethod(c.cfg.Search.Fusion)
	if err != nil {
		return nil, err
	}

	engOpts := []search.EngineOption{
		search.WithCache(cache.New[*search.Response](cache.Config{
			Capacity:   c.cfg.Cache.Capacity,
			TTL:        config.Duration(c.cfg.Cache.TTL, 5*time.Minute),
			SlidingTTL: c.cfg.Cache.SlidingTTL,
		})),
	}
	if c.cfg.Alert.WebhookURL != "" {
		wh, err := alert.NewWebhook(alert.WebhookConfig{
			URL:           c.cfg.Alert.WebhookURL,
			Timeout:       config.Duration(c.cfg.Alert.Timeout, 0),
			MaxRetries:    c.cfg.Alert.MaxRetries,
			QueueSize:     c.cfg.Alert.QueueSize,
			RatePerSecond: c.cfg.Alert.RatePerSecond,
			Burst:         c.cfg.Alert.Burst,
		}, c.logger)
		if err != nil {
			return nil, fmt.Errorf("configure alert webhook: %w", err)
		}
		engOpts = append(engOpts, search.WithAlerts(wh))
	}

	return search.NewEngine(search.EngineConfig{
		Fusion: fusion,
		Weights: search.Weights{
			Lexical: c.cfg.Search.LexicalWeight,
			Vector:  c.cfg.Search.VectorWeight,
		},
		RRFK:           c.cfg.Search.RRFK,
		CandidateDepth: c.cfg.Search.CandidateDepth,
	}, idx, vec, pipe, c.logger, engOpts...)
}

// buildEmbedder constructs the configured embedding backend. Offline
// mode forces deterministic static embeddings.
func buildEmbedder(ctx context.Context, cfg *config.Config, offline bool, logger *slog.Logger) (embed.Embedder, error) {
	if offline {
		return embed.NewStaticEmbedder(), nil
	}

	provider, err := embed.ParseProvider(cfg.Embed.Provider)
	if err != nil {
		return nil, err
	}

	ollamaCfg := embed.DefaultOllamaConfig()
	if cfg.Embed.Host != "" {
		ollamaCfg.Host = cfg.Embed.Host
	}
	if cfg.Embed.Model != "" {
		ollamaCfg.Model = cfg.Embed.Model
	}
	if len(cfg.Embed.FallbackModels) > 0 {
		ollamaCfg.FallbackModels = cfg.Embed.FallbackModels
	}
	ollamaCfg.Dimensions = cfg.Embed.Dimensions
	if cfg.Embed.BatchSize > 0 {
		ollamaCfg.BatchSize = cfg.Embed.BatchSize
	}
	ollamaCfg.ConnectTimeout = config.Duration(cfg.Embed.ConnectTimeout, ollamaCfg.ConnectTimeout)
	if cfg.Embed.MaxRetries > 0 {
		ollamaCfg.MaxRetries = cfg.Embed.MaxRetries
	}

	return embed.NewEmbedder(ctx, provider, ollamaCfg, logger)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
