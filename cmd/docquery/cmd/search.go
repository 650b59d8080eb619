package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/namjunsu/docquery/internal/alert"
	"github.com/namjunsu/docquery/internal/cache"
	"github.com/namjunsu/docquery/internal/config"
	"github.com/namjunsu/docquery/internal/embed"
	"github.com/namjunsu/docquery/internal/index"
	"github.com/namjunsu/docquery/internal/logging"
	"github.com/namjunsu/docquery/internal/output"
	"github.com/namjunsu/docquery/internal/pipeline"
	"github.com/namjunsu/docquery/internal/rerank"
	"github.com/namjunsu/docquery/internal/search"
	"github.com/namjunsu/docquery/internal/store"
	"github.com/namjunsu/docquery/internal/vector"
)

type searchFlags struct {
	limit   int
	format  string
	fusion  string
	offline bool
}

func newSearchCmd() *cobra.Command {
	var flags searchFlags

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed corpus",
		Long: `Search the indexed corpus with hybrid retrieval.

The query runs against the lexical and vector indexes in parallel, the
ranked lists are fused, and candidates pass through the filter pipeline
before the top results are printed.`,
		Example: `  # Adaptive result count based on query complexity
  docquery search "how to configure authentication"

  # Fixed result count, JSON output
  docquery search -n 5 -f json "error handling"

  # Force a fusion strategy for this query
  docquery search --fusion weighted_sum "deployment checklist"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, flags)
		},
	}

	cmd.Flags().IntVarP(&flags.limit, "limit", "n", 0, "Maximum results (0 lets the query classifier decide)")
	cmd.Flags().StringVarP(&flags.format, "format", "f", "text", "Output format: text or json")
	cmd.Flags().StringVar(&flags.fusion, "fusion", "", "Fusion override: rrf or weighted_sum")
	cmd.Flags().BoolVar(&flags.offline, "offline", false, "Use deterministic local embeddings (no Ollama required)")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, flags searchFlags) error {
	if flags.format != "text" && flags.format != "json" {
		return fmt.Errorf("unknown format %q (expected text or json)", flags.format)
	}

	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	root, err := config.FindCorpusRoot(".")
	if err != nil {
		if root, err = os.Getwd(); err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
	}

	cfg, err := config.LoadDir(root)
	if err != nil {
		return err
	}

	if !fileExists(cfg.SnapshotPath(root)) {
		return fmt.Errorf("no index found in %s (run 'docquery index' first)", root)
	}

	b, err := openBackends(ctx, cfg, root, flags.offline)
	if err != nil {
		return err
	}
	defer func() { _ = b.docs.Close() }()
	defer func() { _ = b.embedder.Close() }()

	eng, err := buildEngine(ctx, cfg, b, slog.Default())
	if err != nil {
		_ = b.vec.Close()
		return err
	}
	// Engine.Close releases the vector index and the alert sink.
	defer func() { _ = eng.Close() }()

	opts := &search.SearchOptions{Limit: flags.limit}
	if flags.fusion != "" {
		fm, err := search.ParseFusionMethod(flags.fusion)
		if err != nil {
			return err
		}
		opts.Fusion = &fm
	}

	resp, err := eng.Search(ctx, query, opts)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if flags.format == "json" {
		return printSearchJSON(cmd, resp)
	}
	printSearchText(output.New(cmd.OutOrStdout()), resp)
	return nil
}

// backends bundles the storage layers a command opens from the data
// directory. Callers close docs and embedder themselves; vec ownership
// passes to the engine when one is built.
type backends struct {
	docs     *store.SQLiteStore
	idx      *index.BM25Index
	vec      *vector.Index
	embedder embed.Embedder
}

// openBackends opens the document store, the embedder, and both indexes
// from the data directory. Missing snapshot files yield empty indexes,
// so callers that require an existing index check for one first.
func openBackends(ctx context.Context, cfg *config.Config, root string, offline bool) (*backends, error) {
	docs, err := store.NewSQLiteStore(store.Config{
		Path:          cfg.StorePath(root),
		BusyTimeoutMS: cfg.Store.BusyTimeoutMS,
	})
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}

	embedder, err := newEmbedder(ctx, cfg, offline)
	if err != nil {
		_ = docs.Close()
		return nil, fmt.Errorf("initialize embedder: %w", err)
	}

	fail := func(err error) (*backends, error) {
		_ = embedder.Close()
		_ = docs.Close()
		return nil, err
	}

	vecPath := cfg.VectorIndexPath(root)
	if existing, derr := vector.ReadIndexDimensions(vecPath); derr == nil && existing > 0 && existing != embedder.Dimensions() {
		return fail(fmt.Errorf(
			"vector index was built with %d-dimensional embeddings but %s produces %d; re-run 'docquery index'",
			existing, embedder.ModelName(), embedder.Dimensions()))
	}

	vec, err := vector.NewIndex(vector.Config{
		Dimensions: cfg.Embed.Dimensions,
		Metric:     cfg.Vector.Metric,
		M:          cfg.Vector.M,
		EfSearch:   cfg.Vector.EfSearch,
	}, embedder)
	if err != nil {
		return fail(fmt.Errorf("create vector index: %w", err))
	}
	if fileExists(vecPath) {
		if err := vec.Load(vecPath); err != nil {
			_ = vec.Close()
			return fail(fmt.Errorf("load vector index: %w", err))
		}
	}

	var idx *index.BM25Index
	snapPath := cfg.SnapshotPath(root)
	if fileExists(snapPath) {
		idx, err = index.Load(snapPath)
		if err != nil {
			_ = vec.Close()
			return fail(fmt.Errorf("load lexical snapshot: %w", err))
		}
	} else {
		idx = index.New(index.Config{
			K1:             cfg.Index.K1,
			B:              cfg.Index.B,
			MinTokenLength: cfg.Index.MinTokenLength,
			StopWords:      cfg.Index.StopWords,
			TokenMemoSize:  cfg.Index.TokenMemoSize,
		})
	}

	return &backends{docs: docs, idx: idx, vec: vec, embedder: embedder}, nil
}

// buildEngine assembles the search engine from configuration: filter
// pipeline, optional cross-encoder, result cache, and optional alert
// webhook.
func buildEngine(ctx context.Context, cfg *config.Config, b *backends, logger *slog.Logger) (*search.Engine, error) {
	var pipeOpts []pipeline.Option
	if cfg.Rerank.Enabled && cfg.Rerank.BaseURL != "" {
		enc, err := rerank.NewHTTPCrossEncoder(rerank.HTTPConfig{
			BaseURL:        cfg.Rerank.BaseURL,
			Timeout:        config.Duration(cfg.Rerank.Timeout, 0),
			ConnectTimeout: config.Duration(cfg.Rerank.ConnectTimeout, 0),
			MaxRetries:     cfg.Rerank.MaxRetries,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("configure cross-encoder: %w", err)
		}
		pipeOpts = append(pipeOpts, pipeline.WithCrossEncoder(enc, enc.Available(ctx)))
	}

	pipe, err := pipeline.New(pipeline.Config{
		MaxIntake:           cfg.Pipeline.MaxIntake,
		SimilarityThreshold: cfg.Pipeline.SimilarityThreshold,
		VectorWeight:        cfg.Pipeline.VectorWeight,
		LexicalWeight:       cfg.Pipeline.LexicalWeight,
		KeywordWeight:       cfg.Pipeline.KeywordWeight,
		DomainKeywords:      cfg.Pipeline.DomainKeywords,
		MaxKeywordResults:   cfg.Pipeline.MaxKeywordResults,
		RerankFloor:         cfg.Pipeline.RerankFloor,
		MaxRerankResults:    cfg.Pipeline.MaxRerankResults,
	}, b.docs, logger, pipeOpts...)
	if err != nil {
		return nil, fmt.Errorf("create filter pipeline: %w", err)
	}

	fusion, err := search.ParseFusionMethod(cfg.Search.Fusion)
	if err != nil {
		return nil, err
	}

	engOpts := []search.EngineOption{
		search.WithCache(cache.New[*search.Response](cache.Config{
			Capacity:   cfg.Cache.Capacity,
			TTL:        config.Duration(cfg.Cache.TTL, 5*time.Minute),
			SlidingTTL: cfg.Cache.SlidingTTL,
		})),
	}
	if cfg.Alert.WebhookURL != "" {
		wh, err := alert.NewWebhook(alert.WebhookConfig{
			URL:           cfg.Alert.WebhookURL,
			Timeout:       config.Duration(cfg.Alert.Timeout, 0),
			MaxRetries:    cfg.Alert.MaxRetries,
			QueueSize:     cfg.Alert.QueueSize,
			RatePerSecond: cfg.Alert.RatePerSecond,
			Burst:         cfg.Alert.Burst,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("configure alert webhook: %w", err)
		}
		engOpts = append(engOpts, search.WithAlerts(wh))
	}

	return search.NewEngine(search.EngineConfig{
		Fusion: fusion,
		Weights: search.Weights{
			Lexical: cfg.Search.LexicalWeight,
			Vector:  cfg.Search.VectorWeight,
		},
		RRFK:           cfg.Search.RRFK,
		CandidateDepth: cfg.Search.CandidateDepth,
	}, b.idx, b.vec, pipe, logger, engOpts...)
}

func printSearchText(out *output.Writer, resp *search.Response) {
	if len(resp.Results) == 0 {
		out.Statusf("🔍", "No results for %q", resp.Query)
		if resp.Degraded {
			out.Warning("Vector search was unavailable; only the lexical index was consulted")
		}
		return
	}

	header := fmt.Sprintf("%d results for %q in %s", len(resp.Results), resp.Query, resp.Took.Round(time.Millisecond))
	if resp.FromCache {
		header += " (cached)"
	}
	out.Status("🔍", header)
	if resp.Degraded {
		out.Warning("Vector search was unavailable; results are lexical only")
	}
	out.Newline()

	for i, r := range resp.Results {
		out.Statusf("", "%d. %s (score: %.3f)", i+1, r.ID, r.Score)
		if r.Reasoning != "" {
			out.Statusf("", "   %s", r.Reasoning)
		}
		for _, line := range snippetLines(r.Content, 3) {
			out.Statusf("", "   | %s", line)
		}
		out.Newline()
	}
}

type searchResultJSON struct {
	ID        string         `json:"id"`
	Score     float64        `json:"score"`
	Phase     string         `json:"phase"`
	Reasoning string         `json:"reasoning,omitempty"`
	Snippet   string         `json:"snippet,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type searchResponseJSON struct {
	Query      string             `json:"query"`
	Complexity string             `json:"complexity"`
	Count      int                `json:"count"`
	Degraded   bool               `json:"degraded,omitempty"`
	FromCache  bool               `json:"from_cache,omitempty"`
	TookMS     float64            `json:"took_ms"`
	Results    []searchResultJSON `json:"results"`
}

func printSearchJSON(cmd *cobra.Command, resp *search.Response) error {
	payload := searchResponseJSON{
		Query:      resp.Query,
		Complexity: resp.Complexity.Level.String(),
		Count:      len(resp.Results),
		Degraded:   resp.Degraded,
		FromCache:  resp.FromCache,
		TookMS:     float64(resp.Took.Microseconds()) / 1000.0,
		Results:    make([]searchResultJSON, 0, len(resp.Results)),
	}
	for _, r := range resp.Results {
		payload.Results = append(payload.Results, searchResultJSON{
			ID:        r.ID,
			Score:     r.Score,
			Phase:     r.Phase.String(),
			Reasoning: r.Reasoning,
			Snippet:   strings.Join(snippetLines(r.Content, 3), " "),
			Metadata:  r.Metadata,
		})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	return nil
}

// snippetLines returns up to n non-empty content lines, trimmed and
// truncated to keep terminal output tidy.
func snippetLines(content string, n int) []string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if runes := []rune(trimmed); len(runes) > 120 {
			trimmed = string(runes[:117]) + "..."
		}
		lines = append(lines, trimmed)
		if len(lines) == n {
			break
		}
	}
	return lines
}
