package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/namjunsu/docquery/internal/chunk"
	"github.com/namjunsu/docquery/internal/config"
	"github.com/namjunsu/docquery/internal/embed"
	"github.com/namjunsu/docquery/internal/index"
	"github.com/namjunsu/docquery/internal/ingest"
	"github.com/namjunsu/docquery/internal/logging"
	"github.com/namjunsu/docquery/internal/output"
	"github.com/namjunsu/docquery/internal/store"
	"github.com/namjunsu/docquery/internal/vector"
)

func newIndexCmd() *cobra.Command {
	var (
		offline bool
		workers int
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a directory for searching",
		Long: `Index a directory to enable hybrid search over its contents.

This scans files, splits them into chunks, generates embeddings, and
builds the lexical and vector indexes. The indexes are rebuilt from
scratch on every run and saved under the data directory.`,
		Example: `  # Index the current directory
  docquery index

  # Index another corpus
  docquery index ./manuals

  # Index without an embedding service
  docquery index --offline`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runIndex(ctx, cmd, path, offline, workers)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Use deterministic local embeddings (no Ollama required)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent file workers (0 uses the configured default)")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, path string, offline bool, workers int) error {
	// Log to file only so progress output stays readable.
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	out := output.New(cmd.OutOrStdout())

	absRoot, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return fmt.Errorf("access corpus path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", absRoot)
	}

	cfg, err := config.LoadDir(absRoot)
	if err != nil {
		return err
	}

	dataDir := cfg.EffectiveDataDir(absRoot)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	if err := clearIndexData(cfg, absRoot); err != nil {
		return fmt.Errorf("clear previous index: %w", err)
	}

	docs, err := store.NewSQLiteStore(store.Config{
		Path:          cfg.StorePath(absRoot),
		BusyTimeoutMS: cfg.Store.BusyTimeoutMS,
	})
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	defer func() { _ = docs.Close() }()

	embedder, err := newEmbedder(ctx, cfg, offline)
	if err != nil {
		return fmt.Errorf("initialize embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()
	out.Statusf("🧠", "Embedder: %s (%d dimensions)", embedder.ModelName(), embedder.Dimensions())

	vec, err := vector.NewIndex(vector.Config{
		Dimensions: cfg.Embed.Dimensions,
		Metric:     cfg.Vector.Metric,
		M:          cfg.Vector.M,
		EfSearch:   cfg.Vector.EfSearch,
	}, embedder)
	if err != nil {
		return fmt.Errorf("create vector index: %w", err)
	}
	defer func() { _ = vec.Close() }()

	idx := index.New(index.Config{
		K1:             cfg.Index.K1,
		B:              cfg.Index.B,
		MinTokenLength: cfg.Index.MinTokenLength,
		StopWords:      cfg.Index.StopWords,
		TokenMemoSize:  cfg.Index.TokenMemoSize,
	})

	poolSize := workers
	if poolSize <= 0 {
		poolSize = cfg.Ingest.Workers
	}
	opts := []ingest.Option{
		ingest.WithLogger(slog.Default()),
		ingest.WithMaxFileSize(int64(cfg.Ingest.MaxFileSizeMB) << 20),
		ingest.WithSplitter(chunk.NewSplitterWithOptions(chunk.Options{
			MaxTokens:     cfg.Ingest.MaxChunkTokens,
			OverlapTokens: cfg.Ingest.OverlapTokens,
		})),
	}
	if poolSize > 0 {
		opts = append(opts, ingest.WithPoolSize(poolSize))
	}

	pipe, err := ingest.NewPipeline(idx, vec, docs, opts...)
	if err != nil {
		return fmt.Errorf("create ingest pipeline: %w", err)
	}
	defer pipe.Release()

	out.Statusf("📚", "Indexing %s", absRoot)
	start := time.Now()

	res, err := pipe.IngestDir(ctx, absRoot)
	if err != nil {
		return fmt.Errorf("index corpus: %w", err)
	}

	for _, fe := range res.Errors {
		out.Warningf("%s: %v", fe.Path, fe.Err)
	}

	if err := idx.Save(cfg.SnapshotPath(absRoot)); err != nil {
		return fmt.Errorf("save lexical snapshot: %w", err)
	}
	if err := vec.Save(cfg.VectorIndexPath(absRoot)); err != nil {
		return fmt.Errorf("save vector index: %w", err)
	}

	out.Newline()
	out.Successf("Indexed %d files (%d chunks, %d skipped, %d failed) in %.1fs",
		res.FilesIndexed, res.ChunksIndexed, res.FilesSkipped, res.FilesFailed,
		time.Since(start).Seconds())

	return nil
}

// clearIndexData removes previous index artifacts from the data
// directory so every run rebuilds from a clean slate. The config
// template at the corpus root is left alone.
func clearIndexData(cfg *config.Config, root string) error {
	paths := []string{
		cfg.StorePath(root),
		cfg.StorePath(root) + "-wal",
		cfg.StorePath(root) + "-shm",
		cfg.SnapshotPath(root),
		cfg.SnapshotPath(root) + ".lock",
		cfg.VectorIndexPath(root),
		cfg.VectorIndexPath(root) + ".meta",
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

// newEmbedder builds the configured embedding backend. Offline mode
// forces deterministic static embeddings regardless of configuration.
func newEmbedder(ctx context.Context, cfg *config.Config, offline bool) (embed.Embedder, error) {
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

	return embed.NewEmbedder(ctx, provider, ollamaCfg, slog.Default())
}
