package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/namjunsu/docquery/internal/chunk"
	"github.com/namjunsu/docquery/internal/config"
	"github.com/namjunsu/docquery/internal/ingest"
	"github.com/namjunsu/docquery/internal/logging"
	"github.com/namjunsu/docquery/internal/output"
	"github.com/namjunsu/docquery/internal/telemetry"
	"github.com/namjunsu/docquery/internal/watch"
)

func newMetricsServeCmd() *cobra.Command {
	var (
		addr    string
		offline bool
	)

	cmd := &cobra.Command{
		Use:   "metrics-serve",
		Short: "Watch the corpus and serve ingestion metrics",
		Long: `Run the corpus sync daemon.

The daemon watches the corpus for file changes, keeps the indexes in
sync through the ingestion pipeline, and serves Prometheus metrics over
HTTP. Index snapshots are saved on shutdown so one-shot commands pick
up the synced state.`,
		Example: `  # Serve on the configured address (default :9090)
  docquery metrics-serve

  # Serve on a specific address
  docquery metrics-serve --addr 127.0.0.1:9100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMetricsServe(ctx, cmd, addr, offline)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address for /metrics (overrides configuration)")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use deterministic local embeddings (no Ollama required)")

	return cmd
}

func runMetricsServe(ctx context.Context, cmd *cobra.Command, addr string, offline bool) error {
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

	logger, cleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.FilePath,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: cfg.Logging.WriteToStderr,
	})
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.EffectiveDataDir(root), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	b, err := openBackends(ctx, cfg, root, offline)
	if err != nil {
		return err
	}
	defer func() { _ = b.docs.Close() }()
	defer func() { _ = b.embedder.Close() }()
	defer func() { _ = b.vec.Close() }()

	metrics := telemetry.New()

	opts := []ingest.Option{
		ingest.WithLogger(logger),
		ingest.WithMetrics(metrics),
		ingest.WithMaxFileSize(int64(cfg.Ingest.MaxFileSizeMB) << 20),
		ingest.WithSplitter(chunk.NewSplitterWithOptions(chunk.Options{
			MaxTokens:     cfg.Ingest.MaxChunkTokens,
			OverlapTokens: cfg.Ingest.OverlapTokens,
		})),
	}
	if cfg.Ingest.Workers > 0 {
		opts = append(opts, ingest.WithPoolSize(cfg.Ingest.Workers))
	}
	pipe, err := ingest.NewPipeline(b.idx, b.vec, b.docs, opts...)
	if err != nil {
		return fmt.Errorf("create ingest pipeline: %w", err)
	}
	defer pipe.Release()

	watcher, err := watch.New(pipe, watch.Options{
		Debounce: config.Duration(cfg.Ingest.WatchDebounce, 200*time.Millisecond),
	}, logger)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	listenAddr := addr
	if listenAddr == "" {
		listenAddr = cfg.Telemetry.ListenAddr
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	go func() {
		if err := watcher.Run(ctx, root); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("watcher: %w", err)
		}
	}()

	out := output.New(cmd.OutOrStdout())
	out.Statusf("👀", "Watching %s", root)
	out.Statusf("📈", "Metrics on http://%s/metrics", listenAddr)
	out.Status("", "Press Ctrl+C to stop")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		logger.Error("daemon failed", "error", runErr)
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warn("metrics server shutdown", "error", err)
	}
	_ = watcher.Stop()

	// Persist the synced state so index and search commands see it.
	if err := b.idx.Save(cfg.SnapshotPath(root)); err != nil {
		logger.Warn("save lexical snapshot", "error", err)
	}
	if err := b.vec.Save(cfg.VectorIndexPath(root)); err != nil {
		logger.Warn("save vector index", "error", err)
	}

	out.Newline()
	out.Success("Shut down; index snapshots saved")

	return runErr
}
