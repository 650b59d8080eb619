package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/namjunsu/docquery/internal/config"
	"github.com/namjunsu/docquery/internal/index"
	"github.com/namjunsu/docquery/internal/output"
	"github.com/namjunsu/docquery/internal/store"
	"github.com/namjunsu/docquery/internal/vector"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Long: `Show statistics for the corpus index: chunk and term counts from
the lexical index, vector index dimensions, and on-disk sizes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

type statsOutput struct {
	Root             string  `json:"root"`
	Chunks           int     `json:"chunks"`
	Terms            int     `json:"terms"`
	AvgChunkTokens   float64 `json:"avg_chunk_tokens"`
	StoredChunks     int     `json:"stored_chunks"`
	VectorDimensions int     `json:"vector_dimensions"`
	StoreBytes       int64   `json:"store_bytes"`
	SnapshotBytes    int64   `json:"snapshot_bytes"`
	VectorBytes      int64   `json:"vector_bytes"`
}

func runStats(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
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

	snapPath := cfg.SnapshotPath(root)
	if !fileExists(snapPath) {
		return fmt.Errorf("no index found in %s (run 'docquery index' first)", root)
	}

	idx, err := index.Load(snapPath)
	if err != nil {
		return fmt.Errorf("load lexical snapshot: %w", err)
	}
	lexStats := idx.Stats()

	docs, err := store.NewSQLiteStore(store.Config{
		Path:          cfg.StorePath(root),
		BusyTimeoutMS: cfg.Store.BusyTimeoutMS,
	})
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	defer func() { _ = docs.Close() }()

	stored, err := docs.Count(ctx)
	if err != nil {
		return fmt.Errorf("count stored chunks: %w", err)
	}

	vecPath := cfg.VectorIndexPath(root)
	dims, err := vector.ReadIndexDimensions(vecPath)
	if err != nil {
		return fmt.Errorf("read vector index metadata: %w", err)
	}

	stats := statsOutput{
		Root:             root,
		Chunks:           lexStats.DocumentCount,
		Terms:            lexStats.TermCount,
		AvgChunkTokens:   lexStats.AvgDocLength,
		StoredChunks:     stored,
		VectorDimensions: dims,
		StoreBytes:       fileSize(cfg.StorePath(root)),
		SnapshotBytes:    fileSize(snapPath),
		VectorBytes:      fileSize(vecPath),
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(stats); err != nil {
			return fmt.Errorf("encode stats: %w", err)
		}
		return nil
	}

	out := output.New(cmd.OutOrStdout())
	out.Statusf("📊", "Index statistics for %s", stats.Root)
	out.Newline()
	out.Statusf("", "Chunks:            %d", stats.Chunks)
	out.Statusf("", "Distinct terms:    %d", stats.Terms)
	out.Statusf("", "Avg chunk tokens:  %.1f", stats.AvgChunkTokens)
	out.Statusf("", "Stored chunks:     %d", stats.StoredChunks)
	if stats.VectorDimensions > 0 {
		out.Statusf("", "Vector dimensions: %d", stats.VectorDimensions)
	} else {
		out.Statusf("", "Vector index:      none")
	}
	out.Newline()
	out.Statusf("", "On disk: store %s, lexical %s, vectors %s",
		humanBytes(stats.StoreBytes), humanBytes(stats.SnapshotBytes), humanBytes(stats.VectorBytes))

	return nil
}

// fileSize returns the size of path in bytes, or zero when it does not
// exist.
func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// humanBytes renders a byte count with a binary unit suffix.
func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for x := n / unit; x >= unit; x /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
