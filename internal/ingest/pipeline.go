// Package ingest walks a corpus directory and feeds files through
// extraction, chunking, embedding, and indexing. Files are processed on
// a worker pool; a failing file is recorded and the batch moves on.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/namjunsu/docquery/internal/chunk"
	"github.com/namjunsu/docquery/internal/extract"
	"github.com/namjunsu/docquery/internal/gitignore"
	"github.com/namjunsu/docquery/internal/index"
	"github.com/namjunsu/docquery/internal/store"
	"github.com/namjunsu/docquery/internal/telemetry"
	"github.com/namjunsu/docquery/internal/vector"
)

// DefaultMaxFileSize bounds what a single corpus file may weigh.
const DefaultMaxFileSize = 10 << 20 // 10 MiB

var (
	// ErrIndexRequired is returned when the lexical index is not provided.
	ErrIndexRequired = errors.New("lexical index required")

	// ErrVectorsRequired is returned when the vector index is not provided.
	ErrVectorsRequired = errors.New("vector index required")

	// ErrStoreRequired is returned when the document store is not provided.
	ErrStoreRequired = errors.New("document store required")
)

// FileError records one file that failed during a corpus run.
type FileError struct {
	Path string
	Err  error
}

// Result summarizes a corpus ingestion run.
type Result struct {
	FilesScanned  int
	FilesIndexed  int
	FilesSkipped  int
	FilesFailed   int
	ChunksIndexed int
	Errors        []FileError
	Took          time.Duration
}

// Pipeline coordinates the backends a document lands in: the BM25
// index, the vector index, and the document store.
type Pipeline struct {
	index       *index.BM25Index
	vectors     *vector.Index
	docs        store.DocumentStore
	splitter    *chunk.Splitter
	pool        *ants.Pool
	metrics     *telemetry.Metrics
	maxFileSize int64
	logger      *slog.Logger

	ignoreMu   sync.Mutex
	ignore     *gitignore.Matcher
	ignoreRoot string
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent file
// processing. Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if p.pool != nil {
			p.pool.Release()
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger != nil {
			p.logger = logger
		}
		return nil
	}
}

// WithMetrics wires ingestion counters into the collector set.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Pipeline) error {
		p.metrics = m
		return nil
	}
}

// WithMaxFileSize overrides the per-file size cap in bytes.
func WithMaxFileSize(limit int64) Option {
	return func(p *Pipeline) error {
		if limit <= 0 {
			return fmt.Errorf("max file size must be positive, got %d", limit)
		}
		p.maxFileSize = limit
		return nil
	}
}

// WithSplitter overrides the chunking configuration.
func WithSplitter(s *chunk.Splitter) Option {
	return func(p *Pipeline) error {
		if s != nil {
			p.splitter = s
		}
		return nil
	}
}

// NewPipeline creates an ingestion pipeline over the given backends.
func NewPipeline(idx *index.BM25Index, vectors *vector.Index, docs store.DocumentStore, opts ...Option) (*Pipeline, error) {
	if idx == nil {
		return nil, ErrIndexRequired
	}
	if vectors == nil {
		return nil, ErrVectorsRequired
	}
	if docs == nil {
		return nil, ErrStoreRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		index:       idx,
		vectors:     vectors,
		docs:        docs,
		splitter:    chunk.NewSplitter(),
		pool:        pool,
		maxFileSize: DefaultMaxFileSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	p.logger = p.logger.With("component", "ingest")
	return p, nil
}

// IngestDir walks root and indexes every supported file. Hidden entries,
// symlinks, and paths matching the root .gitignore are skipped, as are
// files over the size cap. Individual file failures land in
// Result.Errors without stopping the run.
func (p *Pipeline) IngestDir(ctx context.Context, root string) (*Result, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve corpus root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat corpus root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus root %s is not a directory", root)
	}

	start := time.Now()
	res := &Result{}
	ignore := p.ignoreRules(absRoot)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return nil // skip entries we cannot access
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil || rel == "." {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if ignore.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		mu.Lock()
		res.FilesScanned++
		mu.Unlock()

		if ignore.Match(rel, false) {
			p.recordSkip(res, &mu, rel, "gitignored")
			return nil
		}

		if _, ok := extract.ForPath(path); !ok {
			p.recordSkip(res, &mu, rel, "unsupported format")
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if fi.Size() > p.maxFileSize {
			p.recordSkip(res, &mu, rel, "file too large")
			return nil
		}

		wg.Add(1)
		task := func() {
			defer wg.Done()
			chunks, procErr := p.ingestOne(ctx, absRoot, path)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case procErr != nil:
				res.FilesFailed++
				res.Errors = append(res.Errors, FileError{Path: rel, Err: procErr})
				p.logger.Warn("file ingestion failed", "path", rel, "error", procErr)
			case chunks == 0:
				res.FilesSkipped++
			default:
				res.FilesIndexed++
				res.ChunksIndexed += chunks
			}
		}
		if submitErr := p.pool.Submit(task); submitErr != nil {
			wg.Done()
			return fmt.Errorf("submit ingestion task: %w", submitErr)
		}
		return nil
	})

	wg.Wait()
	res.Took = time.Since(start)
	if walkErr != nil {
		return res, walkErr
	}

	p.logger.Info("corpus ingested",
		"root", absRoot,
		"files_indexed", res.FilesIndexed,
		"files_skipped", res.FilesSkipped,
		"files_failed", res.FilesFailed,
		"chunks", res.ChunksIndexed,
		"took", res.Took)
	return res, nil
}

// ProcessFile ingests one file, replacing chunks from any prior
// ingestion of the same path. Unsupported formats, gitignored paths, and
// oversized files are skipped silently so watcher callbacks can fire on
// anything.
func (p *Pipeline) ProcessFile(ctx context.Context, root, path string) (int, error) {
	if _, ok := extract.ForPath(path); !ok {
		return 0, nil
	}
	if rel, err := filepath.Rel(root, path); err == nil && p.ignoreRules(root).Match(rel, false) {
		p.logger.Debug("skipping gitignored file", "path", path)
		return 0, nil
	}
	fi, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat file: %w", err)
	}
	if fi.Size() > p.maxFileSize {
		p.logger.Debug("skipping oversized file", "path", path, "size", fi.Size())
		return 0, nil
	}
	return p.ingestOne(ctx, root, path)
}

// ignoreRules returns the matcher for root's .gitignore, reading the
// file once per root and caching the result for the watcher path. Rules
// are not re-read while the pipeline runs.
func (p *Pipeline) ignoreRules(root string) *gitignore.Matcher {
	p.ignoreMu.Lock()
	defer p.ignoreMu.Unlock()

	if p.ignore != nil && p.ignoreRoot == root {
		return p.ignore
	}

	m := gitignore.NewMatcher()
	if err := m.LoadFile(filepath.Join(root, ".gitignore")); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("read .gitignore", "root", root, "error", err)
	}
	if m.Len() > 0 {
		p.logger.Debug("loaded ignore rules", "root", root, "rules", m.Len())
	}
	p.ignore = m
	p.ignoreRoot = root
	return m
}

// RemoveFile drops every chunk of path from all backends.
func (p *Pipeline) RemoveFile(ctx context.Context, root, path string) error {
	rel, err := relSource(root, path)
	if err != nil {
		return err
	}
	stale := p.staleChunkIDs(rel)
	if len(stale) == 0 {
		return nil
	}

	p.index.Remove(stale)
	vecErr := p.vectors.Delete(ctx, stale)
	docErr := p.docs.Delete(ctx, stale)
	if err := errors.Join(vecErr, docErr); err != nil {
		return fmt.Errorf("remove %s: %w", rel, err)
	}
	p.logger.Info("file removed from index", "path", rel, "chunks", len(stale))
	return nil
}

// Release shuts down the worker pool. The pipeline is unusable after.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

func (p *Pipeline) ingestOne(ctx context.Context, root, path string) (int, error) {
	n, err := p.processFile(ctx, root, path)
	if p.metrics != nil {
		switch {
		case err != nil:
			p.metrics.FilesIngested.WithLabelValues(telemetry.IngestFailed).Inc()
		case n == 0:
			p.metrics.FilesIngested.WithLabelValues(telemetry.IngestSkipped).Inc()
		default:
			p.metrics.FilesIngested.WithLabelValues(telemetry.IngestIndexed).Inc()
			p.metrics.DocsIndexed.Add(float64(n))
		}
	}
	return n, err
}

func (p *Pipeline) processFile(ctx context.Context, root, path string) (int, error) {
	extractor, ok := extract.ForPath(path)
	if !ok {
		return 0, nil
	}
	rel, err := relSource(root, path)
	if err != nil {
		return 0, err
	}

	text, err := extractor.Extract(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("extract text: %w", err)
	}
	chunks := p.splitter.Split(rel, text)
	if len(chunks) == 0 {
		p.logger.Debug("no indexable content", "path", rel)
		return 0, nil
	}

	now := time.Now()
	ids := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	docs := make([]*store.Document, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		texts[i] = c.Content
		docs[i] = &store.Document{
			ID:      c.ID,
			Content: c.Content,
			Metadata: map[string]any{
				"source":     c.Source,
				"chunk":      c.Ordinal,
				"start_line": c.StartLine,
				"end_line":   c.EndLine,
			},
			AddedAt: now,
		}
	}

	if stale := p.staleChunkIDs(rel); len(stale) > 0 {
		p.index.Remove(stale)
		if err := p.vectors.Delete(ctx, stale); err != nil {
			return 0, fmt.Errorf("drop stale vectors: %w", err)
		}
		if err := p.docs.Delete(ctx, stale); err != nil {
			return 0, fmt.Errorf("drop stale documents: %w", err)
		}
	}

	if err := p.docs.Put(ctx, docs); err != nil {
		return 0, fmt.Errorf("store documents: %w", err)
	}
	if err := p.index.Add(docs); err != nil {
		_ = p.docs.Delete(ctx, ids)
		return 0, fmt.Errorf("index documents: %w", err)
	}
	if err := p.vectors.AddTexts(ctx, ids, texts); err != nil {
		p.index.Remove(ids)
		_ = p.docs.Delete(ctx, ids)
		return 0, fmt.Errorf("embed documents: %w", err)
	}

	p.logger.Debug("file indexed", "path", rel, "chunks", len(chunks))
	return len(chunks), nil
}

// staleChunkIDs finds the chunks of a prior ingestion of rel. Ordinals
// are dense from zero, so probing in order finds every one.
func (p *Pipeline) staleChunkIDs(rel string) []string {
	var stale []string
	for i := 0; ; i++ {
		id := fmt.Sprintf("%s#%03d", rel, i)
		if !p.index.Contains(id) {
			break
		}
		stale = append(stale, id)
	}
	return stale
}

func (p *Pipeline) recordSkip(res *Result, mu *sync.Mutex, rel, reason string) {
	mu.Lock()
	res.FilesSkipped++
	mu.Unlock()
	if p.metrics != nil {
		p.metrics.FilesIngested.WithLabelValues(telemetry.IngestSkipped).Inc()
	}
	p.logger.Debug("skipping file", "path", rel, "reason", reason)
}

// relSource normalizes path against root into the portable source id
// used in chunk ids.
func relSource(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", fmt.Errorf("relativize %s: %w", path, err)
	}
	return filepath.ToSlash(rel), nil
}
