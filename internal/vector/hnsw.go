package vector

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/namjunsu/docquery/internal/embed"
	dqerrors "github.com/namjunsu/docquery/internal/errors"
)

// Distance metrics supported by the index.
const (
	MetricCosine = "cos"
	MetricL2     = "l2"
)

const (
	// DefaultM is the maximum neighbor count per graph node.
	DefaultM = 16

	// DefaultEfSearch is the candidate list size during search.
	DefaultEfSearch = 20

	// defaultMl is the level generation factor, roughly 1/ln(M).
	defaultMl = 0.25
)

// Config holds HNSW index parameters. The zero value picks cosine
// distance and the embedder's output width.
type Config struct {
	Dimensions int
	Metric     string
	M          int
	EfSearch   int
}

// indexMetadata is the gob sidecar persisted next to the graph file. The
// graph stores uint64 keys only, so the string mappings live here.
type indexMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  Config
}

// Index is an in-process HNSW store over embedded documents. It owns the
// query embedding step so callers search by text, and it maps string
// document IDs onto the graph's uint64 keys.
//
// Deletion is lazy: removed entries only drop their ID mapping and the
// graph node stays behind as an orphan. Deleting nodes from the graph
// itself can corrupt it when the last node goes, so orphans are skipped
// at search time and counted in Stats for compaction decisions.
type Index struct {
	embedder embed.Embedder

	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	cfg     Config
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
	closed  bool
}

var _ Searcher = (*Index)(nil)

// NewIndex builds an empty HNSW index that embeds queries and documents
// through embedder. Unset config fields fall back to defaults, with the
// dimension count taken from the embedder.
func NewIndex(cfg Config, embedder embed.Embedder) (*Index, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = embedder.Dimensions()
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}
	if cfg.Metric != MetricCosine && cfg.Metric != MetricL2 {
		return nil, fmt.Errorf("unknown distance metric %q", cfg.Metric)
	}
	if cfg.M <= 0 {
		cfg.M = DefaultM
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = DefaultEfSearch
	}

	return &Index{
		embedder: embedder,
		graph:    newGraph(cfg),
		cfg:      cfg,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
	}, nil
}

func newGraph(cfg Config) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case MetricL2:
		g.Distance = hnsw.EuclideanDistance
	default:
		g.Distance = hnsw.CosineDistance
	}
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = defaultMl
	return g
}

// AddTexts embeds texts and indexes them under ids. Existing ids are
// replaced.
func (x *Index) AddTexts(ctx context.Context, ids []string, texts []string) error {
	if len(ids) != len(texts) {
		return fmt.Errorf("ids and texts length mismatch: %d vs %d", len(ids), len(texts))
	}
	if len(ids) == 0 {
		return nil
	}
	vectors, err := x.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}
	return x.Add(ctx, ids, vectors)
}

// Add indexes pre-computed vectors under ids. Existing ids are replaced
// through lazy deletion, never by removing graph nodes.
func (x *Index) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return fmt.Errorf("index is closed")
	}

	for _, v := range vectors {
		if len(v) != x.cfg.Dimensions {
			return dimensionMismatch(x.cfg.Dimensions, len(v))
		}
	}

	for i, id := range ids {
		if oldKey, ok := x.idMap[id]; ok {
			delete(x.keyMap, oldKey)
			delete(x.idMap, id)
		}

		key := x.nextKey
		x.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if x.cfg.Metric == MetricCosine {
			normalizeInPlace(vec)
		}

		x.graph.Add(hnsw.MakeNode(key, vec))
		x.idMap[id] = key
		x.keyMap[key] = id
	}
	return nil
}

// Search embeds query and returns the topK nearest documents ordered by
// similarity descending. An empty index yields an empty slice.
func (x *Index) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []Result{}, nil
	}

	// Embedding may hit the network, so it happens before taking the lock.
	vec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if len(vec) != x.cfg.Dimensions {
		return nil, dimensionMismatch(x.cfg.Dimensions, len(vec))
	}
	if x.graph.Len() == 0 {
		return []Result{}, nil
	}

	if x.cfg.Metric == MetricCosine {
		normalizeInPlace(vec)
	}

	// Orphans from lazy deletion still occupy graph slots, so fetch that
	// many extra to keep the effective result count at topK.
	fetch := topK + (x.graph.Len() - len(x.idMap))
	nodes := x.graph.Search(vec, fetch)

	results := make([]Result, 0, min(topK, len(nodes)))
	for _, node := range nodes {
		id, ok := x.keyMap[node.Key]
		if !ok {
			continue
		}
		distance := x.graph.Distance(vec, node.Value)
		results = append(results, Result{
			ID:         id,
			Similarity: distanceToSimilarity(distance, x.cfg.Metric),
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// Delete drops ids from the index. Unknown ids are ignored.
func (x *Index) Delete(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return fmt.Errorf("index is closed")
	}

	for _, id := range ids {
		if key, ok := x.idMap[id]; ok {
			delete(x.keyMap, key)
			delete(x.idMap, id)
		}
	}
	return nil
}

// Contains reports whether id is indexed.
func (x *Index) Contains(id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return false
	}
	_, ok := x.idMap[id]
	return ok
}

// Count returns the number of live documents.
func (x *Index) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return 0
	}
	return len(x.idMap)
}

// IndexStats describes graph occupancy. Orphans are lazy-deleted nodes
// that still sit in the graph.
type IndexStats struct {
	ValidIDs   int
	GraphNodes int
	Orphans    int
}

// Stats returns occupancy counters for compaction decisions.
func (x *Index) Stats() IndexStats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return IndexStats{}
	}
	valid := len(x.idMap)
	nodes := x.graph.Len()
	return IndexStats{ValidIDs: valid, GraphNodes: nodes, Orphans: nodes - valid}
}

// Save persists the graph and its ID mappings to path and path+".meta".
// Both writes go through a temp file and rename.
func (x *Index) Save(path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return fmt.Errorf("index is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := x.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename index file: %w", err)
	}

	if err := x.saveMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("save index metadata: %w", err)
	}
	return nil
}

func (x *Index) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}

	meta := indexMetadata{IDMap: x.idMap, NextKey: x.nextKey, Config: x.cfg}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load replaces the index contents with a previously saved graph. The
// embedder's width must match the persisted dimensions.
func (x *Index) Load(path string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return fmt.Errorf("index is closed")
	}

	meta, err := loadMetadata(path + ".meta")
	if err != nil {
		return fmt.Errorf("load index metadata: %w", err)
	}
	if dims := x.embedder.Dimensions(); dims > 0 && dims != meta.Config.Dimensions {
		return dimensionMismatch(meta.Config.Dimensions, dims)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer func() { _ = file.Close() }()

	graph := newGraph(meta.Config)
	// hnsw Import requires an io.ByteReader.
	if err := graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}

	x.graph = graph
	x.cfg = meta.Config
	x.idMap = meta.IDMap
	x.nextKey = meta.NextKey
	x.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		x.keyMap[key] = id
	}
	return nil
}

func loadMetadata(path string) (indexMetadata, error) {
	var meta indexMetadata
	file, err := os.Open(path)
	if err != nil {
		return meta, err
	}
	defer func() { _ = file.Close() }()

	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return meta, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

// ReadIndexDimensions reads the embedding width from a saved index's
// metadata without loading the graph. Returns 0 when no index exists, so
// a fresh start needs no special casing.
func ReadIndexDimensions(path string) (int, error) {
	meta, err := loadMetadata(path + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return meta.Config.Dimensions, nil
}

// Close marks the index unusable. The embedder stays open, its owner
// closes it.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	x.graph = nil
	return nil
}

func dimensionMismatch(want, got int) error {
	return dqerrors.New(dqerrors.ErrCodeDimensionMismatch,
		fmt.Sprintf("expected %d dimensions, got %d", want, got), nil)
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToSimilarity maps a metric distance onto [0,1], higher closer.
// Cosine distance spans 0..2, L2 spans 0..inf.
func distanceToSimilarity(distance float32, metric string) float64 {
	switch metric {
	case MetricL2:
		return 1 / (1 + float64(distance))
	default:
		return 1 - float64(distance)/2
	}
}
