// Package telemetry tracks query behavior in memory and exposes the
// Prometheus collectors for the search service. QueryMetrics answers
// "what are people searching for and is it working" (top terms, zero
// result queries, latency bands); Metrics feeds the /metrics endpoint.
package telemetry

import (
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// QueryClass buckets queries by the complexity level the classifier
// assigned to them.
type QueryClass string

const (
	ClassSimple     QueryClass = "simple"
	ClassComplex    QueryClass = "complex"
	ClassComparison QueryClass = "comparison"
)

// LatencyBucket is a coarse latency band for the in-memory histogram.
type LatencyBucket string

const (
	LatencyP10   LatencyBucket = "p10"   // under 10ms
	LatencyP50   LatencyBucket = "p50"   // under 50ms
	LatencyP100  LatencyBucket = "p100"  // under 100ms
	LatencyP500  LatencyBucket = "p500"  // under 500ms
	LatencyP1000 LatencyBucket = "p1000" // 500ms and above
)

// LatencyToBucket maps a measured duration onto its reporting band.
func LatencyToBucket(d time.Duration) LatencyBucket {
	switch {
	case d < 10*time.Millisecond:
		return LatencyP10
	case d < 50*time.Millisecond:
		return LatencyP50
	case d < 100*time.Millisecond:
		return LatencyP100
	case d < 500*time.Millisecond:
		return LatencyP500
	default:
		return LatencyP1000
	}
}

// minTermLength keeps stopword-sized tokens out of term tracking.
const minTermLength = 3

// ExtractTerms splits a query into the lowercase terms worth counting.
func ExtractTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(query)))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= minTermLength {
			terms = append(terms, f)
		}
	}
	return terms
}

// CircularBuffer keeps the most recent capacity items, overwriting the
// oldest once full. Safe for concurrent use.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int
	size     int
	capacity int
}

// NewCircularBuffer creates a buffer holding at most capacity items.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &CircularBuffer[T]{items: make([]T, capacity), capacity: capacity}
}

// Add appends an item, evicting the oldest when the buffer is full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size < b.capacity {
		b.items[(b.head+b.size)%b.capacity] = item
		b.size++
		return
	}
	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
}

// Items returns the buffered values oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.size == 0 {
		return nil
	}
	out := make([]T, 0, b.size)
	for i := 0; i < b.size; i++ {
		out = append(out, b.items[(b.head+i)%b.capacity])
	}
	return out
}

// Size returns the number of items currently buffered.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// QueryEvent is one completed search as observed by the engine.
type QueryEvent struct {
	Query       string
	Class       QueryClass
	ResultCount int
	Latency     time.Duration
	Degraded    bool
	FromCache   bool
	Timestamp   time.Time
}

// IsZeroResult reports whether the query produced no results.
func (e QueryEvent) IsZeroResult() bool { return e.ResultCount == 0 }

// TermCount pairs a query term with how often it has been seen.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is a point-in-time copy of the collected query statistics.
type Snapshot struct {
	TotalQueries      int64                   `json:"total_queries"`
	ZeroResults       int64                   `json:"zero_results"`
	ZeroResultRate    float64                 `json:"zero_result_rate"`
	Degraded          int64                   `json:"degraded"`
	CacheHits         int64                   `json:"cache_hits"`
	CacheHitRate      float64                 `json:"cache_hit_rate"`
	ByClass           map[QueryClass]int64    `json:"by_class"`
	Latency           map[LatencyBucket]int64 `json:"latency"`
	TopTerms          []TermCount             `json:"top_terms"`
	RecentZeroQueries []string                `json:"recent_zero_queries"`
	QueriesPerMinute  float64                 `json:"queries_per_minute"`
	Uptime            time.Duration           `json:"uptime"`
}

// QueryMetricsConfig sizes the bounded structures inside QueryMetrics.
type QueryMetricsConfig struct {
	TopTermsCapacity    int
	ZeroResultsCapacity int
}

// DefaultQueryMetricsConfig returns the standard capacities.
func DefaultQueryMetricsConfig() QueryMetricsConfig {
	return QueryMetricsConfig{
		TopTermsCapacity:    100,
		ZeroResultsCapacity: 100,
	}
}

// QueryMetrics aggregates per-query statistics in memory. All methods
// are safe for concurrent use.
type QueryMetrics struct {
	mu          sync.RWMutex
	byClass     map[QueryClass]int64
	latency     map[LatencyBucket]int64
	total       int64
	zeroResults int64
	degraded    int64
	cacheHits   int64
	startTime   time.Time

	// topTerms and recentZero carry their own locks and are updated
	// outside mu so Record never holds two locks at once.
	topTerms   *lru.Cache[string, int64]
	recentZero *CircularBuffer[string]
}

// NewQueryMetrics creates a collector with default capacities.
func NewQueryMetrics() *QueryMetrics {
	return NewQueryMetricsWithConfig(DefaultQueryMetricsConfig())
}

// NewQueryMetricsWithConfig creates a collector with the given
// capacities, substituting defaults for non-positive values.
func NewQueryMetricsWithConfig(cfg QueryMetricsConfig) *QueryMetrics {
	def := DefaultQueryMetricsConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}
	// lru.New only fails on non-positive sizes, which are rewritten above.
	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	return &QueryMetrics{
		byClass:    make(map[QueryClass]int64),
		latency:    make(map[LatencyBucket]int64),
		startTime:  time.Now(),
		topTerms:   topTerms,
		recentZero: NewCircularBuffer[string](cfg.ZeroResultsCapacity),
	}
}

// Record folds one completed query into the aggregates.
func (m *QueryMetrics) Record(ev QueryEvent) {
	class := ev.Class
	if class == "" {
		class = ClassSimple
	}

	m.mu.Lock()
	m.total++
	m.byClass[class]++
	m.latency[LatencyToBucket(ev.Latency)]++
	if ev.IsZeroResult() {
		m.zeroResults++
	}
	if ev.Degraded {
		m.degraded++
	}
	if ev.FromCache {
		m.cacheHits++
	}
	m.mu.Unlock()

	for _, term := range ExtractTerms(ev.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
	}
	if ev.IsZeroResult() {
		m.recentZero.Add(ev.Query)
	}
}

// Snapshot copies the aggregates under the read lock and formats the
// derived views after releasing it.
func (m *QueryMetrics) Snapshot() Snapshot {
	m.mu.RLock()
	snap := Snapshot{
		TotalQueries: m.total,
		ZeroResults:  m.zeroResults,
		Degraded:     m.degraded,
		CacheHits:    m.cacheHits,
		ByClass:      make(map[QueryClass]int64, len(m.byClass)),
		Latency:      make(map[LatencyBucket]int64, len(m.latency)),
		Uptime:       time.Since(m.startTime),
	}
	for k, v := range m.byClass {
		snap.ByClass[k] = v
	}
	for k, v := range m.latency {
		snap.Latency[k] = v
	}
	m.mu.RUnlock()

	if snap.TotalQueries > 0 {
		snap.ZeroResultRate = float64(snap.ZeroResults) / float64(snap.TotalQueries)
		snap.CacheHitRate = float64(snap.CacheHits) / float64(snap.TotalQueries)
	}
	if minutes := snap.Uptime.Minutes(); minutes > 0 {
		snap.QueriesPerMinute = float64(snap.TotalQueries) / minutes
	}
	snap.TopTerms = m.topTermCounts()
	snap.RecentZeroQueries = m.recentZero.Items()
	return snap
}

// topTermCounts lists tracked terms by descending count, ties broken
// alphabetically. Peek keeps the snapshot from disturbing recency.
func (m *QueryMetrics) topTermCounts() []TermCount {
	keys := m.topTerms.Keys()
	terms := make([]TermCount, 0, len(keys))
	for _, k := range keys {
		if count, ok := m.topTerms.Peek(k); ok {
			terms = append(terms, TermCount{Term: k, Count: count})
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})
	return terms
}
