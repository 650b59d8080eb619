package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Search outcome labels for Metrics.SearchesTotal.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusError    = "error"
)

// Ingest outcome labels for Metrics.FilesIngested.
const (
	IngestIndexed = "indexed"
	IngestSkipped = "skipped"
	IngestFailed  = "failed"
)

// Metrics holds the Prometheus collectors for the service. Collectors
// are registered against a per-instance registry so two instances in
// one process never fight over metric names.
type Metrics struct {
	reg *prometheus.Registry

	SearchesTotal *prometheus.CounterVec
	SearchLatency *prometheus.HistogramVec
	SearchResults prometheus.Histogram
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	DocsIndexed   prometheus.Counter
	FilesIngested *prometheus.CounterVec
}

// New creates the collector set plus the standard Go runtime and
// process collectors.
func New() *Metrics {
	m := NewWithRegistry(prometheus.NewRegistry())
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// NewWithRegistry creates the collector set on the given registry.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		reg: reg,
		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docquery",
				Name:      "search_total",
				Help:      "Search calls by query class and outcome.",
			},
			[]string{"class", "status"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "docquery",
				Name:      "search_latency_seconds",
				Help:      "Search latency by cache status.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResults: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "docquery",
				Name:      "search_results",
				Help:      "Result counts returned to callers.",
				Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "docquery",
				Name:      "cache_hits_total",
				Help:      "Search responses served from the result cache.",
			},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "docquery",
				Name:      "cache_misses_total",
				Help:      "Search responses computed from the indexes.",
			},
		),
		DocsIndexed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "docquery",
				Name:      "ingest_documents_total",
				Help:      "Document chunks written to the indexes.",
			},
		),
		FilesIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docquery",
				Name:      "ingest_files_total",
				Help:      "Files processed by ingestion, by outcome.",
			},
			[]string{"status"},
		),
	}
	reg.MustRegister(
		m.SearchesTotal,
		m.SearchLatency,
		m.SearchResults,
		m.CacheHits,
		m.CacheMisses,
		m.DocsIndexed,
		m.FilesIngested,
	)
	return m
}

// ObserveSearch records the outcome of one search call.
func (m *Metrics) ObserveSearch(class QueryClass, status string, latency time.Duration, results int, fromCache bool) {
	m.SearchesTotal.WithLabelValues(string(class), status).Inc()

	cacheStatus := "miss"
	if fromCache {
		cacheStatus = "hit"
	}
	m.SearchLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
	m.SearchResults.Observe(float64(results))
	if fromCache {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

// Handler serves the registered collectors in the Prometheus exposition
// format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
