// Package config holds the YAML configuration for the whole engine.
// Sections mirror the package split, so each subsystem constructs its
// own config struct from the matching section.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectFileName is the per-corpus config file looked up by LoadDir.
const ProjectFileName = ".docquery.yaml"

// DataDirName is the default data directory under the corpus root.
const DataDirName = ".docquery"

// Config is the complete engine configuration.
type Config struct {
	// DataDir is where indexes, the document store, and logs live.
	// Empty means ".docquery" under the corpus root.
	DataDir string `yaml:"data_dir"`

	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Cache     CacheConfig     `yaml:"cache"`
	Vector    VectorConfig    `yaml:"vector"`
	Embed     EmbedConfig     `yaml:"embed"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Store     StoreConfig     `yaml:"store"`
	Alert     AlertConfig     `yaml:"alert"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// IndexConfig configures the BM25 lexical index.
type IndexConfig struct {
	// K1 is the term frequency saturation parameter.
	K1 float64 `yaml:"k1"`
	// B is the document length normalization parameter.
	B float64 `yaml:"b"`
	// MinTokenLength is the minimum token length to index.
	MinTokenLength int `yaml:"min_token_length"`
	// StopWords are dropped during tokenization.
	StopWords []string `yaml:"stop_words"`
	// TokenMemoSize bounds the tokenizer's query memo. Zero disables it.
	TokenMemoSize int `yaml:"token_memo_size"`
}

// SearchConfig configures retrieval and fusion in the engine.
type SearchConfig struct {
	// Fusion selects the default combination strategy: "rrf" or
	// "weighted_sum".
	Fusion string `yaml:"fusion"`
	// LexicalWeight and VectorWeight are the source weights for
	// weighted-sum fusion. They should sum to 1.0.
	LexicalWeight float64 `yaml:"lexical_weight"`
	VectorWeight  float64 `yaml:"vector_weight"`
	// RRFK is the reciprocal-rank smoothing constant.
	RRFK int `yaml:"rrf_k"`
	// CandidateDepth is the per-source retrieval depth before fusion.
	CandidateDepth int `yaml:"candidate_depth"`
}

// PipelineConfig configures the multi-stage filter pipeline.
type PipelineConfig struct {
	MaxIntake           int     `yaml:"max_intake"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	// VectorWeight, LexicalWeight, and KeywordWeight mix the combined
	// score in the keyword phase. They should sum to 1.0.
	VectorWeight  float64 `yaml:"vector_weight"`
	LexicalWeight float64 `yaml:"lexical_weight"`
	KeywordWeight float64 `yaml:"keyword_weight"`
	// DomainKeywords maps a boost keyword to its weight.
	DomainKeywords    map[string]float64 `yaml:"domain_keywords"`
	MaxKeywordResults int                `yaml:"max_keyword_results"`
	RerankFloor       int                `yaml:"rerank_floor"`
	MaxRerankResults  int                `yaml:"max_rerank_results"`
}

// CacheConfig configures the query result cache.
type CacheConfig struct {
	Capacity int `yaml:"capacity"`
	// TTL is a duration string such as "5m".
	TTL        string `yaml:"ttl"`
	SlidingTTL bool   `yaml:"sliding_ttl"`
}

// VectorConfig configures the HNSW vector index. Dimensions are not
// configured here; they come from the embedder and are persisted with
// the index.
type VectorConfig struct {
	// Metric is "cos" or "l2".
	Metric   string `yaml:"metric"`
	M        int    `yaml:"m"`
	EfSearch int    `yaml:"ef_search"`
}

// EmbedConfig configures the embedding provider.
type EmbedConfig struct {
	// Provider is "", "auto", "ollama", or "static". Empty auto-detects.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// Host is the Ollama API endpoint.
	Host           string   `yaml:"host"`
	FallbackModels []string `yaml:"fallback_models"`
	// Dimensions forces the embedding width. Zero auto-detects.
	Dimensions     int    `yaml:"dimensions"`
	BatchSize      int    `yaml:"batch_size"`
	ConnectTimeout string `yaml:"connect_timeout"`
	MaxRetries     int    `yaml:"max_retries"`
}

// RerankConfig configures the cross-encoder scoring service client.
// When disabled or unreachable the pipeline falls back to its heuristic
// reranker.
type RerankConfig struct {
	Enabled        bool   `yaml:"enabled"`
	BaseURL        string `yaml:"base_url"`
	Timeout        string `yaml:"timeout"`
	ConnectTimeout string `yaml:"connect_timeout"`
	MaxRetries     int    `yaml:"max_retries"`
}

// StoreConfig configures the SQLite document store.
type StoreConfig struct {
	// Path is the database file. Empty means "documents.db" in the
	// data dir.
	Path          string `yaml:"path"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
}

// AlertConfig configures webhook alerting. An empty URL disables it.
type AlertConfig struct {
	WebhookURL    string  `yaml:"webhook_url"`
	Timeout       string  `yaml:"timeout"`
	MaxRetries    int     `yaml:"max_retries"`
	QueueSize     int     `yaml:"queue_size"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// TelemetryConfig configures the Prometheus scrape endpoint.
type TelemetryConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`
	// FilePath enables rotating file logging when set.
	FilePath      string `yaml:"file_path"`
	MaxSizeMB     int    `yaml:"max_size_mb"`
	MaxFiles      int    `yaml:"max_files"`
	WriteToStderr bool   `yaml:"write_to_stderr"`
}

// IngestConfig configures corpus ingestion and watching.
type IngestConfig struct {
	// Workers sizes the ingestion pool. Zero means half the CPUs.
	Workers        int `yaml:"workers"`
	MaxFileSizeMB  int `yaml:"max_file_size_mb"`
	MaxChunkTokens int `yaml:"max_chunk_tokens"`
	// OverlapTokens carried between adjacent chunks. Negative disables
	// overlap.
	OverlapTokens int    `yaml:"overlap_tokens"`
	WatchDebounce string `yaml:"watch_debounce"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Index: IndexConfig{
			K1:             1.2,
			B:              0.75,
			MinTokenLength: 2,
			TokenMemoSize:  4096,
		},
		Search: SearchConfig{
			Fusion:         "rrf",
			LexicalWeight:  0.3,
			VectorWeight:   0.7,
			RRFK:           20,
			CandidateDepth: 50,
		},
		Pipeline: PipelineConfig{
			MaxIntake:           50,
			SimilarityThreshold: 0.20,
			VectorWeight:        0.5,
			LexicalWeight:       0.3,
			KeywordWeight:       0.2,
			MaxKeywordResults:   20,
			RerankFloor:         10,
			MaxRerankResults:    10,
		},
		Cache: CacheConfig{
			Capacity:   1024,
			TTL:        "5m",
			SlidingTTL: true,
		},
		Vector: VectorConfig{
			Metric:   "cos",
			M:        16,
			EfSearch: 20,
		},
		Embed: EmbedConfig{
			Provider:       "",
			Model:          "nomic-embed-text",
			Host:           "http://localhost:11434",
			FallbackModels: []string{"mxbai-embed-large", "all-minilm"},
			BatchSize:      32,
			ConnectTimeout: "5s",
			MaxRetries:     3,
		},
		Rerank: RerankConfig{
			Enabled:        false,
			BaseURL:        "http://localhost:8761",
			Timeout:        "5s",
			ConnectTimeout: "2s",
			MaxRetries:     2,
		},
		Store: StoreConfig{
			BusyTimeoutMS: 5000,
		},
		Alert: AlertConfig{
			Timeout:       "5s",
			MaxRetries:    3,
			QueueSize:     128,
			RatePerSecond: 5,
			Burst:         10,
		},
		Telemetry: TelemetryConfig{
			Enabled:    true,
			ListenAddr: ":9090",
		},
		Logging: LoggingConfig{
			Level:         "info",
			MaxSizeMB:     10,
			MaxFiles:      5,
			WriteToStderr: true,
		},
		Ingest: IngestConfig{
			MaxFileSizeMB:  10,
			MaxChunkTokens: 512,
			OverlapTokens:  64,
			WatchDebounce:  "200ms",
		},
	}
}

// Load reads the YAML file at path over the defaults, applies
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	return finish(cfg)
}

// LoadDir loads the project config from dir if one exists, otherwise
// the defaults. Environment overrides apply either way.
func LoadDir(dir string) (*Config, error) {
	path := filepath.Join(dir, ProjectFileName)
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}
	return finish(Default())
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies DOCQUERY_* environment variables, which take
// precedence over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DOCQUERY_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("DOCQUERY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DOCQUERY_FUSION"); v != "" {
		c.Search.Fusion = v
	}
	if v := os.Getenv("DOCQUERY_EMBED_PROVIDER"); v != "" {
		c.Embed.Provider = v
	}
	if v := os.Getenv("DOCQUERY_OLLAMA_HOST"); v != "" {
		c.Embed.Host = v
	}
	if v := os.Getenv("DOCQUERY_RERANK_URL"); v != "" {
		c.Rerank.BaseURL = v
		c.Rerank.Enabled = true
	}
	if v := os.Getenv("DOCQUERY_ALERT_WEBHOOK"); v != "" {
		c.Alert.WebhookURL = v
	}
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if c.Index.K1 < 0 {
		return fmt.Errorf("index.k1 must be non-negative, got %g", c.Index.K1)
	}
	if c.Index.B < 0 || c.Index.B > 1 {
		return fmt.Errorf("index.b must be between 0 and 1, got %g", c.Index.B)
	}

	switch strings.ToLower(strings.TrimSpace(c.Search.Fusion)) {
	case "", "rrf", "weighted_sum", "weighted-sum", "weighted":
	default:
		return fmt.Errorf("search.fusion must be 'rrf' or 'weighted_sum', got %q", c.Search.Fusion)
	}
	if err := validateWeight("search.lexical_weight", c.Search.LexicalWeight); err != nil {
		return err
	}
	if err := validateWeight("search.vector_weight", c.Search.VectorWeight); err != nil {
		return err
	}
	if sum := c.Search.LexicalWeight + c.Search.VectorWeight; math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("search weights must sum to 1.0, got %.2f", sum)
	}
	if c.Search.RRFK <= 0 {
		return fmt.Errorf("search.rrf_k must be positive, got %d", c.Search.RRFK)
	}
	if c.Search.CandidateDepth <= 0 {
		return fmt.Errorf("search.candidate_depth must be positive, got %d", c.Search.CandidateDepth)
	}

	if err := validateWeight("pipeline.similarity_threshold", c.Pipeline.SimilarityThreshold); err != nil {
		return err
	}
	sum := c.Pipeline.VectorWeight + c.Pipeline.LexicalWeight + c.Pipeline.KeywordWeight
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("pipeline weights must sum to 1.0, got %.2f", sum)
	}
	if c.Pipeline.MaxIntake <= 0 {
		return fmt.Errorf("pipeline.max_intake must be positive, got %d", c.Pipeline.MaxIntake)
	}

	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be positive, got %d", c.Cache.Capacity)
	}

	switch strings.ToLower(c.Vector.Metric) {
	case "cos", "l2":
	default:
		return fmt.Errorf("vector.metric must be 'cos' or 'l2', got %q", c.Vector.Metric)
	}

	switch strings.ToLower(strings.TrimSpace(c.Embed.Provider)) {
	case "", "auto", "ollama", "static":
	default:
		return fmt.Errorf("embed.provider must be 'auto', 'ollama', 'static', or empty, got %q", c.Embed.Provider)
	}

	if c.Rerank.Enabled && c.Rerank.BaseURL == "" {
		return fmt.Errorf("rerank.base_url is required when rerank.enabled is true")
	}

	if c.Telemetry.Enabled && c.Telemetry.ListenAddr == "" {
		return fmt.Errorf("telemetry.listen_addr is required when telemetry.enabled is true")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %q", c.Logging.Level)
	}

	if c.Ingest.Workers < 0 {
		return fmt.Errorf("ingest.workers must be non-negative, got %d", c.Ingest.Workers)
	}
	if c.Ingest.MaxFileSizeMB <= 0 {
		return fmt.Errorf("ingest.max_file_size_mb must be positive, got %d", c.Ingest.MaxFileSizeMB)
	}
	if c.Ingest.MaxChunkTokens <= 0 {
		return fmt.Errorf("ingest.max_chunk_tokens must be positive, got %d", c.Ingest.MaxChunkTokens)
	}

	durations := []struct{ field, value string }{
		{"cache.ttl", c.Cache.TTL},
		{"embed.connect_timeout", c.Embed.ConnectTimeout},
		{"rerank.timeout", c.Rerank.Timeout},
		{"rerank.connect_timeout", c.Rerank.ConnectTimeout},
		{"alert.timeout", c.Alert.Timeout},
		{"ingest.watch_debounce", c.Ingest.WatchDebounce},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%s: invalid duration %q", d.field, d.value)
		}
	}

	return nil
}

func validateWeight(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be between 0 and 1, got %g", name, v)
	}
	return nil
}

// Duration parses a config duration string, falling back when the
// string is empty or malformed. Validate has already rejected malformed
// values on the load path.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// FindCorpusRoot walks up from startDir looking for a directory that
// carries a corpus marker, the project config file or the data
// directory. When no marker exists it returns startDir resolved to an
// absolute path, so callers can treat the answer as the corpus root
// either way.
func FindCorpusRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolve start directory: %w", err)
	}

	dir := absDir
	for {
		if _, err := os.Stat(filepath.Join(dir, ProjectFileName)); err == nil {
			return dir, nil
		}
		if info, err := os.Stat(filepath.Join(dir, DataDirName)); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return absDir, nil
		}
		dir = parent
	}
}

// EffectiveDataDir resolves the data directory for a corpus root.
func (c *Config) EffectiveDataDir(root string) string {
	if c.DataDir != "" {
		return c.DataDir
	}
	return filepath.Join(root, DataDirName)
}

// StorePath resolves the document store location for a corpus root.
func (c *Config) StorePath(root string) string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.EffectiveDataDir(root), "documents.db")
}

// VectorIndexPath resolves the vector index location for a corpus root.
func (c *Config) VectorIndexPath(root string) string {
	return filepath.Join(c.EffectiveDataDir(root), "vectors.hnsw")
}

// SnapshotPath resolves the lexical snapshot location for a corpus root.
func (c *Config) SnapshotPath(root string) string {
	return filepath.Join(c.EffectiveDataDir(root), "index.snap")
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
