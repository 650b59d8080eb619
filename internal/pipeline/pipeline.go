// Package pipeline narrows fused retrieval candidates down to a final
// result set through four ordered phases: semantic filtering, keyword
// enhanced rescoring, reranking, and adaptive truncation. Each phase
// appends to a provenance trail carried on every surviving result, so the
// output explains why a document made it through.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/namjunsu/docquery/internal/rerank"
	"github.com/namjunsu/docquery/internal/store"
)

// Default pipeline configuration values.
const (
	DefaultMaxIntake           = 50
	DefaultSimilarityThreshold = 0.20
	DefaultVectorWeight        = 0.5
	DefaultLexicalWeight       = 0.3
	DefaultKeywordWeight       = 0.2
	DefaultMaxKeywordResults   = 20
	DefaultRerankFloor         = 10
	DefaultMaxRerankResults    = 10

	// keywordFreqFactor converts a keyword's occurrence count into its
	// cap fraction: min(1, freq*0.3) of the keyword's weight.
	keywordFreqFactor = 0.3
)

// ErrNilStore is returned by New when no document store is supplied.
var ErrNilStore = errors.New("pipeline: document store is required")

// Phase identifies the filter phase that emitted a FilterResult.
type Phase int

// Pipeline phases in execution order.
const (
	PhaseSemantic Phase = iota
	PhaseKeyword
	PhaseRerank
	PhaseAdaptive
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseSemantic:
		return "SEMANTIC"
	case PhaseKeyword:
		return "KEYWORD"
	case PhaseRerank:
		return "RERANK"
	case PhaseAdaptive:
		return "ADAPTIVE"
	default:
		return "UNKNOWN"
	}
}

// Candidate is one retrieval hit entering the pipeline. VectorScore is the
// cosine similarity in [0,1] (zero when the vector source did not return
// the document); LexicalScore is the raw BM25 score (zero when absent).
type Candidate struct {
	ID           string
	VectorScore  float64
	LexicalScore float64
}

// FilterResult is a document that survived filtering, with the score
// assigned by the most recent phase. Reasoning is append-only: each phase
// adds its own explanation and never rewrites the trail it inherited.
type FilterResult struct {
	ID        string
	Content   string
	Score     float64
	Metadata  map[string]any
	Phase     Phase
	Reasoning string
}

// Config configures the filter pipeline.
type Config struct {
	// MaxIntake caps how many candidates enter the semantic phase, in
	// the caller's order (default: 50).
	MaxIntake int

	// SimilarityThreshold is the minimum vector similarity a candidate
	// needs to pass the semantic phase (default: 0.20). Candidates the
	// vector source never returned carry zero similarity and drop here.
	SimilarityThreshold float64

	// VectorWeight, LexicalWeight, and KeywordWeight combine the three
	// score components in the keyword phase (defaults: 0.5/0.3/0.2).
	// Lexical scores are normalized by the batch maximum before mixing.
	VectorWeight  float64
	LexicalWeight float64
	KeywordWeight float64

	// DomainKeywords maps a keyword to its boost weight. A keyword
	// participates only when it occurs in the query; its contribution
	// per document is weight * min(1, freq*0.3).
	DomainKeywords map[string]float64

	// MaxKeywordResults caps the keyword phase output (default: 20).
	MaxKeywordResults int

	// RerankFloor is the candidate count above which reranking runs at
	// all; at or below it candidates pass through unchanged (default: 10).
	RerankFloor int

	// MaxRerankResults caps the rerank phase output (default: 10).
	MaxRerankResults int
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		MaxIntake:           DefaultMaxIntake,
		SimilarityThreshold: DefaultSimilarityThreshold,
		VectorWeight:        DefaultVectorWeight,
		LexicalWeight:       DefaultLexicalWeight,
		KeywordWeight:       DefaultKeywordWeight,
		MaxKeywordResults:   DefaultMaxKeywordResults,
		RerankFloor:         DefaultRerankFloor,
		MaxRerankResults:    DefaultMaxRerankResults,
	}
}

// withDefaults fills unset or out-of-range fields from DefaultConfig.
func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.MaxIntake <= 0 {
		cfg.MaxIntake = def.MaxIntake
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.VectorWeight <= 0 && cfg.LexicalWeight <= 0 && cfg.KeywordWeight <= 0 {
		cfg.VectorWeight = def.VectorWeight
		cfg.LexicalWeight = def.LexicalWeight
		cfg.KeywordWeight = def.KeywordWeight
	}
	if cfg.VectorWeight < 0 {
		cfg.VectorWeight = 0
	}
	if cfg.LexicalWeight < 0 {
		cfg.LexicalWeight = 0
	}
	if cfg.KeywordWeight < 0 {
		cfg.KeywordWeight = 0
	}
	if cfg.MaxKeywordResults <= 0 {
		cfg.MaxKeywordResults = def.MaxKeywordResults
	}
	if cfg.RerankFloor <= 0 {
		cfg.RerankFloor = def.RerankFloor
	}
	if cfg.MaxRerankResults <= 0 {
		cfg.MaxRerankResults = def.MaxRerankResults
	}
	return cfg
}

// Pipeline runs the four filter phases over one query's candidates.
// Instances are safe for concurrent use; queries share no mutable state.
type Pipeline struct {
	cfg     Config
	docs    store.DocumentStore
	encoder rerank.CrossEncoder
	// encoderUp is the capability flag resolved at wiring time; the
	// pipeline never probes availability per query.
	encoderUp bool
	logger    *slog.Logger

	unresolved atomic.Uint64
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithCrossEncoder wires an external reranker. The available flag is the
// capability resolved once at startup (CrossEncoder.Available); when
// false the pipeline keeps the local fallback even though enc is non-nil.
func WithCrossEncoder(enc rerank.CrossEncoder, available bool) Option {
	return func(p *Pipeline) {
		p.encoder = enc
		p.encoderUp = available
	}
}

// New creates a filter pipeline over the given document store.
// Out-of-range configuration falls back to defaults, so the zero Config
// behaves like DefaultConfig.
func New(cfg Config, docs store.DocumentStore, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	if docs == nil {
		return nil, ErrNilStore
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		cfg:    cfg.withDefaults(),
		docs:   docs,
		logger: logger.With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// UnresolvedDrops reports how many candidates have been dropped because
// their document could not be resolved from the store.
func (p *Pipeline) UnresolvedDrops() uint64 {
	return p.unresolved.Load()
}

// Run executes the four phases over candidates for query and returns the
// terminal result set. Candidates are consumed in the caller's order; the
// intake cap applies before the similarity gate. An empty candidate list
// yields an empty result, not an error. recommendedK bounds the adaptive
// phase; values <= 0 keep every rerank survivor.
func (p *Pipeline) Run(ctx context.Context, query string, candidates []Candidate, recommendedK int) ([]FilterResult, error) {
	semantic, err := p.semanticPhase(ctx, candidates)
	if err != nil {
		return nil, err
	}
	keyword := p.keywordPhase(query, candidates, semantic)
	reranked := p.rerankPhase(ctx, query, keyword)
	return p.adaptivePhase(reranked, recommendedK), nil
}

// semanticPhase caps intake, gates on vector similarity, and resolves
// survivors against the document store. Unresolvable candidates are
// dropped with a warning, never an error.
func (p *Pipeline) semanticPhase(ctx context.Context, candidates []Candidate) ([]FilterResult, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if len(candidates) > p.cfg.MaxIntake {
		candidates = candidates[:p.cfg.MaxIntake]
	}

	kept := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.VectorScore >= p.cfg.SimilarityThreshold {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return nil, nil
	}

	ids := make([]string, len(kept))
	for i, c := range kept {
		ids[i] = c.ID
	}
	docs, err := p.docs.GetBatch(ctx, ids)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.unresolved.Add(uint64(len(kept)))
		p.logger.Warn("document lookup failed, dropping candidates",
			"error", err, "dropped", len(kept))
		return nil, nil
	}

	byID := make(map[string]*store.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	out := make([]FilterResult, 0, len(kept))
	for _, c := range kept {
		doc, ok := byID[c.ID]
		if !ok {
			p.unresolved.Add(1)
			p.logger.Warn("candidate has no stored document, dropping", "id", c.ID)
			continue
		}
		out = append(out, FilterResult{
			ID:       c.ID,
			Content:  doc.Content,
			Score:    c.VectorScore,
			Metadata: doc.Metadata,
			Phase:    PhaseSemantic,
			Reasoning: fmt.Sprintf("similarity %.2f >= threshold %.2f",
				c.VectorScore, p.cfg.SimilarityThreshold),
		})
	}
	return out, nil
}

// queryKeyword is a configured domain keyword found in the query,
// lowercased for matching.
type queryKeyword struct {
	text   string
	weight float64
}

// queryKeywords returns the configured domain keywords present in query,
// sorted by text, plus the sum of their weights (the maximum a document
// could score before normalization).
func (p *Pipeline) queryKeywords(query string) ([]queryKeyword, float64) {
	if len(p.cfg.DomainKeywords) == 0 {
		return nil, 0
	}

	lower := strings.ToLower(query)
	kws := make([]queryKeyword, 0, len(p.cfg.DomainKeywords))
	for kw, w := range p.cfg.DomainKeywords {
		lk := strings.ToLower(kw)
		if lk == "" || w <= 0 || !strings.Contains(lower, lk) {
			continue
		}
		kws = append(kws, queryKeyword{text: lk, weight: w})
	}
	sort.Slice(kws, func(i, j int) bool { return kws[i].text < kws[j].text })

	var total float64
	for _, k := range kws {
		total += k.weight
	}
	return kws, total
}

// keywordScore sums capped keyword weights found in content, normalized
// by the maximum weight the query's keywords could reach.
func keywordScore(kws []queryKeyword, maxWeight float64, content string) float64 {
	if len(kws) == 0 || maxWeight <= 0 {
		return 0
	}

	lower := strings.ToLower(content)
	var sum float64
	for _, kw := range kws {
		freq := strings.Count(lower, kw.text)
		if freq == 0 {
			continue
		}
		capped := float64(freq) * keywordFreqFactor
		if capped > 1 {
			capped = 1
		}
		sum += kw.weight * capped
	}
	return sum / maxWeight
}

// keywordPhase mixes vector similarity, normalized lexical score, and
// domain-keyword score into one combined score, then keeps the top
// MaxKeywordResults.
func (p *Pipeline) keywordPhase(query string, candidates []Candidate, in []FilterResult) []FilterResult {
	if len(in) == 0 {
		return nil
	}

	lexByID := make(map[string]float64, len(candidates))
	var maxLex float64
	for _, c := range candidates {
		lexByID[c.ID] = c.LexicalScore
		if c.LexicalScore > maxLex {
			maxLex = c.LexicalScore
		}
	}

	kws, maxWeight := p.queryKeywords(query)

	out := make([]FilterResult, 0, len(in))
	for _, r := range in {
		vec := r.Score
		var lex float64
		if maxLex > 0 {
			lex = lexByID[r.ID] / maxLex
		}
		kw := keywordScore(kws, maxWeight, r.Content)
		combined := p.cfg.VectorWeight*vec + p.cfg.LexicalWeight*lex + p.cfg.KeywordWeight*kw

		r.Phase = PhaseKeyword
		r.Reasoning += fmt.Sprintf("; combined %.3f (vector %.2f, lexical %.2f, keyword %.2f)",
			combined, vec, lex, kw)
		r.Score = combined
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > p.cfg.MaxKeywordResults {
		out = out[:p.cfg.MaxKeywordResults]
	}
	return out
}

// rerankPhase rescores candidates when there are enough to matter. The
// cross-encoder is used only when wired, resolved available, and the
// count exceeds the floor; any external failure degrades to the local
// fallback and never fails the query.
func (p *Pipeline) rerankPhase(ctx context.Context, query string, in []FilterResult) []FilterResult {
	if len(in) == 0 {
		return nil
	}

	out := make([]FilterResult, len(in))
	copy(out, in)

	switch {
	case len(out) <= p.cfg.RerankFloor:
		for i := range out {
			out[i].Phase = PhaseRerank
			out[i].Reasoning += "; no reranking needed"
		}
	case p.encoder != nil && p.encoderUp:
		if err := p.rerankExternal(ctx, query, out); err != nil {
			p.logger.Warn("cross-encoder rerank failed, using fallback", "error", err)
			rerankFallback(query, out)
		}
	default:
		rerankFallback(query, out)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > p.cfg.MaxRerankResults {
		out = out[:p.cfg.MaxRerankResults]
	}
	return out
}

// rerankExternal scores every result through the cross-encoder. Results
// are mutated only after all calls succeed, so a mid-batch failure leaves
// them clean for the fallback.
func (p *Pipeline) rerankExternal(ctx context.Context, query string, results []FilterResult) error {
	scores := make([]float64, len(results))
	for i, r := range results {
		s, err := p.encoder.Score(ctx, query, r.Content)
		if err != nil {
			return err
		}
		scores[i] = s
	}

	for i := range results {
		results[i].Phase = PhaseRerank
		results[i].Score = scores[i]
		results[i].Reasoning += fmt.Sprintf("; reranked %.3f (cross-encoder)", scores[i])
	}
	return nil
}

// rerankFallback rescores results with the local lexical-overlap scorer.
func rerankFallback(query string, results []FilterResult) {
	for i := range results {
		s := rerank.FallbackScore(query, results[i].Content)
		results[i].Phase = PhaseRerank
		results[i].Score = s
		results[i].Reasoning += fmt.Sprintf("; fallback ranking (%.3f)", s)
	}
}

// adaptivePhase truncates to min(recommendedK, len) and marks the
// results terminal.
func (p *Pipeline) adaptivePhase(in []FilterResult, recommendedK int) []FilterResult {
	if len(in) == 0 {
		return nil
	}

	k := len(in)
	if recommendedK > 0 && recommendedK < k {
		k = recommendedK
	}

	out := make([]FilterResult, k)
	copy(out, in[:k])
	for i := range out {
		out[i].Phase = PhaseAdaptive
		out[i].Reasoning += fmt.Sprintf("; adaptive selection kept top %d", k)
	}
	return out
}
