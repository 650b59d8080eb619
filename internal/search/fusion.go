package search

import (
	"log/slog"
	"math"
	"sort"

	"github.com/namjunsu/docquery/internal/index"
	"github.com/namjunsu/docquery/internal/vector"
)

// DefaultRRFConstant is the default RRF smoothing parameter.
const DefaultRRFConstant = 20

// weightSumTolerance bounds how far off 1.0 the weight sum may drift
// before the fuser warns.
const weightSumTolerance = 1e-9

// Fuser combines a lexical ranked list and a vector ranked list into one
// deduplicated, re-ranked list. It is stateless and safe for concurrent
// use.
type Fuser struct {
	k      int
	logger *slog.Logger
}

// NewFuser creates a fuser with RRF constant k. Non-positive k falls back
// to the default; a nil logger falls back to slog.Default.
func NewFuser(k int, logger *slog.Logger) *Fuser {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fuser{k: k, logger: logger.With("component", "fusion")}
}

// Fuse combines the two source lists with the given method. Hits are
// deduplicated by canonical id, ordered by combined score descending with
// first-seen order breaking ties, and assigned fresh 1-based ranks. Empty
// inputs fuse to an empty list.
func (f *Fuser) Fuse(method FusionMethod, lexical []index.RankedHit, vec []vector.Result, weights Weights) []FusedHit {
	if sum := weights.Lexical + weights.Vector; math.Abs(sum-1) > weightSumTolerance {
		f.logger.Warn("fusion weights do not sum to 1",
			"lexical_weight", weights.Lexical,
			"vector_weight", weights.Vector,
			"sum", sum)
	}

	switch method {
	case FusionWeightedSum:
		return f.weightedSum(lexical, vec, weights)
	default:
		return f.rrf(lexical, vec)
	}
}

// fusedEntry tracks one document during accumulation. firstSeen is the
// order of first appearance across (lexical, then vector) inputs and is
// the deterministic tie-break.
type fusedEntry struct {
	hit       FusedHit
	firstSeen int
}

// rrf implements reciprocal rank fusion: each source contributes
// 1/(k + rank + 1) for the documents it returned. The contribution is
// rank-only; a source without the document simply contributes nothing.
func (f *Fuser) rrf(lexical []index.RankedHit, vec []vector.Result) []FusedHit {
	entries := make(map[string]*fusedEntry, len(lexical)+len(vec))
	order := 0

	for i, hit := range lexical {
		e := getOrCreate(entries, hit.ID, FusionRRF, &order)
		e.hit.LexicalScore = hit.Score
		e.hit.Sources = append(e.hit.Sources, SourceLexical)
		e.hit.Score += 1 / float64(f.k+i+2)
	}
	for i, res := range vec {
		e := getOrCreate(entries, res.ID, FusionRRF, &order)
		e.hit.VectorScore = res.Similarity
		e.hit.Sources = append(e.hit.Sources, SourceVector)
		e.hit.Score += 1 / float64(f.k+i+2)
	}

	return toRankedSlice(entries)
}

// weightedSum normalizes each source's scores independently (min-max) and
// combines them by weight. A document absent from a source contributes 0
// for that source.
func (f *Fuser) weightedSum(lexical []index.RankedHit, vec []vector.Result, weights Weights) []FusedHit {
	lexScores := make([]float64, len(lexical))
	for i, hit := range lexical {
		lexScores[i] = hit.Score
	}
	vecScores := make([]float64, len(vec))
	for i, res := range vec {
		vecScores[i] = res.Similarity
	}
	lexNorm := minMaxNormalize(lexScores)
	vecNorm := minMaxNormalize(vecScores)

	entries := make(map[string]*fusedEntry, len(lexical)+len(vec))
	order := 0

	for i, hit := range lexical {
		e := getOrCreate(entries, hit.ID, FusionWeightedSum, &order)
		e.hit.LexicalScore = hit.Score
		e.hit.Sources = append(e.hit.Sources, SourceLexical)
		e.hit.Score += weights.Lexical * lexNorm[i]
	}
	for i, res := range vec {
		e := getOrCreate(entries, res.ID, FusionWeightedSum, &order)
		e.hit.VectorScore = res.Similarity
		e.hit.Sources = append(e.hit.Sources, SourceVector)
		e.hit.Score += weights.Vector * vecNorm[i]
	}

	return toRankedSlice(entries)
}

// minMaxNormalize maps scores into [0,1]. When every score is identical
// (including single-element lists) each normalizes to 1.0 so the list is
// not collapsed to zero.
func minMaxNormalize(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}

	min, max := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}

	normalized := make([]float64, len(scores))
	if max == min {
		for i := range normalized {
			normalized[i] = 1.0
		}
		return normalized
	}
	for i, s := range scores {
		normalized[i] = (s - min) / (max - min)
	}
	return normalized
}

func getOrCreate(m map[string]*fusedEntry, id string, method FusionMethod, order *int) *fusedEntry {
	if e, ok := m[id]; ok {
		return e
	}
	e := &fusedEntry{
		hit:       FusedHit{RankedHit: RankedHit{ID: id}, Method: method},
		firstSeen: *order,
	}
	*order++
	m[id] = e
	return e
}

// toRankedSlice orders accumulated entries by score descending, breaking
// ties by first-seen order, and assigns fresh 1-based ranks.
func toRankedSlice(entries map[string]*fusedEntry) []FusedHit {
	ordered := make([]*fusedEntry, 0, len(entries))
	for _, e := range entries {
		ordered = append(ordered, e)
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].hit.Score != ordered[j].hit.Score {
			return ordered[i].hit.Score > ordered[j].hit.Score
		}
		return ordered[i].firstSeen < ordered[j].firstSeen
	})

	hits := make([]FusedHit, len(ordered))
	for i, e := range ordered {
		e.hit.Rank = i + 1
		hits[i] = e.hit
	}
	return hits
}
