package search

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namjunsu/docquery/internal/index"
	"github.com/namjunsu/docquery/internal/vector"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFuser_Fuse_RRFSymmetricRanksTie(t *testing.T) {
	// Given: X and Y swap positions across the two sources
	fuser := NewFuser(20, discardLogger())
	lexical := []index.RankedHit{
		{ID: "X", Score: 2.0, Rank: 1},
		{ID: "Y", Score: 1.5, Rank: 2},
	}
	vec := []vector.Result{
		{ID: "Y", Similarity: 0.9},
		{ID: "X", Similarity: 0.8},
	}

	// When: fusing with RRF
	hits := fuser.Fuse(FusionRRF, lexical, vec, Weights{Lexical: 0.3, Vector: 0.7})

	// Then: symmetric ranks produce equal scores, and first-seen order
	// breaks the tie in X's favor
	require.Len(t, hits, 2)
	assert.Equal(t, hits[0].Score, hits[1].Score)
	assert.Equal(t, "X", hits[0].ID)
	assert.Equal(t, "Y", hits[1].ID)
	assert.Equal(t, 1, hits[0].Rank)
	assert.Equal(t, 2, hits[1].Rank)

	// And: both hits carry both source tags and their raw scores
	assert.Equal(t, []string{SourceLexical, SourceVector}, hits[0].Sources)
	assert.Equal(t, 2.0, hits[0].LexicalScore)
	assert.Equal(t, 0.8, hits[0].VectorScore)
	assert.Equal(t, FusionRRF, hits[0].Method)
}

func TestFuser_Fuse_RRFScoresSingleSourceDocuments(t *testing.T) {
	// Given: A is lexical-only, C vector-only, B in both
	fuser := NewFuser(20, discardLogger())
	lexical := []index.RankedHit{
		{ID: "A", Score: 3.0, Rank: 1},
		{ID: "B", Score: 2.0, Rank: 2},
	}
	vec := []vector.Result{
		{ID: "B", Similarity: 0.95},
		{ID: "C", Similarity: 0.60},
	}

	// When: fusing
	hits := fuser.Fuse(FusionRRF, lexical, vec, DefaultWeights())

	// Then: B accumulates both terms, A and C their single term
	require.Len(t, hits, 3)
	assert.Equal(t, "B", hits[0].ID)
	assert.InDelta(t, 1.0/23+1.0/22, hits[0].Score, 1e-12)
	assert.Equal(t, "A", hits[1].ID)
	assert.InDelta(t, 1.0/22, hits[1].Score, 1e-12)
	assert.Equal(t, "C", hits[2].ID)
	assert.InDelta(t, 1.0/23, hits[2].Score, 1e-12)

	// And: source tags reflect provenance
	assert.Equal(t, []string{SourceLexical, SourceVector}, hits[0].Sources)
	assert.Equal(t, []string{SourceLexical}, hits[1].Sources)
	assert.Equal(t, []string{SourceVector}, hits[2].Sources)
}

func TestFuser_Fuse_EmptyInputs(t *testing.T) {
	fuser := NewFuser(0, nil)

	hits := fuser.Fuse(FusionRRF, nil, nil, DefaultWeights())
	assert.Empty(t, hits)

	// One-sided input still fuses
	hits = fuser.Fuse(FusionRRF, []index.RankedHit{{ID: "A", Score: 1, Rank: 1}}, nil, DefaultWeights())
	require.Len(t, hits, 1)
	assert.Equal(t, "A", hits[0].ID)
	assert.Equal(t, 1, hits[0].Rank)
}

func TestFuser_Fuse_WeightedSumCombinesNormalizedScores(t *testing.T) {
	// Given: sources with different raw score scales
	fuser := NewFuser(20, discardLogger())
	lexical := []index.RankedHit{
		{ID: "A", Score: 4.0, Rank: 1},
		{ID: "B", Score: 2.0, Rank: 2},
	}
	vec := []vector.Result{
		{ID: "B", Similarity: 0.9},
		{ID: "C", Similarity: 0.5},
	}

	// When: fusing with the weighted sum
	hits := fuser.Fuse(FusionWeightedSum, lexical, vec, Weights{Lexical: 0.3, Vector: 0.7})

	// Then: per-source min-max puts A at 0.3, B at 0.7, C at 0
	require.Len(t, hits, 3)
	assert.Equal(t, "B", hits[0].ID)
	assert.InDelta(t, 0.7, hits[0].Score, 1e-12)
	assert.Equal(t, "A", hits[1].ID)
	assert.InDelta(t, 0.3, hits[1].Score, 1e-12)
	assert.Equal(t, "C", hits[2].ID)
	assert.InDelta(t, 0.0, hits[2].Score, 1e-12)

	assert.Equal(t, FusionWeightedSum, hits[0].Method)
}

func TestFuser_Fuse_WeightedSumSingleItemListsNormalizeToOne(t *testing.T) {
	// Given: one hit per source
	fuser := NewFuser(20, discardLogger())
	lexical := []index.RankedHit{{ID: "A", Score: 5.0, Rank: 1}}
	vec := []vector.Result{{ID: "B", Similarity: 0.7}}

	// When: fusing with the weighted sum
	hits := fuser.Fuse(FusionWeightedSum, lexical, vec, Weights{Lexical: 0.3, Vector: 0.7})

	// Then: single-item lists normalize to 1.0, not 0
	require.Len(t, hits, 2)
	assert.Equal(t, "B", hits[0].ID)
	assert.InDelta(t, 0.7, hits[0].Score, 1e-12)
	assert.Equal(t, "A", hits[1].ID)
	assert.InDelta(t, 0.3, hits[1].Score, 1e-12)
}

func TestFuser_Fuse_WarnsWhenWeightsDoNotSumToOne(t *testing.T) {
	// Given: a fuser wired to a capturing logger
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	fuser := NewFuser(20, logger)

	// When: fusing with weights summing to 1.2
	fuser.Fuse(FusionRRF, nil, nil, Weights{Lexical: 0.5, Vector: 0.7})

	// Then: a warning is emitted
	assert.Contains(t, buf.String(), "fusion weights do not sum to 1")

	// And: conforming weights stay quiet
	buf.Reset()
	fuser.Fuse(FusionRRF, nil, nil, Weights{Lexical: 0.3, Vector: 0.7})
	assert.NotContains(t, buf.String(), "fusion weights")
}

func TestMinMaxNormalize(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   []float64
	}{
		{"empty", nil, nil},
		{"single element maps to one", []float64{3.5}, []float64{1.0}},
		{"identical scores map to one", []float64{2, 2, 2}, []float64{1, 1, 1}},
		{"range maps to unit interval", []float64{1, 2, 3}, []float64{0, 0.5, 1}},
		{"negative scores", []float64{-2, 0, 2}, []float64{0, 0.5, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, minMaxNormalize(tt.scores))
		})
	}
}

func TestParseFusionMethod(t *testing.T) {
	m, err := ParseFusionMethod("rrf")
	require.NoError(t, err)
	assert.Equal(t, FusionRRF, m)

	m, err = ParseFusionMethod("Weighted_Sum")
	require.NoError(t, err)
	assert.Equal(t, FusionWeightedSum, m)

	m, err = ParseFusionMethod("")
	require.NoError(t, err)
	assert.Equal(t, FusionRRF, m)

	_, err = ParseFusionMethod("bogus")
	assert.Error(t, err)
}

// Benchmarks track fusion cost at typical candidate depth.

func benchmarkHits(n int) ([]index.RankedHit, []vector.Result) {
	lexical := make([]index.RankedHit, 0, n)
	vec := make([]vector.Result, 0, n)
	for i := 0; i < n; i++ {
		lexical = append(lexical, index.RankedHit{
			ID:    fmt.Sprintf("doc-%04d", i),
			Score: float64(n - i),
			Rank:  i + 1,
		})
		// Offset by half so the lists only partially overlap.
		vec = append(vec, vector.Result{
			ID:         fmt.Sprintf("doc-%04d", i+n/2),
			Similarity: 1.0 - float64(i)/float64(n),
		})
	}
	return lexical, vec
}

func BenchmarkFuser_RRF(b *testing.B) {
	f := NewFuser(DefaultRRFConstant, discardLogger())
	lexical, vec := benchmarkHits(100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Fuse(FusionRRF, lexical, vec, Weights{})
	}
}

func BenchmarkFuser_WeightedSum(b *testing.B) {
	f := NewFuser(DefaultRRFConstant, discardLogger())
	lexical, vec := benchmarkHits(100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Fuse(FusionWeightedSum, lexical, vec, Weights{Lexical: 0.4, Vector: 0.6})
	}
}
