package index

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dqerrors "github.com/namjunsu/docquery/internal/errors"
	"github.com/namjunsu/docquery/internal/store"
)

func TestBM25Index_Search_TermFrequencyRanksHigher(t *testing.T) {
	// Given: two documents where B repeats the query terms
	idx := New(DefaultConfig())
	require.NoError(t, idx.Add([]*store.Document{
		{ID: "A", Content: "camera lens replacement"},
		{ID: "B", Content: "camera lens replacement camera lens"},
	}))

	// When: searching with both terms
	hits, err := idx.Search("camera lens", 10)
	require.NoError(t, err)

	// Then: B outranks A and both score positive
	require.Len(t, hits, 2)
	assert.Equal(t, "B", hits[0].ID)
	assert.Equal(t, "A", hits[1].ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.Greater(t, hits[1].Score, 0.0)

	// And: ranks are 1-based
	assert.Equal(t, 1, hits[0].Rank)
	assert.Equal(t, 2, hits[1].Rank)
}

func TestBM25Index_Search_RareTermOutweighsCommonTerm(t *testing.T) {
	// Given: "ledger" appears in one document, "report" in all three
	idx := New(DefaultConfig())
	require.NoError(t, idx.Add([]*store.Document{
		{ID: "1", Content: "quarterly report summary"},
		{ID: "2", Content: "annual report overview"},
		{ID: "3", Content: "ledger report details"},
	}))

	// When: searching for both terms
	hits, err := idx.Search("ledger report", 10)
	require.NoError(t, err)

	// Then: the document holding the rare term ranks first
	require.NotEmpty(t, hits)
	assert.Equal(t, "3", hits[0].ID)
}

func TestBM25Index_Search_EmptyQueryReturnsEmpty(t *testing.T) {
	idx := New(DefaultConfig())
	require.NoError(t, idx.Add([]*store.Document{
		{ID: "1", Content: "camera lens"},
	}))

	for _, query := range []string{"", "   ", "?! --"} {
		hits, err := idx.Search(query, 10)
		require.NoError(t, err)
		assert.Empty(t, hits, "query %q", query)
	}
}

func TestBM25Index_Search_EmptyIndexReturnsEmpty(t *testing.T) {
	idx := New(DefaultConfig())

	hits, err := idx.Search("camera", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestBM25Index_Search_TopKBounds(t *testing.T) {
	idx := New(DefaultConfig())
	require.NoError(t, idx.Add([]*store.Document{
		{ID: "1", Content: "tax filing guide"},
		{ID: "2", Content: "tax deduction rules"},
		{ID: "3", Content: "tax audit checklist"},
	}))

	// topK <= 0 yields nothing
	hits, err := idx.Search("tax", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = idx.Search("tax", -1)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// topK truncates
	hits, err = idx.Search("tax", 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	// topK beyond the hit count returns everything
	hits, err = idx.Search("tax", 100)
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}

func TestBM25Index_Search_UnknownTermsContributeNothing(t *testing.T) {
	// Given: a single indexed document
	idx := New(DefaultConfig())
	require.NoError(t, idx.Add([]*store.Document{
		{ID: "1", Content: "camera lens replacement"},
	}))

	// When: the query holds only an unindexed term
	hits, err := idx.Search("zzzunknown", 10)
	require.NoError(t, err)

	// Then: no hits at all
	assert.Empty(t, hits)

	// And: mixing in a known term still matches
	hits, err = idx.Search("camera zzzunknown", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "1", hits[0].ID)
}

func TestBM25Index_Search_RepeatedQueryTermsAccumulate(t *testing.T) {
	// Given: one document
	idx := New(DefaultConfig())
	require.NoError(t, idx.Add([]*store.Document{
		{ID: "1", Content: "camera lens"},
		{ID: "2", Content: "tripod mount"},
	}))

	// When: scoring the term once and twice
	single, err := idx.Search("camera", 10)
	require.NoError(t, err)
	double, err := idx.Search("camera camera", 10)
	require.NoError(t, err)

	// Then: each occurrence of a query term contributes
	require.Len(t, single, 1)
	require.Len(t, double, 1)
	assert.InDelta(t, 2*single[0].Score, double[0].Score, 1e-9)
}

func TestBM25Index_Search_TieBrokenByIngestionOrder(t *testing.T) {
	// Given: two documents with identical content
	idx := New(DefaultConfig())
	require.NoError(t, idx.Add([]*store.Document{
		{ID: "first", Content: "alpha beta"},
		{ID: "second", Content: "alpha beta"},
	}))

	// When: searching a shared term
	hits, err := idx.Search("alpha", 10)
	require.NoError(t, err)

	// Then: equal scores keep ingestion order
	require.Len(t, hits, 2)
	assert.Equal(t, hits[0].Score, hits[1].Score)
	assert.Equal(t, "first", hits[0].ID)
	assert.Equal(t, "second", hits[1].ID)
}

func TestBM25Index_Add_RejectsMissingID(t *testing.T) {
	idx := New(DefaultConfig())

	err := idx.Add([]*store.Document{
		{ID: "ok", Content: "fine"},
		{ID: "", Content: "no id"},
	})

	require.Error(t, err)
	assert.Equal(t, dqerrors.ErrCodeMissingDocID, dqerrors.GetCode(err))

	// Nothing from the batch was applied
	assert.Equal(t, 0, idx.Stats().DocumentCount)
	assert.False(t, idx.Contains("ok"))
}

func TestBM25Index_Add_RejectsDuplicateInBatch(t *testing.T) {
	idx := New(DefaultConfig())

	err := idx.Add([]*store.Document{
		{ID: "dup", Content: "one"},
		{ID: "dup", Content: "two"},
	})

	require.Error(t, err)
	assert.Equal(t, dqerrors.ErrCodeInvalidInput, dqerrors.GetCode(err))
	assert.Equal(t, 0, idx.Stats().DocumentCount)
}

func TestBM25Index_Add_RejectsAlreadyIndexedID(t *testing.T) {
	// Given: "A" already in the index
	idx := New(DefaultConfig())
	require.NoError(t, idx.Add([]*store.Document{{ID: "A", Content: "existing"}}))

	// When: a later batch reuses the id
	err := idx.Add([]*store.Document{
		{ID: "B", Content: "new"},
		{ID: "A", Content: "clash"},
	})

	// Then: the whole batch is rejected, including the clean document
	require.Error(t, err)
	assert.Equal(t, dqerrors.ErrCodeInvalidInput, dqerrors.GetCode(err))
	assert.False(t, idx.Contains("B"))
	assert.Equal(t, 1, idx.Stats().DocumentCount)
}

func TestBM25Index_Add_IsIncremental(t *testing.T) {
	// Given: an index built in two batches
	idx := New(DefaultConfig())
	require.NoError(t, idx.Add([]*store.Document{
		{ID: "1", Content: "four tokens long here"},
	}))
	require.NoError(t, idx.Add([]*store.Document{
		{ID: "2", Content: "two tokens"},
		{ID: "3", Content: "another pair"},
	}))

	// Then: statistics reflect both batches
	stats := idx.Stats()
	assert.Equal(t, 3, stats.DocumentCount)
	assert.InDelta(t, 8.0/3.0, stats.AvgDocLength, 1e-9)

	// And: ids come back in ingestion order
	assert.Equal(t, []string{"1", "2", "3"}, idx.AllIDs())
}

func TestBM25Index_Add_EmptyBatchIsNoOp(t *testing.T) {
	idx := New(DefaultConfig())
	require.NoError(t, idx.Add(nil))
	require.NoError(t, idx.Add([]*store.Document{}))
	assert.Equal(t, 0, idx.Stats().DocumentCount)
}

func TestBM25Index_Remove_DropsDocumentAndTerms(t *testing.T) {
	// Given: two documents sharing one term
	idx := New(DefaultConfig())
	require.NoError(t, idx.Add([]*store.Document{
		{ID: "A", Content: "camera lens replacement"},
		{ID: "B", Content: "camera tripod"},
	}))

	// When: removing A
	idx.Remove([]string{"A"})

	// Then: A and its exclusive terms are gone
	assert.False(t, idx.Contains("A"))
	assert.True(t, idx.Contains("B"))
	assert.Equal(t, []string{"B"}, idx.AllIDs())

	hits, err := idx.Search("lens replacement", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// And: the shared term still finds B
	hits, err = idx.Search("camera", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "B", hits[0].ID)

	// And: stats shrink to the survivor
	stats := idx.Stats()
	assert.Equal(t, 1, stats.DocumentCount)
	assert.InDelta(t, 2.0, stats.AvgDocLength, 1e-9)
}

func TestBM25Index_Remove_AllowsReAddingID(t *testing.T) {
	idx := New(DefaultConfig())
	require.NoError(t, idx.Add([]*store.Document{{ID: "A", Content: "old content"}}))

	idx.Remove([]string{"A"})
	require.NoError(t, idx.Add([]*store.Document{{ID: "A", Content: "fresh content"}}))

	hits, err := idx.Search("fresh", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "A", hits[0].ID)
}

func TestBM25Index_Remove_UnknownAndEmpty(t *testing.T) {
	idx := New(DefaultConfig())
	require.NoError(t, idx.Add([]*store.Document{{ID: "A", Content: "camera"}}))

	idx.Remove(nil)
	idx.Remove([]string{"missing"})

	assert.Equal(t, 1, idx.Stats().DocumentCount)
}

func TestBM25Index_Search_DeterministicAcrossCalls(t *testing.T) {
	// Given: a populated index
	idx := New(DefaultConfig())
	docs := make([]*store.Document, 0, 20)
	for i := 0; i < 20; i++ {
		docs = append(docs, &store.Document{
			ID:      fmt.Sprintf("doc-%02d", i),
			Content: fmt.Sprintf("shared topic entry %d with filler text", i),
		})
	}
	require.NoError(t, idx.Add(docs))

	// When: running the same query repeatedly
	first, err := idx.Search("shared topic", 10)
	require.NoError(t, err)

	// Then: every run returns the same ordering and scores
	for i := 0; i < 5; i++ {
		again, err := idx.Search("shared topic", 10)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestBM25Index_ConcurrentSearchAndAdd(t *testing.T) {
	idx := New(DefaultConfig())
	require.NoError(t, idx.Add([]*store.Document{
		{ID: "seed", Content: "camera lens replacement"},
	}))

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := idx.Search("camera", 5)
				assert.NoError(t, err)
			}
		}()
	}
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				err := idx.Add([]*store.Document{{
					ID:      fmt.Sprintf("writer-%d-%d", g, i),
					Content: "camera accessories catalog",
				}})
				assert.NoError(t, err)
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 21, idx.Stats().DocumentCount)
}

func TestNew_NormalizesConfigBounds(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero values", Config{}},
		{"negative k1", Config{K1: -1}},
		{"b out of range", Config{B: 1.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := New(tt.cfg)
			assert.Equal(t, DefaultConfig().K1, idx.cfg.K1)
			assert.Equal(t, DefaultConfig().B, idx.cfg.B)
			assert.Equal(t, DefaultConfig().MinTokenLength, idx.cfg.MinTokenLength)
		})
	}
}

// Benchmarks track indexing and query throughput on a synthetic corpus.

func benchmarkCorpus(n int) []*store.Document {
	words := []string{
		"invoice", "ledger", "payment", "contract", "deployment", "cluster",
		"rotation", "token", "policy", "report", "audit", "pipeline",
		"release", "schema", "migration", "backup", "incident", "review",
	}
	docs := make([]*store.Document, 0, n)
	for i := 0; i < n; i++ {
		var sb strings.Builder
		for j := 0; j < 40; j++ {
			sb.WriteString(words[(i+j*7)%len(words)])
			sb.WriteByte(' ')
		}
		docs = append(docs, &store.Document{
			ID:      fmt.Sprintf("doc-%04d", i),
			Content: sb.String(),
		})
	}
	return docs
}

func BenchmarkBM25Index_Add(b *testing.B) {
	docs := benchmarkCorpus(1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx := New(DefaultConfig())
		if err := idx.Add(docs); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBM25Index_Search(b *testing.B) {
	idx := New(DefaultConfig())
	if err := idx.Add(benchmarkCorpus(1000)); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := idx.Search("invoice payment audit", 10); err != nil {
			b.Fatal(err)
		}
	}
}
