package index

import (
	"fmt"
	"math"
	"sort"
	"sync"

	dqerrors "github.com/namjunsu/docquery/internal/errors"
	"github.com/namjunsu/docquery/internal/store"
)

// Config configures the BM25 index.
type Config struct {
	// K1 is the term frequency saturation parameter (default: 1.2).
	K1 float64

	// B is the length normalization parameter (default: 0.75).
	B float64

	// MinTokenLength is the minimum token length to index (default: 2).
	MinTokenLength int

	// StopWords are dropped during tokenization (default: none).
	StopWords []string

	// TokenMemoSize bounds the tokenizer's query memo (default: 4096;
	// zero disables memoization).
	TokenMemoSize int
}

// DefaultConfig returns default BM25 configuration.
func DefaultConfig() Config {
	return Config{
		K1:             1.2,
		B:              0.75,
		MinTokenLength: 2,
		TokenMemoSize:  4096,
	}
}

// RankedHit is one lexical search result. Rank is 1-based.
type RankedHit struct {
	ID    string
	Score float64
	Rank  int
}

// Stats provides point-in-time statistics about the index.
type Stats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Index is an in-memory inverted index scored with BM25.
// Reads run concurrently; batch writes are exclusive.
type BM25Index struct {
	mu        sync.RWMutex
	cfg       Config
	tokenizer *Tokenizer

	// postings maps term -> docID -> term frequency. Document frequency
	// is len(postings[term]); only tf > 0 entries are ever inserted.
	postings map[string]map[string]int
	docLens  map[string]int
	docSeq   map[string]int // ingestion order, used for tie-breaks
	totalLen int
	avgLen   float64
	nextSeq  int
}

// New creates an empty BM25 index with cfg. Out-of-range parameters fall
// back to their defaults, so the zero Config behaves like DefaultConfig.
func New(cfg Config) *BM25Index {
	def := DefaultConfig()
	if cfg.K1 <= 0 {
		cfg.K1 = def.K1
	}
	if cfg.B <= 0 || cfg.B > 1 {
		cfg.B = def.B
	}
	if cfg.MinTokenLength <= 0 {
		cfg.MinTokenLength = def.MinTokenLength
	}

	return &BM25Index{
		cfg:       cfg,
		tokenizer: NewTokenizer(cfg),
		postings:  make(map[string]map[string]int),
		docLens:   make(map[string]int),
		docSeq:    make(map[string]int),
	}
}

// Tokenizer exposes the index's tokenizer so query-side components share
// the same token rules.
func (idx *BM25Index) Tokenizer() *Tokenizer {
	return idx.tokenizer
}

// Add indexes a batch of documents. The batch is validated first: a
// document without an id, a duplicate id within the batch, or an id
// already present in the index rejects the whole batch and nothing is
// applied. Tokenization happens outside the write lock.
func (idx *BM25Index) Add(docs []*store.Document) error {
	if len(docs) == 0 {
		return nil
	}

	type tokenized struct {
		id     string
		counts map[string]int
		length int
	}

	prepared := make([]tokenized, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		if doc == nil || doc.ID == "" {
			return dqerrors.New(dqerrors.ErrCodeMissingDocID,
				"document has no id", nil).
				WithSuggestion("assign a stable id before ingestion")
		}
		if _, dup := seen[doc.ID]; dup {
			return dqerrors.New(dqerrors.ErrCodeInvalidInput,
				fmt.Sprintf("duplicate document id in batch: %s", doc.ID), nil)
		}
		seen[doc.ID] = struct{}{}

		tokens := idx.tokenizer.Tokenize(doc.Content)
		counts := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			counts[tok]++
		}
		prepared = append(prepared, tokenized{id: doc.ID, counts: counts, length: len(tokens)})
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, p := range prepared {
		if _, exists := idx.docSeq[p.id]; exists {
			return dqerrors.New(dqerrors.ErrCodeInvalidInput,
				fmt.Sprintf("document already indexed: %s", p.id), nil).
				WithSuggestion("re-ingest the corpus to replace documents")
		}
	}

	for _, p := range prepared {
		idx.docSeq[p.id] = idx.nextSeq
		idx.nextSeq++
		idx.docLens[p.id] = p.length
		idx.totalLen += p.length

		for term, tf := range p.counts {
			m := idx.postings[term]
			if m == nil {
				m = make(map[string]int)
				idx.postings[term] = m
			}
			m[p.id] = tf
		}
	}

	idx.recomputeAvgLen()
	return nil
}

// Remove drops documents from the index. Unknown ids are ignored.
// Remaining documents keep their ingestion order for tie-breaks.
func (idx *BM25Index) Remove(ids []string) {
	if len(ids) == 0 {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	victims := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := idx.docSeq[id]; !ok {
			continue
		}
		victims[id] = struct{}{}
		idx.totalLen -= idx.docLens[id]
		delete(idx.docLens, id)
		delete(idx.docSeq, id)
	}
	if len(victims) == 0 {
		return
	}

	for term, byDoc := range idx.postings {
		for id := range victims {
			delete(byDoc, id)
		}
		if len(byDoc) == 0 {
			delete(idx.postings, term)
		}
	}
	idx.recomputeAvgLen()
}

// recomputeAvgLen refreshes the average document length. Caller holds the
// write lock.
func (idx *BM25Index) recomputeAvgLen() {
	if len(idx.docLens) == 0 {
		idx.avgLen = 0
		return
	}
	idx.avgLen = float64(idx.totalLen) / float64(len(idx.docLens))
}

// Search tokenizes query and returns up to topK documents ranked by BM25
// score. An empty tokenized query, an empty index, or topK <= 0 yields an
// empty result, never an error. Only documents with score > 0 are
// returned, ordered by score descending with ingestion order breaking
// ties; ranks are 1-based.
func (idx *BM25Index) Search(query string, topK int) ([]RankedHit, error) {
	if topK <= 0 {
		return nil, nil
	}

	terms := idx.tokenizer.Tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.docLens)
	if n == 0 || idx.avgLen == 0 {
		return nil, nil
	}

	scores := make(map[string]float64)
	for _, term := range terms {
		docs, ok := idx.postings[term]
		if !ok {
			continue // df == 0 contributes nothing
		}

		// Smoothed idf (the Lucene form). The +1 keeps terms that appear
		// in most documents from scoring negative.
		idf := math.Log(1 + (float64(n)-float64(len(docs))+0.5)/(float64(len(docs))+0.5))
		for docID, tf := range docs {
			norm := idx.cfg.K1 * (1 - idx.cfg.B + idx.cfg.B*float64(idx.docLens[docID])/idx.avgLen)
			scores[docID] += idf * float64(tf) * (idx.cfg.K1 + 1) / (float64(tf) + norm)
		}
	}

	hits := make([]RankedHit, 0, len(scores))
	for docID, score := range scores {
		if score > 0 {
			hits = append(hits, RankedHit{ID: docID, Score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return idx.docSeq[hits[i].ID] < idx.docSeq[hits[j].ID]
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	for i := range hits {
		hits[i].Rank = i + 1
	}
	return hits, nil
}

// Contains reports whether docID is indexed.
func (idx *BM25Index) Contains(docID string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.docSeq[docID]
	return ok
}

// AllIDs returns indexed document ids in ingestion order.
func (idx *BM25Index) AllIDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	ids := make([]string, 0, len(idx.docSeq))
	for id := range idx.docSeq {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return idx.docSeq[ids[i]] < idx.docSeq[ids[j]]
	})
	return ids
}

// Stats returns point-in-time index statistics.
func (idx *BM25Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return Stats{
		DocumentCount: len(idx.docLens),
		TermCount:     len(idx.postings),
		AvgDocLength:  idx.avgLen,
	}
}
