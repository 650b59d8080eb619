package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_PutAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: a document with metadata
	doc := &Document{
		ID:      "invoice-2024.pdf#000",
		Content: "Total amount due: 1,250.00",
		Metadata: map[string]any{
			"source": "invoice-2024.pdf",
			"page":   float64(1),
		},
	}

	// When: stored and retrieved
	require.NoError(t, s.Put(ctx, []*Document{doc}))
	got, err := s.Get(ctx, doc.ID)

	// Then: content and metadata round-trip
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, doc.Content, got.Content)
	assert.Equal(t, doc.Metadata, got.Metadata)
	assert.False(t, got.AddedAt.IsZero())
}

func TestSQLiteStore_GetMissingReturnsErrNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "no-such-doc")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLiteStore_PutReplacesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, []*Document{{ID: "a", Content: "first"}}))
	require.NoError(t, s.Put(ctx, []*Document{{ID: "a", Content: "second"}}))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Content)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLiteStore_PutRejectsMissingID(t *testing.T) {
	s := newTestStore(t)

	err := s.Put(context.Background(), []*Document{{Content: "orphan"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing id")
}

func TestSQLiteStore_GetBatchSkipsMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, []*Document{
		{ID: "a", Content: "alpha"},
		{ID: "c", Content: "gamma"},
	}))

	docs, err := s.GetBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "c", docs[1].ID)
}

func TestSQLiteStore_DeleteIgnoresMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, []*Document{{ID: "a", Content: "alpha"}}))
	require.NoError(t, s.Delete(ctx, []string{"a", "never-existed"}))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSQLiteStore_ClearRemovesEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, []*Document{
		{ID: "a", Content: "alpha"},
		{ID: "b", Content: "beta"},
	}))
	require.NoError(t, s.Clear(ctx))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Cleared stores accept new writes.
	require.NoError(t, s.Put(ctx, []*Document{{ID: "c", Content: "gamma"}}))
	doc, err := s.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "gamma", doc.Content)
}

func TestSQLiteStore_AllIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, []*Document{
		{ID: "b", Content: "2"},
		{ID: "a", Content: "1"},
	}))

	ids, err := s.AllIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "documents.db")
	ctx := context.Background()

	s1, err := NewSQLiteStore(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s1.Put(ctx, []*Document{{ID: "a", Content: "alpha"}}))
	require.NoError(t, s1.Close())

	s2, err := NewSQLiteStore(Config{Path: path})
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Content)
}

func TestSQLiteStore_EmptyBatchOperationsAreNoOps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.NoError(t, s.Put(ctx, nil))
	assert.NoError(t, s.Delete(ctx, nil))

	docs, err := s.GetBatch(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
}
