package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namjunsu/docquery/internal/embed"
	"github.com/namjunsu/docquery/internal/index"
	"github.com/namjunsu/docquery/internal/ingest"
	"github.com/namjunsu/docquery/internal/pipeline"
	"github.com/namjunsu/docquery/internal/search"
	"github.com/namjunsu/docquery/internal/store"
	"github.com/namjunsu/docquery/internal/vector"
	"github.com/namjunsu/docquery/internal/watch"
)

// watchStack wires a watcher-driven ingest pipeline to empty backends
// and an engine over them, so tests can observe filesystem changes all
// the way through to search results.
type watchStack struct {
	root string
	vec  *vector.Index
	docs *store.SQLiteStore
	eng  *search.Engine
}

func startWatchStack(t *testing.T) *watchStack {
	t.Helper()

	root := t.TempDir()

	idx := index.New(index.DefaultConfig())
	vec, err := vector.NewIndex(vector.Config{}, embed.NewStaticEmbedder())
	require.NoError(t, err)
	docs, err := store.NewSQLiteStore(store.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = vec.Close()
		_ = docs.Close()
	})

	ing, err := ingest.NewPipeline(idx, vec, docs,
		ingest.WithLogger(discardLogger()),
		ingest.WithPoolSize(1))
	require.NoError(t, err)
	t.Cleanup(ing.Release)

	w, err := watch.New(ing, watch.Options{Debounce: 50 * time.Millisecond}, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, root)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	})
	// Give the watcher a moment to register the root before mutating it.
	time.Sleep(200 * time.Millisecond)

	// The engine deliberately carries no cache here: results must track
	// backend state, not a cached response.
	filt, err := pipeline.New(pipeline.Config{}, docs, discardLogger())
	require.NoError(t, err)
	eng, err := search.NewEngine(search.EngineConfig{}, idx, vec, filt, discardLogger())
	require.NoError(t, err)

	return &watchStack{root: root, vec: vec, docs: docs, eng: eng}
}

func TestWatcher_NewFileBecomesSearchable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	// Given a watcher syncing an empty corpus
	s := startWatchStack(t)

	// When a document appears on disk
	path := filepath.Join(s.root, "incident.md")
	content := "incident postmortem template\n\nincident postmortem timeline and actions\nincident postmortem follow ups\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	// Then the watcher ingests it; the vector index is written last, so
	// its membership marks the chunk fully indexed
	require.Eventually(t, func() bool {
		return s.vec.Contains("incident.md#000")
	}, 5*time.Second, 25*time.Millisecond)

	resp, err := s.eng.Search(context.Background(), "incident postmortem", nil)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "incident.md#000", resp.Results[0].ID)
}

func TestWatcher_DeletedFileLeavesSearchResults(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	// Given a watched corpus with one searchable document
	s := startWatchStack(t)

	path := filepath.Join(s.root, "incident.md")
	content := "incident postmortem template\n\nincident postmortem timeline and actions\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.Eventually(t, func() bool {
		return s.vec.Contains("incident.md#000")
	}, 5*time.Second, 25*time.Millisecond)

	// When the file is deleted
	require.NoError(t, os.Remove(path))

	// Then removal drains through every backend, the store last
	require.Eventually(t, func() bool {
		_, err := s.docs.Get(context.Background(), "incident.md#000")
		return errors.Is(err, store.ErrNotFound)
	}, 5*time.Second, 25*time.Millisecond)

	resp, err := s.eng.Search(context.Background(), "incident postmortem", nil)
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestWatcher_RewrittenFileReplacesChunks(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	// Given a watched document about one topic
	s := startWatchStack(t)

	path := filepath.Join(s.root, "guide.md")
	require.NoError(t, os.WriteFile(path, []byte("billing invoices overview\n\nbilling invoices and payment terms\n"), 0o644))
	require.Eventually(t, func() bool {
		return s.vec.Contains("guide.md#000")
	}, 5*time.Second, 25*time.Millisecond)

	// When the file is rewritten to cover a different topic, the new
	// vocabulary eventually finds it through the full engine
	require.NoError(t, os.WriteFile(path, []byte("onboarding checklist overview\n\nonboarding checklist for new engineers\n"), 0o644))
	require.Eventually(t, func() bool {
		resp, err := s.eng.Search(context.Background(), "onboarding checklist", nil)
		return err == nil && len(resp.Results) > 0 && resp.Results[0].ID == "guide.md#000"
	}, 5*time.Second, 50*time.Millisecond)

	// Then the old vocabulary no longer matches the replaced chunks
	resp, err := s.eng.Search(context.Background(), "billing invoices", nil)
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}
