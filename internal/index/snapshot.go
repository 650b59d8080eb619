package index

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/klauspost/compress/zstd"

	dqerrors "github.com/namjunsu/docquery/internal/errors"
)

// snapshotVersion guards the on-disk format. Bump on layout changes.
const snapshotVersion = 1

// snapshotState is the gob-encoded index state. It carries the scoring
// parameters so a loaded index returns the same results as the saved one.
type snapshotState struct {
	Version        int
	K1             float64
	B              float64
	MinTokenLength int
	StopWords      []string
	TokenMemoSize  int
	Postings       map[string]map[string]int
	DocLens        map[string]int
	DocSeq         map[string]int
	TotalLen       int
	NextSeq        int
}

// Save writes a zstd-compressed snapshot of the index to path, atomically
// (temp file + rename). An advisory file lock serializes snapshot access
// across processes.
func (idx *BM25Index) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquire snapshot lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	idx.mu.RLock()
	state := snapshotState{
		Version:        snapshotVersion,
		K1:             idx.cfg.K1,
		B:              idx.cfg.B,
		MinTokenLength: idx.cfg.MinTokenLength,
		StopWords:      idx.cfg.StopWords,
		TokenMemoSize:  idx.cfg.TokenMemoSize,
		Postings:       idx.postings,
		DocLens:        idx.docLens,
		DocSeq:         idx.docSeq,
		TotalLen:       idx.totalLen,
		NextSeq:        idx.nextSeq,
	}
	err := writeSnapshot(path, &state)
	idx.mu.RUnlock()
	return err
}

// writeSnapshot encodes state to a temp file and renames it into place.
func writeSnapshot(path string, state *snapshotState) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		cleanup()
		return fmt.Errorf("create zstd writer: %w", err)
	}

	if err := gob.NewEncoder(zw).Encode(state); err != nil {
		cleanup()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		cleanup()
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename snapshot into place: %w", err)
	}
	return nil
}

// Load reads a snapshot written by Save and reconstructs the index,
// including its scoring parameters, so search results round-trip exactly.
func Load(path string) (*BM25Index, error) {
	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("acquire snapshot lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dqerrors.New(dqerrors.ErrCodeFileNotFound,
				fmt.Sprintf("snapshot not found: %s", path), err)
		}
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, dqerrors.New(dqerrors.ErrCodeSnapshotCorrupt,
			fmt.Sprintf("snapshot is not a zstd stream: %s", path), err)
	}
	defer zr.Close()

	var state snapshotState
	if err := gob.NewDecoder(zr).Decode(&state); err != nil {
		return nil, dqerrors.New(dqerrors.ErrCodeSnapshotCorrupt,
			fmt.Sprintf("snapshot decode failed: %s", path), err).
			WithSuggestion("delete the snapshot and re-ingest the corpus")
	}

	if state.Version != snapshotVersion {
		return nil, dqerrors.New(dqerrors.ErrCodeSnapshotCorrupt,
			fmt.Sprintf("snapshot version %d, want %d", state.Version, snapshotVersion), nil).
			WithSuggestion("re-ingest the corpus with this binary")
	}

	idx := New(Config{
		K1:             state.K1,
		B:              state.B,
		MinTokenLength: state.MinTokenLength,
		StopWords:      state.StopWords,
		TokenMemoSize:  state.TokenMemoSize,
	})

	if state.Postings != nil {
		idx.postings = state.Postings
	}
	if state.DocLens != nil {
		idx.docLens = state.DocLens
	}
	if state.DocSeq != nil {
		idx.docSeq = state.DocSeq
	}
	idx.totalLen = state.TotalLen
	idx.nextSeq = state.NextSeq
	idx.recomputeAvgLen()

	return idx, nil
}
