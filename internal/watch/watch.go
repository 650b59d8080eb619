// Package watch keeps the search backends in sync with a corpus
// directory on disk.
//
// An fsnotify watcher covers the corpus tree recursively. Raw events are
// debounced, then applied to the ingest pipeline: creates and modifies
// re-index the file, deletes drop its chunks. Hidden files and
// directories are ignored, matching the ingestion walk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrIngestorRequired is returned when no ingestor is provided.
var ErrIngestorRequired = errors.New("ingestor required")

// Op classifies a coalesced file change.
type Op int

const (
	// OpCreate indicates a new file appeared.
	OpCreate Op = iota
	// OpModify indicates an existing file changed.
	OpModify
	// OpDelete indicates a file was removed or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Event is one debounced file change. Path is relative to the watch root.
type Event struct {
	Path      string
	Op        Op
	Timestamp time.Time
}

// Ingestor applies file changes to the search backends.
// *ingest.Pipeline is the production implementation.
type Ingestor interface {
	ProcessFile(ctx context.Context, root, path string) (int, error)
	RemoveFile(ctx context.Context, root, path string) error
}

// Options configures the watcher.
type Options struct {
	// Debounce is how long a path must stay quiet before its coalesced
	// event is applied. Default: 200ms.
	Debounce time.Duration
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{Debounce: 200 * time.Millisecond}
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = DefaultOptions().Debounce
	}
	return o
}

// Watcher drives an Ingestor from file system events.
type Watcher struct {
	ingestor  Ingestor
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	logger    *slog.Logger
	opts      Options
	root      string

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped bool
}

// New creates a watcher that feeds file changes to ing.
func New(ing Ingestor, opts Options, logger *slog.Logger) (*Watcher, error) {
	if ing == nil {
		return nil, ErrIngestorRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		ingestor:  ing,
		fsw:       fsw,
		debouncer: NewDebouncer(opts.Debounce),
		logger:    logger.With("component", "watch"),
		opts:      opts,
		stopCh:    make(chan struct{}),
	}, nil
}

// Run watches root until ctx is cancelled or Stop is called. It blocks,
// so callers start it in a goroutine of their own. Run is one-shot: a
// stopped watcher cannot be restarted.
func (w *Watcher) Run(ctx context.Context, root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve corpus root: %w", err)
	}
	fi, err := os.Stat(absRoot)
	if err != nil {
		return fmt.Errorf("stat corpus root: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", absRoot)
	}
	w.root = absRoot

	if err := w.watchTree(absRoot, false); err != nil {
		return fmt.Errorf("watch corpus tree: %w", err)
	}

	go w.applyLoop(ctx)

	w.logger.Info("watching corpus", "root", absRoot, "debounce", w.opts.Debounce)
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// Stop halts watching and discards pending events. Safe to call more
// than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	return w.fsw.Close()
}

// watchTree registers every directory under dir. With emitFiles set the
// files already present are queued as creates, covering files written
// into a fresh directory before its watch landed.
func (w *Watcher) watchTree(dir string, emitFiles bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel := w.relPath(path)
		if hidden(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		if emitFiles && d.Type().IsRegular() {
			w.debouncer.Add(Event{Path: rel, Op: OpCreate, Timestamp: time.Now()})
		}
		return nil
	})
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	rel := w.relPath(ev.Name)
	if rel == "." || hidden(rel) {
		return
	}

	switch {
	case ev.Op&fsnotify.Create != 0:
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := w.watchTree(ev.Name, true); err != nil {
				w.logger.Warn("watch new directory", "path", rel, "error", err)
			}
			return
		}
		w.debouncer.Add(Event{Path: rel, Op: OpCreate, Timestamp: time.Now()})
	case ev.Op&fsnotify.Write != 0:
		w.debouncer.Add(Event{Path: rel, Op: OpModify, Timestamp: time.Now()})
	case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
		// A rename fires on the old name. The new name arrives as its
		// own create event.
		w.debouncer.Add(Event{Path: rel, Op: OpDelete, Timestamp: time.Now()})
	}
}

func (w *Watcher) applyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			w.apply(ctx, batch)
		}
	}
}

func (w *Watcher) apply(ctx context.Context, batch []Event) {
	for _, ev := range batch {
		path := filepath.Join(w.root, ev.Path)
		var err error
		switch ev.Op {
		case OpDelete:
			err = w.ingestor.RemoveFile(ctx, w.root, path)
		default:
			_, err = w.ingestor.ProcessFile(ctx, w.root, path)
		}
		if err != nil {
			w.logger.Warn("apply file change",
				"op", ev.Op.String(), "path", ev.Path, "error", err)
			continue
		}
		w.logger.Debug("file change applied", "op", ev.Op.String(), "path", ev.Path)
	}
}

func (w *Watcher) relPath(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return rel
}

// hidden reports whether any element of the relative path starts with a
// dot. The watch root itself is never hidden.
func hidden(rel string) bool {
	if rel == "." {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
