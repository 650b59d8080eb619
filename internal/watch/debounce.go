package watch

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces bursts of raw events per path so an editor save
// dance or a git checkout collapses into one change per file. Pairs are
// merged on the first operation seen in the window:
//
//	create then modify -> create
//	create then delete -> dropped
//	modify then delete -> delete
//	delete then create -> modify
type Debouncer struct {
	window  time.Duration
	mu      sync.Mutex
	pending map[string]*pendingChange
	timer   *time.Timer
	out     chan []Event
	stopped bool
}

type pendingChange struct {
	event   Event
	firstOp Op
}

// NewDebouncer creates a debouncer that emits a batch once no event has
// arrived for window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingChange),
		out:     make(chan []Event, 8),
	}
}

// Add queues an event, merging it with any pending event for the same path.
func (d *Debouncer) Add(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if cur, ok := d.pending[ev.Path]; ok {
		merged, keep := merge(cur, ev)
		if keep {
			cur.event = merged
		} else {
			delete(d.pending, ev.Path)
		}
	} else {
		d.pending[ev.Path] = &pendingChange{event: ev, firstOp: ev.Op}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// merge applies the coalescing rules. keep is false when the pair
// cancels out, a file created and deleted inside one window.
func merge(cur *pendingChange, next Event) (merged Event, keep bool) {
	switch cur.firstOp {
	case OpCreate:
		switch next.Op {
		case OpModify:
			return cur.event, true
		case OpDelete:
			return Event{}, false
		}
	case OpDelete:
		if next.Op == OpCreate {
			next.Op = OpModify
			return next, true
		}
	}
	return next, true
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]Event, 0, len(d.pending))
	for _, pc := range d.pending {
		batch = append(batch, pc.event)
	}
	d.pending = make(map[string]*pendingChange)

	select {
	case d.out <- batch:
	default:
		slog.Warn("debounce queue full, dropping batch", "batch_size", len(batch))
	}
}

// Output returns the channel of debounced batches.
func (d *Debouncer) Output() <-chan []Event {
	return d.out
}

// Stop discards pending events and closes the output channel.
// Safe to call more than once.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.out)
}
