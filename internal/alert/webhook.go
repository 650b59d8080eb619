package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	dqerrors "github.com/namjunsu/docquery/internal/errors"
)

// Default webhook sink configuration values.
const (
	DefaultAlertTimeout    = 5 * time.Second
	DefaultAlertMaxRetries = 3
	DefaultAlertQueueSize  = 128
	DefaultAlertRate       = 5.0
	DefaultAlertBurst      = 10
	DefaultRetryBackoff    = 500 * time.Millisecond
	DefaultMaxBackoff      = 8 * time.Second
	DefaultFlushTimeout    = 3 * time.Second
)

// WebhookConfig configures the webhook sink.
type WebhookConfig struct {
	// URL is the webhook endpoint alerts are POSTed to.
	URL string

	// Timeout bounds one delivery attempt (default: 5s).
	Timeout time.Duration

	// MaxRetries bounds retries of one event (default: 3).
	MaxRetries int

	// QueueSize bounds queued events; further events are dropped and
	// counted (default: 128).
	QueueSize int

	// RatePerSecond and Burst govern the outbound send rate
	// (defaults: 5/s, burst 10).
	RatePerSecond float64
	Burst         int

	// RetryBackoff is the initial retry delay, doubled per attempt up
	// to MaxBackoff (defaults: 500ms, 8s). A 429 Retry-After header
	// overrides the computed delay when longer.
	RetryBackoff time.Duration
	MaxBackoff   time.Duration

	// FlushTimeout bounds how long Close waits for queued events to
	// drain before aborting in-flight delivery (default: 3s).
	FlushTimeout time.Duration
}

// Stats is a point-in-time snapshot of sink activity.
type Stats struct {
	Delivered uint64
	Failed    uint64
	Dropped   uint64
}

// Webhook delivers events to an HTTP endpoint from a single background
// worker. The queue is bounded; when it is full new events are dropped
// rather than blocking the caller.
type Webhook struct {
	cfg     WebhookConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	queue chan Event
	done  chan struct{}
	ctx   context.Context
	stop  context.CancelFunc
	wg    sync.WaitGroup
	once  sync.Once

	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

var _ Sink = (*Webhook)(nil)

// NewWebhook creates a webhook sink and starts its delivery worker.
func NewWebhook(cfg WebhookConfig, logger *slog.Logger) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, dqerrors.ConfigError("alert webhook URL is empty", nil).
			WithSuggestion("set alert.webhook_url or disable alerting")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultAlertTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultAlertMaxRetries
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultAlertQueueSize
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultAlertRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultAlertBurst
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.MaxBackoff < cfg.RetryBackoff {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, stop := context.WithCancel(context.Background())
	w := &Webhook{
		cfg:     cfg,
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:  logger.With("component", "alert"),
		queue:   make(chan Event, cfg.QueueSize),
		done:    make(chan struct{}),
		ctx:     ctx,
		stop:    stop,
	}

	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Notify queues ev for delivery. It never blocks: when the queue is full
// the event is dropped and counted.
func (w *Webhook) Notify(_ context.Context, ev Event) {
	select {
	case w.queue <- ev:
	default:
		w.dropped.Add(1)
		w.logger.Debug("alert queue full, dropping event", "title", ev.Title)
	}
}

// Stats returns delivery counters.
func (w *Webhook) Stats() Stats {
	return Stats{
		Delivered: w.delivered.Load(),
		Failed:    w.failed.Load(),
		Dropped:   w.dropped.Load(),
	}
}

// Close drains queued events within the flush timeout, aborting in-flight
// delivery if the deadline passes. Safe to call more than once.
func (w *Webhook) Close() error {
	w.once.Do(func() {
		close(w.done)

		drained := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(drained)
		}()

		select {
		case <-drained:
		case <-time.After(w.cfg.FlushTimeout):
			w.stop()
			<-drained
		}
		w.stop()
	})
	return nil
}

// run is the delivery worker. After done closes it drains whatever is
// already queued, then exits.
func (w *Webhook) run() {
	defer w.wg.Done()
	for {
		select {
		case ev := <-w.queue:
			w.send(ev)
		case <-w.done:
			for {
				select {
				case ev := <-w.queue:
					w.send(ev)
				default:
					return
				}
			}
		}
	}
}

// webhookBody is the delivery wire format.
type webhookBody struct {
	Title     string         `json:"title"`
	Severity  Severity       `json:"severity"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// send delivers one event with bounded retries. Server errors and network
// failures back off exponentially; a 429 Retry-After header stretches the
// delay when it asks for more.
func (w *Webhook) send(ev Event) {
	body, err := json.Marshal(webhookBody{
		Title:     ev.Title,
		Severity:  ev.Severity,
		Payload:   ev.Payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		w.failed.Add(1)
		w.logger.Warn("alert payload not serializable, dropping", "title", ev.Title, "error", err)
		return
	}

	delay := w.cfg.RetryBackoff
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if err := w.limiter.Wait(w.ctx); err != nil {
			w.failed.Add(1)
			return
		}

		outcome, retryAfter := w.attempt(body)
		if outcome == deliveryOK {
			w.delivered.Add(1)
			return
		}
		if outcome == deliveryRejected || attempt == w.cfg.MaxRetries {
			w.failed.Add(1)
			w.logger.Warn("alert delivery failed", "title", ev.Title, "attempts", attempt+1)
			return
		}

		wait := delay
		if retryAfter > wait {
			wait = retryAfter
		}
		select {
		case <-time.After(wait):
		case <-w.ctx.Done():
			w.failed.Add(1)
			return
		}
		delay *= 2
		if delay > w.cfg.MaxBackoff {
			delay = w.cfg.MaxBackoff
		}
	}
}

type deliveryOutcome int

const (
	deliveryOK deliveryOutcome = iota
	deliveryRetryable
	deliveryRejected
)

// attempt performs one POST. The second return is the Retry-After hint
// (zero when the server sent none).
func (w *Webhook) attempt(body []byte) (deliveryOutcome, time.Duration) {
	ctx, cancel := context.WithTimeout(w.ctx, w.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return deliveryRejected, 0
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return deliveryRetryable, 0
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<12))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return deliveryOK, 0
	case resp.StatusCode == http.StatusTooManyRequests:
		return deliveryRetryable, parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode >= 500:
		return deliveryRetryable, 0
	default:
		return deliveryRejected, 0
	}
}

// parseRetryAfter reads the delay-seconds form of the header. Dates and
// garbage fall back to zero, leaving the backoff schedule in charge.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
