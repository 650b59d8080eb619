// Package alert delivers operational escalations to an external sink.
// Delivery is asynchronous and best-effort: a failed or dropped alert
// never affects the query that raised it.
package alert

import "context"

// Severity classifies how urgent an event is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is one operational escalation.
type Event struct {
	Title    string
	Payload  map[string]any
	Severity Severity
}

// Sink accepts events for delivery. Notify must return promptly; queuing
// and delivery happen off the caller's path.
type Sink interface {
	Notify(ctx context.Context, ev Event)
	Close() error
}
