// Package store provides document persistence for docquery. It owns the
// canonical Document type and supplies text/metadata lookups by id for any
// candidate produced by the retrieval paths.
package store

import (
	"context"
	"errors"
	"time"
)

// Document is the canonical unit of retrievable content. When a source file
// is split during ingestion, each chunk becomes its own Document whose ID
// carries the chunk suffix (e.g. "invoice-2024.pdf#003"); that ID is the
// single canonical identifier used across indexing, fusion, and filtering.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]any
	AddedAt  time.Time
}

// ErrNotFound is returned when a document id has no stored entry.
// Callers on the query path treat it as "drop this candidate", never fatal.
var ErrNotFound = errors.New("store: document not found")

// DocumentStore persists document text and metadata by canonical id.
type DocumentStore interface {
	// Put inserts or replaces documents.
	Put(ctx context.Context, docs []*Document) error

	// Get returns the document for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Document, error)

	// GetBatch returns the documents for ids, skipping missing ones.
	GetBatch(ctx context.Context, ids []string) ([]*Document, error)

	// Delete removes documents by id. Missing ids are ignored.
	Delete(ctx context.Context, ids []string) error

	// AllIDs returns every stored document id (for consistency checks).
	AllIDs(ctx context.Context) ([]string, error)

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Close releases the underlying resources.
	Close() error
}

// Config configures the SQLite document store.
type Config struct {
	// Path is the database file path. Empty means in-memory (testing).
	Path string

	// BusyTimeoutMS is the SQLite busy timeout in milliseconds (default: 5000).
	BusyTimeoutMS int
}

// DefaultConfig returns default document store configuration.
func DefaultConfig() Config {
	return Config{
		BusyTimeoutMS: 5000,
	}
}
