// Package logsource defines the query-log source contract and the registry the
// concrete adapters add themselves to.
package logsource

import (
	"context"

	"github.com/ekaya-inc/querysight/pkg/models"
)

// BatchFunc receives records in batches of at most the requested size. Returning an
// error stops the fetch and is returned from Fetch.
type BatchFunc func(batch []models.QueryRecord) error

// ConnectionTester tests source connectivity.
// Each implementation owns its connection and must be closed when done.
type ConnectionTester interface {
	// TestConnection verifies the source is reachable with valid credentials.
	TestConnection(ctx context.Context) error

	// Close releases the connection.
	Close() error
}

// Source streams observed query executions.
type Source interface {
	ConnectionTester

	// Fetch delivers every record matching what the source can push down from filter.
	// The caller re-applies the full filter, so sources may return a superset.
	Fetch(ctx context.Context, filter models.CollectionFilter, batchSize int, fn BatchFunc) error

	// Fingerprint identifies the source and its data without exposing secrets.
	Fingerprint() string
}

// Batcher accumulates records and flushes them to fn when full.
type Batcher struct {
	size int
	buf  []models.QueryRecord
	fn   BatchFunc
}

// NewBatcher returns a helper adapters use to honor the batch size contract.
func NewBatcher(size int, fn BatchFunc) *Batcher {
	if size < 1 {
		size = 1
	}
	return &Batcher{size: size, fn: fn, buf: make([]models.QueryRecord, 0, size)}
}

// Add buffers r and flushes when the batch is full.
func (b *Batcher) Add(r models.QueryRecord) error {
	b.buf = append(b.buf, r)
	if len(b.buf) >= b.size {
		return b.Flush()
	}
	return nil
}

// Flush delivers any buffered records.
func (b *Batcher) Flush() error {
	if len(b.buf) == 0 {
		return nil
	}
	batch := b.buf
	b.buf = make([]models.QueryRecord, 0, b.size)
	return b.fn(batch)
}
