// Package store persists price quotes between process restarts.
//
// Quotes are stored as JSON documents keyed by (item, world). Saves are
// idempotent upserts, and fields added to quote.Quote later decode as zero
// values from older documents.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Sternrassler/market-price-cache/pkg/quote"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrInvalidEntry indicates a stored document could not be decoded.
	ErrInvalidEntry = errors.New("invalid stored quote")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_cache_store_operations_total",
		Help: "Store operations by backend and operation",
	}, []string{"backend", "operation"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_cache_store_errors_total",
		Help: "Store operation errors by backend and operation",
	}, []string{"backend", "operation"})

	quotesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_cache_store_quotes_written_total",
		Help: "Quotes written by backend",
	}, []string{"backend"})
)

// Store is the durable quote store.
type Store interface {
	// LoadAll returns every stored quote. Undecodable documents are skipped.
	LoadAll(ctx context.Context) ([]*quote.Quote, error)

	// SaveAll upserts quotes.
	SaveAll(ctx context.Context, quotes []*quote.Quote) error

	// Delete removes one quote. Deleting a missing key is not an error.
	Delete(ctx context.Context, key quote.Key) error

	// Clear removes every quote.
	Clear(ctx context.Context) error

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

func encode(q *quote.Quote) ([]byte, error) {
	data, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("marshal quote %s: %w", q.Key(), err)
	}
	return data, nil
}

func decode(data []byte) (*quote.Quote, error) {
	var q quote.Quote
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if q.ItemID == 0 {
		return nil, fmt.Errorf("%w: missing item id", ErrInvalidEntry)
	}
	return &q, nil
}

func observe(backend, operation string, err error) {
	operationsTotal.WithLabelValues(backend, operation).Inc()
	if err != nil {
		errorsTotal.WithLabelValues(backend, operation).Inc()
	}
}
