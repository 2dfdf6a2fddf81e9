package store

import (
	"context"
	"sync"

	"github.com/Sternrassler/market-price-cache/pkg/quote"
)

const backendMemory = "memory"

// MemoryStore keeps encoded quotes in process memory. It is used when
// persistence is disabled and in tests.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[quote.Key][]byte
	saves  int
	closed bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[quote.Key][]byte)}
}

// LoadAll decodes every stored quote.
func (s *MemoryStore) LoadAll(ctx context.Context) ([]*quote.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	quotes := make([]*quote.Quote, 0, len(s.docs))
	for _, data := range s.docs {
		q, err := decode(data)
		if err != nil {
			continue
		}
		quotes = append(quotes, q)
	}
	observe(backendMemory, "load", nil)
	return quotes, nil
}

// SaveAll upserts quotes.
func (s *MemoryStore) SaveAll(ctx context.Context, quotes []*quote.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	for _, q := range quotes {
		if q == nil {
			continue
		}
		data, err := encode(q)
		if err != nil {
			observe(backendMemory, "save", err)
			return err
		}
		s.docs[q.Key()] = data
	}
	s.saves++
	observe(backendMemory, "save", nil)
	return nil
}

// Delete removes one quote.
func (s *MemoryStore) Delete(ctx context.Context, key quote.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.docs, key)
	return nil
}

// Clear removes every quote.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.docs = make(map[quote.Key][]byte)
	return nil
}

// Ping reports ErrClosed after Close.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of stored quotes.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Saves returns how many SaveAll calls succeeded.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
