// Package events publishes quote updates to in-process subscribers.
// Delivery is asynchronous and best-effort: a full dispatch pool drops events.
package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	publishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "price_cache_events_published_total",
		Help: "Quote update events published",
	})

	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "price_cache_events_dropped_total",
		Help: "Quote update events dropped because the dispatch pool was full or closed",
	})

	handlerPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "price_cache_events_handler_panics_total",
		Help: "Subscriber handlers that panicked",
	})
)

// QuoteUpdated is published after a quote was replaced.
type QuoteUpdated struct {
	ItemID  uint32
	WorldID uint32
}

// Handler receives events.
type Handler func(QuoteUpdated)

// UnsubscribeFunc removes a subscription.
type UnsubscribeFunc func()

// Config holds bus configuration.
type Config struct {
	// PoolSize is the number of goroutines dispatching events.
	PoolSize int
}

// DefaultConfig returns the default bus configuration.
func DefaultConfig() Config {
	return Config{PoolSize: 16}
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus dispatches events to subscribers through a goroutine pool.
type Bus struct {
	pool   *ants.Pool
	logger zerolog.Logger

	mu     sync.RWMutex
	subs   []subscription
	nextID atomic.Uint64
}

// New creates a bus.
func New(cfg Config) (*Bus, error) {
	if cfg.PoolSize <= 0 {
		return nil, fmt.Errorf("pool size must be > 0 (got %d)", cfg.PoolSize)
	}

	b := &Bus{
		logger: log.With().Str("component", "event-bus").Logger(),
	}

	pool, err := ants.NewPool(cfg.PoolSize,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			handlerPanicsTotal.Inc()
			b.logger.Error().Interface("panic", p).Msg("Event handler panicked")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create dispatch pool: %w", err)
	}
	b.pool = pool
	return b, nil
}

// Subscribe registers handler for every future event.
func (b *Bus) Subscribe(handler Handler) UnsubscribeFunc {
	if handler == nil {
		return func() {}
	}

	id := b.nextID.Add(1)
	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() { b.unsubscribe(id) }
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish hands the event to the pool and returns immediately.
func (b *Bus) Publish(event QuoteUpdated) {
	b.mu.RLock()
	if len(b.subs) == 0 {
		b.mu.RUnlock()
		return
	}
	handlers := make([]Handler, len(b.subs))
	for i, s := range b.subs {
		handlers[i] = s.handler
	}
	b.mu.RUnlock()

	err := b.pool.Submit(func() {
		for _, h := range handlers {
			h(event)
		}
	})
	if err != nil {
		droppedTotal.Inc()
		b.logger.Debug().
			Err(err).
			Uint32("item_id", event.ItemID).
			Uint32("world_id", event.WorldID).
			Msg("Dropping quote update event")
		return
	}
	publishedTotal.Inc()
}

// Close waits up to timeout for running handlers and releases the pool.
func (b *Bus) Close(timeout time.Duration) error {
	if err := b.pool.ReleaseTimeout(timeout); err != nil {
		return fmt.Errorf("release dispatch pool: %w", err)
	}
	return nil
}
