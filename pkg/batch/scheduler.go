// Package batch coalesces single-item price requests into per-world batches.
//
// A world's pending batch opens on its first Enqueue and is flushed to the
// Submitter when it reaches MaxBatchSize (synchronously, inside Enqueue) or
// when its QueueWindow expires (on the next Tick), whichever comes first.
package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/market-price-cache/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	pendingItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "price_cache_batch_pending_items",
		Help: "Item ids waiting in open batches",
	})

	flushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_cache_batch_flushes_total",
		Help: "Batch flushes by trigger",
	}, []string{"trigger"})

	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "price_cache_batch_size",
		Help:    "Number of item ids per flushed batch",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 40, 50},
	})
)

// Flush triggers.
const (
	TriggerSize     = "size"
	TriggerWindow   = "window"
	TriggerShutdown = "shutdown"
)

// Submitter receives flushed batches.
type Submitter interface {
	Submit(worldID uint32, itemIDs []uint32)
}

// Config holds scheduler configuration.
type Config struct {
	// QueueWindow is the longest a batch waits before it is flushed.
	QueueWindow time.Duration

	// MaxBatchSize flushes a batch as soon as it holds this many ids.
	MaxBatchSize int
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		QueueWindow:  5 * time.Second,
		MaxBatchSize: client.MaxItemsPerRequest,
	}
}

type pendingBatch struct {
	expiry time.Time
	items  []uint32
	seen   map[uint32]struct{}
}

// location holds at most one open batch for a world.
type location struct {
	mu    sync.Mutex
	batch *pendingBatch
}

// Scheduler owns the open batches of every world.
type Scheduler struct {
	config    Config
	submitter Submitter
	logger    zerolog.Logger
	now       func() time.Time

	locations sync.Map // uint32 -> *location
	pending   atomic.Int64
}

// New creates a scheduler flushing into submitter.
func New(cfg Config, submitter Submitter) (*Scheduler, error) {
	if submitter == nil {
		return nil, fmt.Errorf("submitter is required")
	}
	if cfg.QueueWindow <= 0 {
		return nil, fmt.Errorf("queue window must be > 0 (got %s)", cfg.QueueWindow)
	}
	if cfg.MaxBatchSize <= 0 || cfg.MaxBatchSize > client.MaxItemsPerRequest {
		return nil, fmt.Errorf("max batch size must be between 1 and %d (got %d)",
			client.MaxItemsPerRequest, cfg.MaxBatchSize)
	}

	return &Scheduler{
		config:    cfg,
		submitter: submitter,
		logger:    log.With().Str("component", "batch-scheduler").Logger(),
		now:       time.Now,
	}, nil
}

// Enqueue adds itemID to the world's open batch, opening one if needed.
// Ids already waiting in the batch are ignored.
func (s *Scheduler) Enqueue(worldID, itemID uint32) {
	loc := s.location(worldID)

	loc.mu.Lock()
	defer loc.mu.Unlock()

	if loc.batch == nil {
		loc.batch = &pendingBatch{
			expiry: s.now().Add(s.config.QueueWindow),
			seen:   make(map[uint32]struct{}),
		}
	}
	if _, ok := loc.batch.seen[itemID]; ok {
		return
	}
	loc.batch.seen[itemID] = struct{}{}
	loc.batch.items = append(loc.batch.items, itemID)
	s.pending.Add(1)
	pendingItems.Inc()

	if len(loc.batch.items) >= s.config.MaxBatchSize {
		s.flushLocked(worldID, loc, TriggerSize)
	}
}

// Tick flushes every batch whose window has expired at now and returns the
// number of batches flushed.
func (s *Scheduler) Tick(now time.Time) int {
	flushed := 0
	s.locations.Range(func(key, value any) bool {
		loc := value.(*location)
		loc.mu.Lock()
		if loc.batch != nil && !now.Before(loc.batch.expiry) {
			s.flushLocked(key.(uint32), loc, TriggerWindow)
			flushed++
		}
		loc.mu.Unlock()
		return true
	})
	return flushed
}

// FlushAll flushes every open batch regardless of its window.
func (s *Scheduler) FlushAll() int {
	flushed := 0
	s.locations.Range(func(key, value any) bool {
		loc := value.(*location)
		loc.mu.Lock()
		if loc.batch != nil {
			s.flushLocked(key.(uint32), loc, TriggerShutdown)
			flushed++
		}
		loc.mu.Unlock()
		return true
	})
	return flushed
}

// Run calls Tick every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(s.now())
		}
	}
}

// Pending returns the number of item ids waiting in open batches.
func (s *Scheduler) Pending() int {
	return int(s.pending.Load())
}

func (s *Scheduler) location(worldID uint32) *location {
	if loc, ok := s.locations.Load(worldID); ok {
		return loc.(*location)
	}
	loc, _ := s.locations.LoadOrStore(worldID, &location{})
	return loc.(*location)
}

// flushLocked removes the open batch and submits it. loc.mu must be held.
func (s *Scheduler) flushLocked(worldID uint32, loc *location, trigger string) {
	items := loc.batch.items
	loc.batch = nil

	s.pending.Add(-int64(len(items)))
	pendingItems.Sub(float64(len(items)))
	flushesTotal.WithLabelValues(trigger).Inc()
	batchSize.Observe(float64(len(items)))

	s.logger.Debug().
		Uint32("world_id", worldID).
		Int("batch_size", len(items)).
		Str("trigger", trigger).
		Msg("Flushing batch")

	s.submitter.Submit(worldID, items)
}
