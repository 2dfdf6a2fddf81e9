package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/market-price-cache/pkg/events"
	"github.com/Sternrassler/market-price-cache/pkg/logging"
	"github.com/Sternrassler/market-price-cache/pkg/quote"
	"github.com/Sternrassler/market-price-cache/pkg/store"
	"github.com/rs/zerolog"
)

// ItemCatalog reports whether an item can be traded.
type ItemCatalog interface {
	IsTradable(itemID uint32) bool
}

// Enqueuer accepts keys to fetch.
type Enqueuer interface {
	Enqueue(worldID, itemID uint32)
}

// Publisher receives quote update notifications.
type Publisher interface {
	Publish(event events.QuoteUpdated)
}

// Config holds price cache configuration.
type Config struct {
	// AutoRequest queues a fetch for missing and stale quotes.
	AutoRequest bool

	// MaxAge after which a quote is stale. 0 disables staleness.
	MaxAge time.Duration

	// AutomaticSaveTime is the minimum interval between unforced saves.
	AutomaticSaveTime time.Duration

	// SaveTimeout bounds a single store write.
	SaveTimeout time.Duration

	// Worlds is the world set read by PricingAllWorlds.
	Worlds []uint32
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		AutoRequest:       true,
		MaxAge:            24 * time.Hour,
		AutomaticSaveTime: 120 * time.Second,
		SaveTimeout:       30 * time.Second,
	}
}

// PriceCache serves cached quotes and requests fetches for missing ones.
type PriceCache struct {
	config  Config
	sched   Enqueuer
	store   store.Store
	bus     Publisher
	catalog ItemCatalog
	logger  zerolog.Logger
	now     func() time.Time

	quotes   sync.Map // quote.Key -> *quote.Quote
	inFlight sync.Map // quote.Key -> struct{}
	size     atomic.Int64
	flying   atomic.Int64

	saveMu   sync.Mutex
	lastSave time.Time
	saveReq  chan struct{}
	dirty    atomic.Bool
	writeMu  sync.Mutex
}

// New creates a price cache. bus and catalog are optional: without a catalog
// every item is tradable.
func New(cfg Config, sched Enqueuer, st store.Store, bus Publisher, catalog ItemCatalog) (*PriceCache, error) {
	if sched == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.MaxAge < 0 {
		return nil, fmt.Errorf("max age must be >= 0 (got %s)", cfg.MaxAge)
	}
	if cfg.AutomaticSaveTime < 0 {
		return nil, fmt.Errorf("automatic save time must be >= 0 (got %s)", cfg.AutomaticSaveTime)
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = 30 * time.Second
	}
	cfg.Worlds = append([]uint32(nil), cfg.Worlds...)

	return &PriceCache{
		config:  cfg,
		sched:   sched,
		store:   st,
		bus:     bus,
		catalog: catalog,
		logger:  logging.NewLogger("price-cache"),
		now:     time.Now,
		saveReq: make(chan struct{}, 1),
	}, nil
}

// GetPricing returns the cached quote for (itemID, worldID) or queues a fetch.
//
// ignoreCache skips the cache lookup. forceCheck skips the cache lookup and
// queues a fetch even if one is in flight or AutoRequest is disabled.
func (c *PriceCache) GetPricing(itemID, worldID uint32, ignoreCache, forceCheck bool) (Result, *quote.Quote) {
	result, q := c.getPricing(itemID, worldID, ignoreCache, forceCheck)
	PricingResults.WithLabelValues(result.String()).Inc()
	return result, q
}

func (c *PriceCache) getPricing(itemID, worldID uint32, ignoreCache, forceCheck bool) (Result, *quote.Quote) {
	if c.catalog != nil && !c.catalog.IsTradable(itemID) {
		return ResultUntradable, nil
	}

	key := quote.NewKey(itemID, worldID)

	if !ignoreCache && !forceCheck {
		if q, ok := c.load(key); ok {
			if q.IsStale(c.config.MaxAge, c.now()) {
				CacheHits.WithLabelValues("stale").Inc()
				if c.config.AutoRequest {
					c.request(key, false)
				}
			} else {
				CacheHits.WithLabelValues("fresh").Inc()
			}
			return ResultSuccessful, q
		}
		CacheMisses.Inc()
	}

	if !c.config.AutoRequest && !forceCheck {
		return ResultNoPricing, nil
	}

	if !c.request(key, forceCheck) {
		return ResultAlreadyQueued, nil
	}
	return ResultQueued, nil
}

// RequestCheck asks for a fresh quote and reports whether the request was
// accepted (true) or suppressed because the key is already in flight (false).
// A fresh cached quote with listings is accepted without a fetch unless
// forceCheck is set.
func (c *PriceCache) RequestCheck(itemID, worldID uint32, forceCheck bool) bool {
	key := quote.NewKey(itemID, worldID)

	if !forceCheck && c.isInFlight(key) {
		RequestChecks.WithLabelValues("suppressed").Inc()
		return false
	}

	if !forceCheck {
		if q, ok := c.load(key); ok && len(q.Listings) > 0 && !q.IsStale(c.config.MaxAge, c.now()) {
			RequestChecks.WithLabelValues("cached").Inc()
			return true
		}
	}

	if !c.request(key, forceCheck) {
		RequestChecks.WithLabelValues("suppressed").Inc()
		return false
	}
	RequestChecks.WithLabelValues("issued").Inc()
	return true
}

// RequestChecks calls RequestCheck for every item on every world.
func (c *PriceCache) RequestChecks(itemIDs, worldIDs []uint32, forceCheck bool) {
	for _, itemID := range itemIDs {
		for _, worldID := range worldIDs {
			c.RequestCheck(itemID, worldID, forceCheck)
		}
	}
}

// RequestCheckItems calls RequestCheck for every item on one world.
func (c *PriceCache) RequestCheckItems(itemIDs []uint32, worldID uint32, forceCheck bool) {
	for _, itemID := range itemIDs {
		c.RequestCheck(itemID, worldID, forceCheck)
	}
}

// RequestCheckWorlds calls RequestCheck for one item on every world.
func (c *PriceCache) RequestCheckWorlds(itemID uint32, worldIDs []uint32, forceCheck bool) {
	for _, worldID := range worldIDs {
		c.RequestCheck(itemID, worldID, forceCheck)
	}
}

// request marks key in flight and enqueues it. Without force an existing
// marker suppresses the request and false is returned.
func (c *PriceCache) request(key quote.Key, force bool) bool {
	if _, loaded := c.inFlight.LoadOrStore(key, struct{}{}); loaded {
		if !force {
			return false
		}
	} else {
		c.flying.Add(1)
		InFlight.Inc()
	}

	logger := logging.WithKey(c.logger, key.ItemID, key.WorldID)
	logger.Debug().Bool("force", force).Msg("Queueing price check")

	c.sched.Enqueue(key.WorldID, key.ItemID)
	return true
}

// Update stores a fetched quote, clears the key's in-flight marker, publishes
// the update and requests a throttled save.
func (c *PriceCache) Update(itemID, worldID uint32, q *quote.Quote) {
	if q == nil {
		c.Release(worldID, []uint32{itemID})
		return
	}

	key := quote.NewKey(itemID, worldID)
	if _, loaded := c.quotes.Swap(key, q); !loaded {
		c.size.Add(1)
		Quotes.Inc()
	}
	c.clearInFlight(key)
	c.dirty.Store(true)

	if c.bus != nil {
		c.bus.Publish(events.QuoteUpdated{ItemID: itemID, WorldID: worldID})
	}
	c.SaveCache(false)
}

// Release clears the in-flight markers of keys that ended without a quote.
func (c *PriceCache) Release(worldID uint32, itemIDs []uint32) {
	for _, itemID := range itemIDs {
		c.clearInFlight(quote.NewKey(itemID, worldID))
	}
}

func (c *PriceCache) clearInFlight(key quote.Key) {
	if _, loaded := c.inFlight.LoadAndDelete(key); loaded {
		c.flying.Add(-1)
		InFlight.Dec()
	}
}

func (c *PriceCache) isInFlight(key quote.Key) bool {
	_, ok := c.inFlight.Load(key)
	return ok
}

func (c *PriceCache) load(key quote.Key) (*quote.Quote, bool) {
	v, ok := c.quotes.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*quote.Quote), true
}

// Pricing returns the cached quote without requesting anything.
func (c *PriceCache) Pricing(itemID, worldID uint32) (*quote.Quote, bool) {
	return c.load(quote.NewKey(itemID, worldID))
}

// PricingForWorlds returns the cached quotes of one item on the given worlds.
// Worlds without a quote are skipped.
func (c *PriceCache) PricingForWorlds(itemID uint32, worldIDs []uint32) []*quote.Quote {
	out := make([]*quote.Quote, 0, len(worldIDs))
	for _, worldID := range worldIDs {
		if q, ok := c.load(quote.NewKey(itemID, worldID)); ok {
			out = append(out, q)
		}
	}
	return out
}

// PricingAllWorlds returns the cached quotes of one item on every configured
// world. It never requests a fetch.
func (c *PriceCache) PricingAllWorlds(itemID uint32) []*quote.Quote {
	return c.PricingForWorlds(itemID, c.config.Worlds)
}

// Worlds returns the configured world set.
func (c *PriceCache) Worlds() []uint32 {
	return append([]uint32(nil), c.config.Worlds...)
}

// LastUpdateTime returns when the cached quote was received.
func (c *PriceCache) LastUpdateTime(itemID, worldID uint32) (time.Time, bool) {
	q, ok := c.load(quote.NewKey(itemID, worldID))
	if !ok {
		return time.Time{}, false
	}
	return q.LastUpdate, true
}

// NeedsUpdate reports whether the key has no quote or a stale one.
func (c *PriceCache) NeedsUpdate(itemID, worldID uint32) bool {
	q, ok := c.load(quote.NewKey(itemID, worldID))
	return !ok || q.IsStale(c.config.MaxAge, c.now())
}

// InFlight reports whether a fetch for the key is in flight.
func (c *PriceCache) InFlight(itemID, worldID uint32) bool {
	return c.isInFlight(quote.NewKey(itemID, worldID))
}

// InFlightCount returns the number of keys in flight.
func (c *PriceCache) InFlightCount() int {
	return int(c.flying.Load())
}

// Snapshot returns every cached quote.
func (c *PriceCache) Snapshot() []*quote.Quote {
	out := make([]*quote.Quote, 0, c.Len())
	c.quotes.Range(func(_, v any) bool {
		out = append(out, v.(*quote.Quote))
		return true
	})
	return out
}

// Len returns the number of cached quotes.
func (c *PriceCache) Len() int {
	return int(c.size.Load())
}

// Clear drops every cached quote from memory and from the store.
func (c *PriceCache) Clear(ctx context.Context) error {
	c.quotes.Range(func(k, _ any) bool {
		if _, loaded := c.quotes.LoadAndDelete(k); loaded {
			c.size.Add(-1)
			Quotes.Dec()
		}
		return true
	})
	c.dirty.Store(false)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	c.logger.Info().Msg("Price cache cleared")
	return nil
}

// Remove drops one quote from memory and from the store. Removing a key that
// is not cached is not an error.
func (c *PriceCache) Remove(ctx context.Context, itemID, worldID uint32) error {
	key := quote.NewKey(itemID, worldID)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, loaded := c.quotes.LoadAndDelete(key); loaded {
		c.size.Add(-1)
		Quotes.Dec()
	}
	if err := c.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}

	logger := logging.WithKey(c.logger, itemID, worldID)
	logger.Debug().Msg("Quote removed")
	return nil
}

// Load fills the cache from the store. It must run before fetches start.
func (c *PriceCache) Load(ctx context.Context) error {
	start := time.Now()
	quotes, err := c.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load quotes: %w", err)
	}

	for _, q := range quotes {
		if _, loaded := c.quotes.Swap(q.Key(), q); !loaded {
			c.size.Add(1)
			Quotes.Inc()
		}
	}

	c.logger.Info().
		Int("quotes", len(quotes)).
		Dur("duration", time.Since(start)).
		Msg("Price cache loaded")
	return nil
}
