package cache

import (
	"context"
	"fmt"
	"time"
)

// SaveCache requests an asynchronous save and reports whether it was
// accepted. Unforced requests within AutomaticSaveTime of the previous
// accepted request are dropped.
func (c *PriceCache) SaveCache(force bool) bool {
	now := c.now()

	c.saveMu.Lock()
	if !force && !c.lastSave.IsZero() && now.Sub(c.lastSave) < c.config.AutomaticSaveTime {
		c.saveMu.Unlock()
		return false
	}
	c.lastSave = now
	c.saveMu.Unlock()

	select {
	case c.saveReq <- struct{}{}:
	default:
		// a save is already queued and will pick up this state
	}
	return true
}

// Run performs queued saves and periodically saves unsaved updates until ctx
// is done.
func (c *PriceCache) Run(ctx context.Context) {
	interval := c.config.AutomaticSaveTime
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.saveReq:
			if err := c.save(ctx); err != nil {
				c.logger.Error().Err(err).Msg("Failed to save price cache")
			}
		case <-ticker.C:
			if c.dirty.Load() {
				c.SaveCache(false)
			}
		}
	}
}

// Close writes the cache to the store one last time.
func (c *PriceCache) Close(ctx context.Context) error {
	if err := c.save(ctx); err != nil {
		return fmt.Errorf("final save: %w", err)
	}
	return nil
}

func (c *PriceCache) save(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.dirty.Store(false)
	quotes := c.Snapshot()

	saveCtx, cancel := context.WithTimeout(ctx, c.config.SaveTimeout)
	defer cancel()

	start := time.Now()
	err := c.store.SaveAll(saveCtx, quotes)
	SaveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.dirty.Store(true)
		Saves.WithLabelValues("error").Inc()
		return fmt.Errorf("save %d quotes: %w", len(quotes), err)
	}

	Saves.WithLabelValues("ok").Inc()
	c.logger.Debug().
		Int("quotes", len(quotes)).
		Dur("duration", time.Since(start)).
		Msg("Price cache saved")
	return nil
}
