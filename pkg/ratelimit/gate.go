package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Defaults for the pricing API.
const (
	// DefaultConcurrency matches the practical concurrency ceiling of the API.
	DefaultConcurrency = 50

	// DefaultSpacing is how long a released slot stays unavailable.
	DefaultSpacing = 1 * time.Second
)

var (
	gateInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "universalis_gate_slots_in_use",
		Help: "Gate slots currently held or cooling down",
	})

	gateWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "universalis_gate_wait_seconds",
		Help:    "Time spent waiting for a gate slot",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
	})
)

// GateConfig holds the gate configuration.
type GateConfig struct {
	// Concurrency is the number of slots.
	Concurrency int

	// Spacing delays the return of a released slot.
	Spacing time.Duration

	// RequestsPerSecond optionally paces acquisitions. 0 disables pacing.
	RequestsPerSecond float64
}

// DefaultGateConfig returns the gate defaults.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Concurrency: DefaultConcurrency,
		Spacing:     DefaultSpacing,
	}
}

// Gate bounds concurrent outbound calls. A slot released via Release becomes
// available again only after the configured spacing.
type Gate struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	spacing time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	closed  bool
	pending sync.WaitGroup
}

// NewGate creates a gate.
func NewGate(cfg GateConfig, logger zerolog.Logger) (*Gate, error) {
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("gate concurrency must be > 0 (got %d)", cfg.Concurrency)
	}
	if cfg.Spacing < 0 {
		return nil, fmt.Errorf("gate spacing must be >= 0 (got %s)", cfg.Spacing)
	}

	g := &Gate{
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		spacing: cfg.Spacing,
		logger:  logger,
		timers:  make(map[*time.Timer]struct{}),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return g, nil
}

// Acquire blocks until a slot is available or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	start := time.Now()
	defer func() {
		gateWaitSeconds.Observe(time.Since(start).Seconds())
	}()

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire gate slot: %w", err)
	}
	gateInUse.Inc()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			g.releaseNow()
			return fmt.Errorf("wait for request pacing: %w", err)
		}
	}
	return nil
}

// Release returns a slot after the spacing interval.
func (g *Gate) Release() {
	if g.spacing <= 0 {
		g.releaseNow()
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		g.releaseNow()
		return
	}

	g.pending.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(g.spacing, func() {
		g.mu.Lock()
		delete(g.timers, timer)
		g.mu.Unlock()
		g.releaseNow()
		g.pending.Done()
	})
	g.timers[timer] = struct{}{}
}

// Close returns all cooling-down slots immediately.
func (g *Gate) Close() {
	g.mu.Lock()
	g.closed = true
	var stopped int
	for timer := range g.timers {
		if timer.Stop() {
			delete(g.timers, timer)
			stopped++
		}
	}
	g.mu.Unlock()

	for i := 0; i < stopped; i++ {
		g.releaseNow()
		g.pending.Done()
	}
	g.pending.Wait()

	g.logger.Debug().Int("released", stopped).Msg("Gate closed")
}

func (g *Gate) releaseNow() {
	gateInUse.Dec()
	g.sem.Release(1)
}
