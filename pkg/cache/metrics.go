package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PricingResults tracks GetPricing outcomes by result
	PricingResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_cache_pricing_results_total",
			Help: "Total number of GetPricing calls by result",
		},
		[]string{"result"},
	)

	// CacheHits tracks cache hits by freshness
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_cache_hits_total",
			Help: "Total number of price cache hits",
		},
		[]string{"state"}, // "fresh", "stale"
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "price_cache_misses_total",
			Help: "Total number of price cache misses",
		},
	)

	// RequestChecks tracks RequestCheck outcomes
	RequestChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_cache_request_checks_total",
			Help: "Total number of RequestCheck calls by outcome",
		},
		[]string{"outcome"}, // "issued", "cached", "suppressed"
	)

	// InFlight tracks keys dispatched but not yet resolved
	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "price_cache_in_flight",
			Help: "Number of (item, world) keys with a fetch in flight",
		},
	)

	// Quotes tracks the number of cached quotes
	Quotes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "price_cache_quotes",
			Help: "Number of cached quotes",
		},
	)

	// Saves tracks persistence writes
	Saves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_cache_saves_total",
			Help: "Total number of cache saves by result",
		},
		[]string{"result"}, // "ok", "error"
	)

	// SaveDuration tracks persistence write duration
	SaveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "price_cache_save_duration_seconds",
			Help:    "Duration of cache saves in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)
)
