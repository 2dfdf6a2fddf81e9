// Package metrics exposes the Prometheus registry shared by the price cache
// packages. Metrics are defined in their owning packages (client, ratelimit,
// fetch, batch, cache, store, events) via promauto and land in the default
// registry. This package serves them and documents the catalogue.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every package registers its metrics with.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the registered metrics.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Upstream Metrics (pkg/client, pkg/ratelimit):
//   - universalis_requests_total{status} (Counter): API calls by HTTP status
//   - universalis_errors_total{class} (Counter): Failed calls by error class
//   - universalis_batch_items (Histogram): Item ids per API call
//   - universalis_retries_total{error_class} (Counter): Retried batches
//   - universalis_retry_exhausted_total{error_class} (Counter): Batches dropped after MaxRetries
//   - universalis_too_many_requests (Gauge): 1 while the API is answering 429
//   - universalis_gate_slots_in_use (Gauge): Outbound calls holding a gate slot
//
// Pipeline Metrics (pkg/batch, pkg/fetch):
//   - price_cache_batch_pending_items (Gauge): Ids waiting in open batches
//   - price_cache_batch_flushes_total{trigger} (Counter): Flushes by size, window or shutdown
//   - price_cache_fetch_queued_items (Gauge): Ids submitted and not yet finished
//   - price_cache_fetch_jobs_total{outcome} (Counter): Finished jobs by outcome
//
// Cache Metrics (pkg/cache, pkg/store, pkg/events):
//   - price_cache_pricing_results_total{result} (Counter): GetPricing results
//   - price_cache_hits_total{state} (Counter): Fresh and stale hits
//   - price_cache_in_flight (Gauge): Keys with a fetch in flight
//   - price_cache_saves_total{result} (Counter): Store writes
//   - price_cache_store_errors_total{backend, operation} (Counter): Store failures
//
// Example Prometheus Queries:
//
//	# Hit rate
//	sum(rate(price_cache_hits_total[5m])) /
//	(sum(rate(price_cache_hits_total[5m])) + rate(price_cache_misses_total[5m]))
//
//	# Upstream throttling
//	universalis_too_many_requests == 1
//
//	# Dropped batches
//	rate(price_cache_fetch_jobs_total{outcome!="success"}[5m])
//
//	# P95 API latency
//	histogram_quantile(0.95, rate(universalis_request_duration_seconds_bucket[5m]))
