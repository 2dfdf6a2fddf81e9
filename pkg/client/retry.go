package client

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "universalis_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "universalis_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "universalis_retry_exhausted_total",
		Help: "Total number of batches dropped after exhausting retries by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the batch retry policy.
type RetryConfig struct {
	// MaxRetries is the attempt number at which a batch is dropped.
	MaxRetries uint

	// RateLimitBackoff is the wait after a 429 before re-dispatching.
	RateLimitBackoff time.Duration

	// TimeoutBackoff is the wait after a gateway timeout or transport error.
	TimeoutBackoff time.Duration

	// ParseBackoff is the pause a worker takes after a parse failure.
	ParseBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:       3,
		RateLimitBackoff: 60 * time.Second,
		TimeoutBackoff:   30 * time.Second,
		ParseBackoff:     30 * time.Second,
	}
}

// Validate checks the retry configuration.
func (c RetryConfig) Validate() error {
	if c.MaxRetries == 0 {
		return fmt.Errorf("max_retries must be >= 1")
	}
	if c.RateLimitBackoff < 0 || c.TimeoutBackoff < 0 || c.ParseBackoff < 0 {
		return fmt.Errorf("backoff durations must be >= 0")
	}
	return nil
}

// BackoffFor returns the fixed backoff for a failure class and whether the
// batch should be re-dispatched after waiting it.
func (c RetryConfig) BackoffFor(errorClass ErrorClass) (time.Duration, bool) {
	switch errorClass {
	case ErrorClassRateLimit:
		return c.RateLimitBackoff, true
	case ErrorClassGatewayTimeout, ErrorClassServer, ErrorClassNetwork:
		return c.TimeoutBackoff, shouldRetry(errorClass)
	case ErrorClassParse:
		return c.ParseBackoff, false
	default:
		return 0, false
	}
}

// ObserveRetry records a retry attempt and its backoff.
func ObserveRetry(errorClass ErrorClass, backoff time.Duration) {
	retriesTotal.WithLabelValues(string(errorClass)).Inc()
	retryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(backoff.Seconds())
}

// ObserveExhausted records a batch dropped after its last allowed attempt.
func ObserveExhausted(errorClass ErrorClass) {
	retryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
}

// Wait sleeps for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	case <-timer.C:
		return nil
	}
}
