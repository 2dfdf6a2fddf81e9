// Package ratelimit implements admission control for calls to the pricing API
// and tracks the process-wide API health flags used by the fetch pipeline.
package ratelimit

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	apiTooManyRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "universalis_too_many_requests",
		Help: "1 while the pricing API is answering 429 Too Many Requests",
	})

	apiFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "universalis_failures_total",
		Help: "Total number of recorded gateway timeout and parse failures",
	})
)

// State tracks the pricing API health as observed by this process.
// It is shared by all fetch workers.
type State struct {
	tooManyRequests atomic.Bool
	lastFailure     atomic.Int64 // unix nanoseconds, 0 = never
}

// Status is a point-in-time copy of State.
type Status struct {
	// TooManyRequests is true after a 429 until the next non-429 response.
	TooManyRequests bool `json:"too_many_requests"`

	// LastFailure is the time of the most recent gateway timeout or parse failure.
	LastFailure *time.Time `json:"last_failure,omitempty"`
}

// NewState creates a healthy state.
func NewState() *State {
	return &State{}
}

// SetTooManyRequests sets or clears the rate limited flag.
func (s *State) SetTooManyRequests(v bool) {
	s.tooManyRequests.Store(v)
	if v {
		apiTooManyRequests.Set(1)
	} else {
		apiTooManyRequests.Set(0)
	}
}

// TooManyRequests reports whether the API is currently rate limiting us.
func (s *State) TooManyRequests() bool {
	return s.tooManyRequests.Load()
}

// MarkFailure records a failure at t.
func (s *State) MarkFailure(t time.Time) {
	s.lastFailure.Store(t.UnixNano())
	apiFailuresTotal.Inc()
}

// LastFailure returns the last recorded failure, if any.
func (s *State) LastFailure() (time.Time, bool) {
	ns := s.lastFailure.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// Status returns a snapshot of the state.
func (s *State) Status() Status {
	st := Status{TooManyRequests: s.TooManyRequests()}
	if t, ok := s.LastFailure(); ok {
		st.LastFailure = &t
	}
	return st
}
