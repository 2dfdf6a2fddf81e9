package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/market-price-cache/pkg/client"
	"github.com/Sternrassler/market-price-cache/pkg/quote"
	"github.com/Sternrassler/market-price-cache/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	queuedItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "price_cache_fetch_queued_items",
		Help: "Item ids submitted to the fetch worker and not yet resolved",
	})

	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_cache_fetch_jobs_total",
		Help: "Fetch jobs by terminal outcome",
	}, []string{"outcome"})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "price_cache_fetch_job_duration_seconds",
		Help:    "Time from job start to terminal outcome, including backoff",
		Buckets: []float64{0.1, 0.5, 1, 5, 30, 60, 120, 300},
	})
)

// Job outcomes.
const (
	OutcomeSuccess      = "success"
	OutcomeCancelled    = "cancelled"
	OutcomeUnknownWorld = "unknown_world"
	OutcomeParseError   = "parse_error"
	OutcomeRejected     = "rejected"
	OutcomeExhausted    = "exhausted"
)

// ErrAlreadyStarted is returned by Start on a running worker.
var ErrAlreadyStarted = errors.New("fetch worker already started")

// BatchClient performs a single batch request.
type BatchClient interface {
	FetchBatch(ctx context.Context, worldName string, worldID uint32, itemIDs []uint32) (map[uint32]*quote.Quote, error)
}

// Sink receives the results of fetch jobs.
type Sink interface {
	// Update stores a fetched quote.
	Update(itemID, worldID uint32, q *quote.Quote)

	// Release hands back item ids that ended without a quote.
	Release(worldID uint32, itemIDs []uint32)
}

// Job is one world and the item ids to request for it.
type Job struct {
	WorldID uint32
	ItemIDs []uint32
}

// Config holds worker configuration.
type Config struct {
	// Workers is the number of goroutines draining the queue.
	Workers int

	// Retry is the retry policy applied per job.
	Retry client.RetryConfig
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() Config {
	return Config{
		Workers: 8,
		Retry:   client.DefaultRetryConfig(),
	}
}

// Worker executes fetch jobs in submission order.
type Worker struct {
	client BatchClient
	gate   *ratelimit.Gate
	state  *ratelimit.State
	worlds *WorldNames
	config Config
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	jobs    []Job
	stopped bool
	notify  chan struct{}
	queued  atomic.Int64

	runMu  sync.Mutex
	sink   Sink
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a worker. The worker does not run until Start.
func NewWorker(cfg Config, c BatchClient, gate *ratelimit.Gate, state *ratelimit.State, worlds WorldResolver) (*Worker, error) {
	if c == nil {
		return nil, fmt.Errorf("batch client is required")
	}
	if gate == nil {
		return nil, fmt.Errorf("gate is required")
	}
	if worlds == nil {
		return nil, fmt.Errorf("world resolver is required")
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workers must be > 0 (got %d)", cfg.Workers)
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}
	if state == nil {
		state = ratelimit.NewState()
	}

	names, ok := worlds.(*WorldNames)
	if !ok {
		names = NewWorldNames(worlds)
	}

	return &Worker{
		client: c,
		gate:   gate,
		state:  state,
		worlds: names,
		config: cfg,
		logger: log.With().Str("component", "fetch-worker").Logger(),
		now:    time.Now,
		notify: make(chan struct{}, 1),
	}, nil
}

// State returns the shared API health state.
func (w *Worker) State() *ratelimit.State {
	return w.state
}

// Submit appends a job to the queue. It never blocks on I/O.
// After Stop the job is released to the sink right away.
func (w *Worker) Submit(worldID uint32, itemIDs []uint32) {
	if len(itemIDs) == 0 {
		return
	}

	job := Job{WorldID: worldID, ItemIDs: append([]uint32(nil), itemIDs...)}
	w.queued.Add(int64(len(job.ItemIDs)))
	queuedItems.Add(float64(len(job.ItemIDs)))

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		w.runMu.Lock()
		sink := w.sink
		w.runMu.Unlock()
		w.finish(sink, job, job.ItemIDs, OutcomeCancelled, time.Now())
		return
	}
	w.jobs = append(w.jobs, job)
	w.mu.Unlock()

	w.signal()
}

// QueuedCount returns the number of submitted item ids not yet resolved.
func (w *Worker) QueuedCount() int64 {
	return w.queued.Load()
}

// Start launches the worker goroutines. Results go to sink.
func (w *Worker) Start(ctx context.Context, sink Sink) error {
	if sink == nil {
		return fmt.Errorf("sink is required")
	}

	w.runMu.Lock()
	defer w.runMu.Unlock()
	if w.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	w.sink = sink
	w.cancel = cancel

	for i := 0; i < w.config.Workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}

	w.logger.Info().Int("workers", w.config.Workers).Msg("Fetch worker started")
	return nil
}

// Stop cancels running jobs, waits for the goroutines and releases every
// job still queued.
func (w *Worker) Stop() {
	w.runMu.Lock()
	cancel := w.cancel
	sink := w.sink
	w.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	w.wg.Wait()

	w.mu.Lock()
	w.stopped = true
	remaining := w.jobs
	w.jobs = nil
	w.mu.Unlock()

	for _, job := range remaining {
		w.finish(sink, job, job.ItemIDs, OutcomeCancelled, time.Now())
	}

	w.logger.Info().Int("dropped_jobs", len(remaining)).Msg("Fetch worker stopped")
}

func (w *Worker) signal() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// next blocks until a job is available or ctx is done.
func (w *Worker) next(ctx context.Context) (Job, bool) {
	for {
		w.mu.Lock()
		if len(w.jobs) > 0 {
			job := w.jobs[0]
			w.jobs[0] = Job{}
			w.jobs = w.jobs[1:]
			more := len(w.jobs) > 0
			w.mu.Unlock()
			if more {
				w.signal()
			}
			return job, true
		}
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return Job{}, false
		case <-w.notify:
		}
	}
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	jobsProcessed := 0

	for {
		job, ok := w.next(ctx)
		if !ok {
			w.logger.Debug().
				Int("worker_id", workerID).
				Int("jobs_processed", jobsProcessed).
				Msg("Worker stopping (context cancelled)")
			return
		}

		pause := w.process(ctx, job)
		jobsProcessed++

		if pause > 0 {
			if err := client.Wait(ctx, pause); err != nil {
				return
			}
		}
	}
}

// process runs the retry loop for one job and returns how long the worker
// should pause before taking the next one.
func (w *Worker) process(ctx context.Context, job Job) time.Duration {
	start := time.Now()
	unresolved := make(map[uint32]struct{}, len(job.ItemIDs))
	for _, id := range job.ItemIDs {
		unresolved[id] = struct{}{}
	}

	outcome := OutcomeCancelled
	defer func() {
		w.finish(w.sink, job, remainingIDs(job.ItemIDs, unresolved), outcome, start)
	}()

	if ctx.Err() != nil {
		return 0
	}

	worldName, ok := w.worlds.WorldName(job.WorldID)
	if !ok {
		outcome = OutcomeUnknownWorld
		w.logger.Warn().
			Uint32("world_id", job.WorldID).
			Int("batch_size", len(job.ItemIDs)).
			Msg("Unknown world, dropping batch")
		return 0
	}

	retry := w.config.Retry
	for attempt := uint(0); attempt < retry.MaxRetries; attempt++ {
		quotes, err := w.dispatch(ctx, worldName, job)
		if err == nil {
			w.state.SetTooManyRequests(false)
			for id, q := range quotes {
				if _, ok := unresolved[id]; !ok {
					continue
				}
				w.sink.Update(id, job.WorldID, q)
				delete(unresolved, id)
			}
			outcome = OutcomeSuccess
			w.logger.Debug().
				Uint32("world_id", job.WorldID).
				Int("batch_size", len(job.ItemIDs)).
				Int("missing", len(unresolved)).
				Uint("attempt", attempt).
				Msg("Batch fetched")
			return 0
		}

		errorClass := client.Classify(err)
		switch errorClass {
		case client.ErrorClassCancelled:
			return 0
		case client.ErrorClassRateLimit:
			w.state.SetTooManyRequests(true)
		case client.ErrorClassGatewayTimeout, client.ErrorClassParse:
			w.state.SetTooManyRequests(false)
			w.state.MarkFailure(w.now())
		case client.ErrorClassServer, client.ErrorClassClient:
			w.state.SetTooManyRequests(false)
		}

		backoff, again := retry.BackoffFor(errorClass)
		if !again {
			if errorClass == client.ErrorClassParse {
				outcome = OutcomeParseError
				w.logger.Warn().
					Err(err).
					Uint32("world_id", job.WorldID).
					Int("batch_size", len(job.ItemIDs)).
					Dur("pause", backoff).
					Msg("Unparseable response, dropping batch")
				return backoff
			}
			outcome = OutcomeRejected
			w.logger.Warn().
				Err(err).
				Uint32("world_id", job.WorldID).
				Int("batch_size", len(job.ItemIDs)).
				Str("error_class", string(errorClass)).
				Msg("Request rejected, dropping batch")
			return 0
		}

		if attempt+1 >= retry.MaxRetries {
			outcome = OutcomeExhausted
			client.ObserveExhausted(errorClass)
			w.logger.Error().
				Err(fmt.Errorf("%w: %v", client.ErrRetryExhausted, err)).
				Uint32("world_id", job.WorldID).
				Int("batch_size", len(job.ItemIDs)).
				Uint("attempt", attempt+1).
				Str("error_class", string(errorClass)).
				Msg("Max retries exceeded, dropping batch")
			return 0
		}

		client.ObserveRetry(errorClass, backoff)
		w.logger.Warn().
			Err(err).
			Uint32("world_id", job.WorldID).
			Int("batch_size", len(job.ItemIDs)).
			Uint("attempt", attempt+1).
			Str("error_class", string(errorClass)).
			Dur("backoff", backoff).
			Msg("Retrying batch after backoff")

		if err := client.Wait(ctx, backoff); err != nil {
			return 0
		}
	}

	return 0
}

// dispatch performs one attempt through the gate.
func (w *Worker) dispatch(ctx context.Context, worldName string, job Job) (map[uint32]*quote.Quote, error) {
	if err := w.gate.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", client.ErrCancelled, err)
	}
	defer w.gate.Release()

	return w.client.FetchBatch(ctx, worldName, job.WorldID, job.ItemIDs)
}

// finish releases the unresolved ids and settles the queued counter for job.
func (w *Worker) finish(sink Sink, job Job, unresolved []uint32, outcome string, start time.Time) {
	if len(unresolved) > 0 && sink != nil {
		sink.Release(job.WorldID, unresolved)
	}

	w.queued.Add(-int64(len(job.ItemIDs)))
	queuedItems.Sub(float64(len(job.ItemIDs)))
	jobsTotal.WithLabelValues(outcome).Inc()
	jobDuration.Observe(time.Since(start).Seconds())
}

// remainingIDs returns the ids of itemIDs still present in unresolved, in order.
func remainingIDs(itemIDs []uint32, unresolved map[uint32]struct{}) []uint32 {
	if len(unresolved) == 0 {
		return nil
	}
	out := make([]uint32, 0, len(unresolved))
	for _, id := range itemIDs {
		if _, ok := unresolved[id]; ok {
			out = append(out, id)
			delete(unresolved, id)
		}
	}
	return out
}
