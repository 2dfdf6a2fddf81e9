package batch

import (
	"context"
	"sync"
	"testing"
	"time"
)

type submittedJob struct {
	worldID uint32
	itemIDs []uint32
}

type recordingSubmitter struct {
	mu   sync.Mutex
	jobs []submittedJob
}

func (r *recordingSubmitter) Submit(worldID uint32, itemIDs []uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, submittedJob{worldID: worldID, itemIDs: append([]uint32(nil), itemIDs...)})
}

func (r *recordingSubmitter) snapshot() []submittedJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]submittedJob(nil), r.jobs...)
}

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *recordingSubmitter, *time.Time) {
	t.Helper()
	sub := &recordingSubmitter{}
	s, err := New(cfg, sub)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, sub, &now
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		submitter Submitter
	}{
		{"nil submitter", DefaultConfig(), nil},
		{"zero window", Config{QueueWindow: 0, MaxBatchSize: 50}, &recordingSubmitter{}},
		{"zero batch size", Config{QueueWindow: time.Second, MaxBatchSize: 0}, &recordingSubmitter{}},
		{"batch size above request limit", Config{QueueWindow: time.Second, MaxBatchSize: 51}, &recordingSubmitter{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.config, tt.submitter); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.QueueWindow != 5*time.Second {
		t.Errorf("QueueWindow = %v, want 5s", cfg.QueueWindow)
	}
	if cfg.MaxBatchSize != 50 {
		t.Errorf("MaxBatchSize = %d, want 50", cfg.MaxBatchSize)
	}
}

func TestEnqueue_FullBatchFlushesImmediately(t *testing.T) {
	s, sub, _ := newTestScheduler(t, DefaultConfig())

	for id := uint32(1); id <= 50; id++ {
		s.Enqueue(21, id)
	}

	jobs := sub.snapshot()
	if len(jobs) != 1 {
		t.Fatalf("Expected 1 flush, got %d", len(jobs))
	}
	if jobs[0].worldID != 21 || len(jobs[0].itemIDs) != 50 {
		t.Errorf("Unexpected job: world=%d items=%d", jobs[0].worldID, len(jobs[0].itemIDs))
	}
	if s.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", s.Pending())
	}
}

func TestEnqueue_PartialBatchWaitsForWindow(t *testing.T) {
	s, sub, now := newTestScheduler(t, DefaultConfig())
	start := *now

	for id := uint32(1); id <= 49; id++ {
		s.Enqueue(21, id)
	}
	if got := len(sub.snapshot()); got != 0 {
		t.Fatalf("Expected no flush before the window, got %d", got)
	}
	if s.Pending() != 49 {
		t.Errorf("Pending() = %d, want 49", s.Pending())
	}

	if n := s.Tick(start.Add(4999 * time.Millisecond)); n != 0 {
		t.Errorf("Tick before expiry flushed %d batches", n)
	}
	if n := s.Tick(start.Add(5 * time.Second)); n != 1 {
		t.Errorf("Tick at expiry flushed %d batches, want 1", n)
	}

	jobs := sub.snapshot()
	if len(jobs) != 1 || len(jobs[0].itemIDs) != 49 {
		t.Fatalf("Unexpected jobs: %+v", jobs)
	}
	if n := s.Tick(start.Add(10 * time.Second)); n != 0 {
		t.Errorf("Flushed batch was flushed again (%d)", n)
	}
}

func TestEnqueue_SameWindowCombined(t *testing.T) {
	s, sub, now := newTestScheduler(t, DefaultConfig())

	s.Enqueue(21, 5333)
	*now = now.Add(time.Second)
	s.Enqueue(21, 5334)
	s.Enqueue(21, 5333)
	s.Tick(now.Add(5 * time.Second))

	jobs := sub.snapshot()
	if len(jobs) != 1 {
		t.Fatalf("Expected 1 job, got %d", len(jobs))
	}
	ids := jobs[0].itemIDs
	if len(ids) != 2 || ids[0] != 5333 || ids[1] != 5334 {
		t.Errorf("itemIDs = %v, want [5333 5334]", ids)
	}
}

func TestEnqueue_WindowStartsAtFirstItem(t *testing.T) {
	s, sub, now := newTestScheduler(t, DefaultConfig())
	start := *now

	s.Enqueue(21, 1)
	*now = start.Add(4 * time.Second)
	s.Enqueue(21, 2)

	s.Tick(start.Add(5 * time.Second))
	if got := len(sub.snapshot()); got != 1 {
		t.Errorf("Expected flush at first item's expiry, got %d jobs", got)
	}
}

func TestEnqueue_SeparateWorlds(t *testing.T) {
	s, sub, now := newTestScheduler(t, DefaultConfig())

	s.Enqueue(21, 1)
	s.Enqueue(22, 1)
	s.Enqueue(22, 2)

	if s.Pending() != 3 {
		t.Errorf("Pending() = %d, want 3", s.Pending())
	}
	if n := s.Tick(now.Add(5 * time.Second)); n != 2 {
		t.Errorf("Tick flushed %d batches, want 2", n)
	}

	byWorld := make(map[uint32]int)
	for _, job := range sub.snapshot() {
		byWorld[job.worldID] += len(job.itemIDs)
	}
	if byWorld[21] != 1 || byWorld[22] != 2 {
		t.Errorf("Items per world = %v", byWorld)
	}
}

func TestEnqueue_NewBatchAfterFlush(t *testing.T) {
	s, sub, _ := newTestScheduler(t, Config{QueueWindow: 5 * time.Second, MaxBatchSize: 2})

	s.Enqueue(21, 1)
	s.Enqueue(21, 2)
	s.Enqueue(21, 1)

	jobs := sub.snapshot()
	if len(jobs) != 1 {
		t.Fatalf("Expected 1 flushed job, got %d", len(jobs))
	}
	if s.Pending() != 1 {
		t.Errorf("Expected re-enqueued item in a fresh batch, Pending() = %d", s.Pending())
	}
}

func TestFlushAll(t *testing.T) {
	s, sub, _ := newTestScheduler(t, DefaultConfig())

	s.Enqueue(21, 1)
	s.Enqueue(22, 2)

	if n := s.FlushAll(); n != 2 {
		t.Errorf("FlushAll() = %d, want 2", n)
	}
	if got := len(sub.snapshot()); got != 2 {
		t.Errorf("Expected 2 jobs, got %d", got)
	}
	if s.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", s.Pending())
	}
}

func TestConcurrentEnqueueAndTick(t *testing.T) {
	sub := &recordingSubmitter{}
	s, err := New(Config{QueueWindow: time.Millisecond, MaxBatchSize: 7}, sub)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	const producers = 20
	const perProducer = 100

	ctx, cancel := context.WithCancel(context.Background())
	tickerDone := make(chan struct{})
	go func() {
		defer close(tickerDone)
		for ctx.Err() == nil {
			s.Tick(time.Now())
		}
	}()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				s.Enqueue(uint32(p%3), uint32(p*perProducer+i))
			}
		}(p)
	}
	wg.Wait()
	cancel()
	<-tickerDone
	s.FlushAll()

	seen := make(map[uint32]int)
	for _, job := range sub.snapshot() {
		if len(job.itemIDs) > 7 {
			t.Errorf("Batch of %d exceeds max size", len(job.itemIDs))
		}
		for _, id := range job.itemIDs {
			seen[id]++
		}
	}
	if len(seen) != producers*perProducer {
		t.Errorf("Submitted %d distinct ids, want %d", len(seen), producers*perProducer)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("Item %d submitted %d times", id, n)
		}
	}
	if s.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", s.Pending())
	}
}

func TestRun(t *testing.T) {
	sub := &recordingSubmitter{}
	s, err := New(Config{QueueWindow: 20 * time.Millisecond, MaxBatchSize: 50}, sub)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	s.Enqueue(21, 5333)

	deadline := time.Now().Add(2 * time.Second)
	for len(sub.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(sub.snapshot()) != 1 {
		t.Fatalf("Expected Run to flush the batch")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Run did not return after cancel")
	}
}
