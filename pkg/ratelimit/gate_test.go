package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewGate_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      GateConfig
		expectError bool
	}{
		{name: "defaults", config: DefaultGateConfig()},
		{name: "zero concurrency", config: GateConfig{Concurrency: 0, Spacing: time.Second}, expectError: true},
		{name: "negative spacing", config: GateConfig{Concurrency: 1, Spacing: -time.Second}, expectError: true},
		{name: "with pacing", config: GateConfig{Concurrency: 2, RequestsPerSecond: 25}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate, err := NewGate(tt.config, zerolog.Nop())
			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if gate == nil {
				t.Error("Gate is nil")
			}
		})
	}
}

func TestDefaultGateConfig(t *testing.T) {
	cfg := DefaultGateConfig()
	if cfg.Concurrency != 50 {
		t.Errorf("Concurrency = %d, want 50", cfg.Concurrency)
	}
	if cfg.Spacing != time.Second {
		t.Errorf("Spacing = %v, want 1s", cfg.Spacing)
	}
}

func TestGate_BoundsConcurrency(t *testing.T) {
	gate, err := NewGate(GateConfig{Concurrency: 3}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}

	var (
		current atomic.Int32
		peak    atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := gate.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			gate.Release()
		}()
	}
	wg.Wait()

	if peak.Load() > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak.Load())
	}
}

func TestGate_ReleaseSpacing(t *testing.T) {
	spacing := 100 * time.Millisecond
	gate, err := NewGate(GateConfig{Concurrency: 1, Spacing: spacing}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}
	ctx := context.Background()

	if err := gate.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	released := time.Now()
	gate.Release()

	if err := gate.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if waited := time.Since(released); waited < spacing-10*time.Millisecond {
		t.Errorf("slot reused after %v, want >= %v", waited, spacing)
	}
	gate.Release()
	gate.Close()
}

func TestGate_AcquireRespectsContext(t *testing.T) {
	gate, err := NewGate(GateConfig{Concurrency: 1, Spacing: time.Hour}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGate failed: %v", err)
	}

	if err := gate.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	gate.Release() // slot now cools down for an hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = gate.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire error = %v, want context.DeadlineExceeded", err)
	}

	gate.Close()
	if err := gate.Acquire(context.Background()); err != nil {
		t.Errorf("Acquire after Close failed: %v", err)
	}
}
