package cache

import (
	"context"
	"testing"
	"time"

	"github.com/Sternrassler/market-price-cache/pkg/quote"
)

func TestSaveCache_Throttle(t *testing.T) {
	tc := newTestCache(t, DefaultConfig())

	if !tc.SaveCache(false) {
		t.Error("First save should be accepted")
	}
	tc.advance(60 * time.Second)
	if tc.SaveCache(false) {
		t.Error("Save within AutomaticSaveTime should be dropped")
	}
	if !tc.SaveCache(true) {
		t.Error("Forced save should be accepted")
	}
	tc.advance(119 * time.Second)
	if tc.SaveCache(false) {
		t.Error("Forced save should restart the interval")
	}
	tc.advance(2 * time.Second)
	if !tc.SaveCache(false) {
		t.Error("Save after AutomaticSaveTime should be accepted")
	}
}

func TestRun_SavesUpdates(t *testing.T) {
	tc := newTestCache(t, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		tc.Run(ctx)
		close(done)
	}()

	tc.Update(5333, 21, testQuote(5333, 21, *tc.now, 1))

	deadline := time.Now().Add(2 * time.Second)
	for tc.store.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if tc.store.Len() != 1 {
		t.Fatalf("store holds %d quotes, want 1", tc.store.Len())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Run did not return after cancel")
	}
}

func TestRun_PeriodicSaveOfDirtyState(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutomaticSaveTime = 20 * time.Millisecond
	tc := newTestCache(t, cfg)
	tc.now = nil
	tc.PriceCache.now = time.Now

	// first update takes the save slot, the second is throttled
	tc.Update(1, 21, testQuote(1, 21, time.Now(), 1))
	tc.Update(2, 21, testQuote(2, 21, time.Now(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tc.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for tc.store.Len() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if tc.store.Len() != 2 {
		t.Errorf("store holds %d quotes, want 2", tc.store.Len())
	}
}

func TestLoadAndClose(t *testing.T) {
	tc := newTestCache(t, DefaultConfig())
	ctx := context.Background()

	if err := tc.store.SaveAll(ctx, []*quote.Quote{
		testQuote(1, 21, *tc.now, 1),
		testQuote(2, 21, *tc.now, 1),
	}); err != nil {
		t.Fatalf("SaveAll failed: %v", err)
	}

	if err := tc.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if tc.Len() != 2 {
		t.Fatalf("Len() = %d after Load, want 2", tc.Len())
	}
	if result, q := tc.GetPricing(1, 21, false, false); result != ResultSuccessful || q == nil {
		t.Errorf("GetPricing after Load = %v", result)
	}

	tc.Update(3, 21, testQuote(3, 21, *tc.now, 1))
	if err := tc.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if tc.store.Len() != 3 {
		t.Errorf("store holds %d quotes after Close, want 3", tc.store.Len())
	}
}

func TestLoad_StoreError(t *testing.T) {
	tc := newTestCache(t, DefaultConfig())
	tc.store.Close()

	if err := tc.Load(context.Background()); err == nil {
		t.Error("Expected Load to fail on a closed store")
	}
	if err := tc.Close(context.Background()); err == nil {
		t.Error("Expected Close to fail on a closed store")
	}
}
