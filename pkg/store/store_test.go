package store

import (
	"context"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/Sternrassler/market-price-cache/pkg/quote"
)

func sampleQuote(itemID, worldID uint32, price float64) *quote.Quote {
	sold := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &quote.Quote{
		ItemID:         itemID,
		WorldID:        worldID,
		LastUploadTime: 1767261600000,
		LastUpdate:     time.Date(2026, 3, 1, 12, 30, 0, 123456789, time.UTC),
		LastSellDate:   &sold,
		CurrentAverage: quote.Tiered{All: price, NQ: price * 0.9, HQ: price * 1.3},
		Average:        quote.Tiered{All: price + 0.1, NQ: price, HQ: price * 1.25},
		Min:            quote.Tiered{All: price / 3, NQ: price / 3, HQ: price / 2},
		Max:            quote.Tiered{All: price * 4, NQ: price * 3, HQ: price * 4},
		SaleVelocity:   quote.Tiered{All: 1.0 / 7.0, NQ: 0.1, HQ: 0.04285714},
		StackSizes:     quote.Histogram{All: map[string]int{"1": 3, "99": 1}},
		Listings: []quote.Listing{
			{ListingID: "abc", PricePerUnit: uint32(price), Quantity: 2, Total: uint32(price) * 2, HQ: true, RetainerName: "Seller", LastReviewTime: sold},
		},
		RecentHistory: []quote.Sale{
			{PricePerUnit: uint32(price), Quantity: 1, Total: uint32(price), Timestamp: sold},
		},
		WorldName:     "Lich",
		ListingsCount: 1,
		HasData:       true,
		Available:     1,
	}
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(a))
}

func tieredEqual(a, b quote.Tiered) bool {
	return approxEqual(a.All, b.All) && approxEqual(a.NQ, b.NQ) && approxEqual(a.HQ, b.HQ)
}

func assertQuoteEqual(t *testing.T, want, got *quote.Quote) {
	t.Helper()

	if got.Key() != want.Key() {
		t.Fatalf("Key = %v, want %v", got.Key(), want.Key())
	}
	if got.LastUploadTime != want.LastUploadTime {
		t.Errorf("LastUploadTime = %d, want %d", got.LastUploadTime, want.LastUploadTime)
	}
	if !got.LastUpdate.Equal(want.LastUpdate) {
		t.Errorf("LastUpdate = %v, want %v", got.LastUpdate, want.LastUpdate)
	}
	if (got.LastSellDate == nil) != (want.LastSellDate == nil) ||
		(got.LastSellDate != nil && !got.LastSellDate.Equal(*want.LastSellDate)) {
		t.Errorf("LastSellDate = %v, want %v", got.LastSellDate, want.LastSellDate)
	}
	for name, pair := range map[string][2]quote.Tiered{
		"CurrentAverage": {want.CurrentAverage, got.CurrentAverage},
		"Average":        {want.Average, got.Average},
		"Min":            {want.Min, got.Min},
		"Max":            {want.Max, got.Max},
		"SaleVelocity":   {want.SaleVelocity, got.SaleVelocity},
	} {
		if !tieredEqual(pair[0], pair[1]) {
			t.Errorf("%s = %+v, want %+v", name, pair[1], pair[0])
		}
	}
	if len(got.Listings) != len(want.Listings) || len(got.RecentHistory) != len(want.RecentHistory) {
		t.Errorf("Listings/RecentHistory = %d/%d, want %d/%d",
			len(got.Listings), len(got.RecentHistory), len(want.Listings), len(want.RecentHistory))
	}
	if len(got.Listings) > 0 && got.Listings[0].RetainerName != want.Listings[0].RetainerName {
		t.Errorf("Listing retainer = %q", got.Listings[0].RetainerName)
	}
	if got.StackSizes.All["99"] != want.StackSizes.All["99"] {
		t.Errorf("StackSizes = %+v", got.StackSizes)
	}
	if got.WorldName != want.WorldName || got.Available != want.Available || got.HasData != want.HasData {
		t.Errorf("WorldName/Available/HasData = %q/%d/%v", got.WorldName, got.Available, got.HasData)
	}
}

func sortQuotes(quotes []*quote.Quote) {
	sort.Slice(quotes, func(i, j int) bool {
		if quotes[i].WorldID != quotes[j].WorldID {
			return quotes[i].WorldID < quotes[j].WorldID
		}
		return quotes[i].ItemID < quotes[j].ItemID
	})
}

// testStoreContract exercises the behaviour every Store must provide.
func testStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		quotes, err := s.LoadAll(ctx)
		if err != nil {
			t.Fatalf("LoadAll failed: %v", err)
		}
		if len(quotes) != 0 {
			t.Errorf("Expected empty store, got %d quotes", len(quotes))
		}
	})

	t.Run("round trip", func(t *testing.T) {
		saved := []*quote.Quote{
			sampleQuote(5333, 21, 120.37),
			sampleQuote(5333, 22, 99.5),
			sampleQuote(4, 21, 1e6/3),
		}
		if err := s.SaveAll(ctx, saved); err != nil {
			t.Fatalf("SaveAll failed: %v", err)
		}

		loaded, err := s.LoadAll(ctx)
		if err != nil {
			t.Fatalf("LoadAll failed: %v", err)
		}
		if len(loaded) != len(saved) {
			t.Fatalf("Loaded %d quotes, want %d", len(loaded), len(saved))
		}
		sortQuotes(saved)
		sortQuotes(loaded)
		for i := range saved {
			assertQuoteEqual(t, saved[i], loaded[i])
		}
	})

	t.Run("upsert is idempotent", func(t *testing.T) {
		updated := sampleQuote(5333, 21, 150)
		for i := 0; i < 2; i++ {
			if err := s.SaveAll(ctx, []*quote.Quote{updated, nil}); err != nil {
				t.Fatalf("SaveAll failed: %v", err)
			}
		}

		loaded, err := s.LoadAll(ctx)
		if err != nil {
			t.Fatalf("LoadAll failed: %v", err)
		}
		if len(loaded) != 3 {
			t.Fatalf("Loaded %d quotes, want 3", len(loaded))
		}
		for _, q := range loaded {
			if q.Key() == updated.Key() && !approxEqual(q.CurrentAverage.All, 150) {
				t.Errorf("Expected updated price 150, got %v", q.CurrentAverage.All)
			}
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := s.Delete(ctx, quote.NewKey(4, 21)); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := s.Delete(ctx, quote.NewKey(404, 21)); err != nil {
			t.Errorf("Deleting a missing key should not fail: %v", err)
		}

		loaded, _ := s.LoadAll(ctx)
		if len(loaded) != 2 {
			t.Errorf("Loaded %d quotes after delete, want 2", len(loaded))
		}
	})

	t.Run("clear", func(t *testing.T) {
		if err := s.Clear(ctx); err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		loaded, _ := s.LoadAll(ctx)
		if len(loaded) != 0 {
			t.Errorf("Loaded %d quotes after clear, want 0", len(loaded))
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := s.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	testStoreContract(t, s)

	if err := s.SaveAll(context.Background(), []*quote.Quote{sampleQuote(1, 21, 1)}); err != nil {
		t.Fatalf("SaveAll failed: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
	if s.Saves() == 0 {
		t.Error("Expected saves to be counted")
	}

	s.Close()
	if err := s.Ping(context.Background()); err != ErrClosed {
		t.Errorf("Ping after Close = %v, want ErrClosed", err)
	}
	if _, err := s.LoadAll(context.Background()); err != ErrClosed {
		t.Errorf("LoadAll after Close = %v, want ErrClosed", err)
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"valid", `{"item_id": 5333, "world_id": 21}`, false},
		{"unknown fields ignored", `{"item_id": 5333, "world_id": 21, "future_field": [1,2]}`, false},
		{"missing item id", `{"world_id": 21}`, true},
		{"not json", `garbage`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decode([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Errorf("decode() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecode_OlderDocument(t *testing.T) {
	q, err := decode([]byte(`{"item_id": 5333, "world_id": 21, "average": {"all": 12.5}}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if q.Average.All != 12.5 {
		t.Errorf("Average.All = %v, want 12.5", q.Average.All)
	}
	if q.LastSellDate != nil || q.Listings != nil || q.Available != 0 {
		t.Errorf("Expected absent fields to decode as zero values: %+v", q)
	}
}
