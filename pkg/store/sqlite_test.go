package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Sternrassler/market-price-cache/pkg/quote"
)

func newTestSQLite(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(DefaultSQLiteConfig(path))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_Validation(t *testing.T) {
	if _, err := NewSQLiteStore(SQLiteConfig{}); err == nil {
		t.Error("Expected error for empty path")
	}
}

func TestSQLiteStore(t *testing.T) {
	s := newTestSQLite(t, filepath.Join(t.TempDir(), "data", "quotes.db"))
	testStoreContract(t, s)
}

func TestSQLiteStore_InMemory(t *testing.T) {
	s := newTestSQLite(t, ":memory:")
	testStoreContract(t, s)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quotes.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(DefaultSQLiteConfig(path))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	saved := sampleQuote(5333, 21, 120.37)
	if err := first.SaveAll(ctx, []*quote.Quote{saved}); err != nil {
		t.Fatalf("SaveAll failed: %v", err)
	}
	first.Close()

	second := newTestSQLite(t, path)
	loaded, err := second.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("Loaded %d quotes, want 1", len(loaded))
	}
	assertQuoteEqual(t, saved, loaded[0])
}

func TestSQLiteStore_SkipsInvalidDocuments(t *testing.T) {
	s := newTestSQLite(t, filepath.Join(t.TempDir(), "quotes.db"))
	ctx := context.Background()

	if err := s.SaveAll(ctx, []*quote.Quote{sampleQuote(5333, 21, 120)}); err != nil {
		t.Fatalf("SaveAll failed: %v", err)
	}
	if _, err := s.db.Exec(`INSERT INTO quotes (item_id, world_id, last_update, payload) VALUES (1, 21, 0, 'garbage')`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	quotes, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(quotes) != 1 {
		t.Errorf("Expected only the valid quote, got %d", len(quotes))
	}
}
