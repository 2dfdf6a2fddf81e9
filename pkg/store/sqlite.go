package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Sternrassler/market-price-cache/pkg/quote"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const backendSQLite = "sqlite"

// SQLiteConfig holds SQLite store configuration.
type SQLiteConfig struct {
	// Path of the database file. ":memory:" keeps it in memory.
	Path string

	// WALMode enables the write-ahead log.
	WALMode bool

	// BusyTimeoutMS is how long a writer waits on a locked database.
	BusyTimeoutMS int

	// CacheSizeMB is the page cache size.
	CacheSizeMB int
}

// DefaultSQLiteConfig returns the default configuration for path.
func DefaultSQLiteConfig(path string) SQLiteConfig {
	return SQLiteConfig{
		Path:          path,
		WALMode:       true,
		BusyTimeoutMS: 5000,
		CacheSizeMB:   16,
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS quotes (
	item_id     INTEGER NOT NULL,
	world_id    INTEGER NOT NULL,
	last_update INTEGER NOT NULL,
	payload     TEXT    NOT NULL,
	PRIMARY KEY (item_id, world_id)
)`

// SQLiteStore keeps quotes in one table: key columns plus the JSON document.
type SQLiteStore struct {
	db     *sql.DB
	config SQLiteConfig
	logger zerolog.Logger
	mu     sync.Mutex // serializes writers, avoids SQLITE_BUSY
}

// NewSQLiteStore opens (and creates) the database at cfg.Path.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Path == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{
		db:     db,
		config: cfg,
		logger: log.With().Str("component", "sqlite-store").Logger(),
	}

	if err := s.configure(); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s.logger.Info().Str("path", cfg.Path).Msg("SQLite store initialized")
	return s, nil
}

func (s *SQLiteStore) configure() error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
	}
	if s.config.BusyTimeoutMS > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout = %d", s.config.BusyTimeoutMS))
	}
	if s.config.CacheSizeMB > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA cache_size = -%d", s.config.CacheSizeMB*1024))
	}
	if s.config.WALMode && s.config.Path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

// LoadAll reads every stored quote.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]*quote.Quote, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id, world_id, payload FROM quotes`)
	observe(backendSQLite, "load", err)
	if err != nil {
		return nil, fmt.Errorf("query quotes: %w", err)
	}
	defer rows.Close()

	var quotes []*quote.Quote
	for rows.Next() {
		var (
			itemID, worldID uint32
			payload         string
		)
		if err := rows.Scan(&itemID, &worldID, &payload); err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		q, err := decode([]byte(payload))
		if err != nil {
			s.logger.Warn().
				Err(err).
				Uint32("item_id", itemID).
				Uint32("world_id", worldID).
				Msg("Skipping invalid stored quote")
			continue
		}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quotes: %w", err)
	}
	return quotes, nil
}

// SaveAll upserts quotes in one transaction.
func (s *SQLiteStore) SaveAll(ctx context.Context, quotes []*quote.Quote) (err error) {
	if len(quotes) == 0 {
		return nil
	}
	defer func() { observe(backendSQLite, "save", err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO quotes (item_id, world_id, last_update, payload)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, q := range quotes {
		if q == nil {
			continue
		}
		data, err := encode(q)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, q.ItemID, q.WorldID, q.LastUpdate.UnixMilli(), string(data)); err != nil {
			return fmt.Errorf("upsert quote %s: %w", q.Key(), err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	quotesWritten.WithLabelValues(backendSQLite).Add(float64(written))
	return nil
}

// Delete removes one quote.
func (s *SQLiteStore) Delete(ctx context.Context, key quote.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM quotes WHERE item_id = ? AND world_id = ?`, key.ItemID, key.WorldID)
	observe(backendSQLite, "delete", err)
	if err != nil {
		return fmt.Errorf("delete quote %s: %w", key, err)
	}
	return nil
}

// Clear removes every quote.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM quotes`)
	observe(backendSQLite, "clear", err)
	if err != nil {
		return fmt.Errorf("clear quotes: %w", err)
	}
	return nil
}

// Ping verifies the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
