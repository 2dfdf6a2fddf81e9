// Package config loads the price cache service configuration from an
// optional YAML file and environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/market-price-cache/pkg/batch"
	"github.com/Sternrassler/market-price-cache/pkg/cache"
	"github.com/Sternrassler/market-price-cache/pkg/client"
	"github.com/Sternrassler/market-price-cache/pkg/events"
	"github.com/Sternrassler/market-price-cache/pkg/fetch"
	"github.com/Sternrassler/market-price-cache/pkg/logging"
	"github.com/Sternrassler/market-price-cache/pkg/ratelimit"
	"github.com/Sternrassler/market-price-cache/pkg/store"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config is the service configuration.
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Log       LogConfig         `yaml:"log"`
	API       APIConfig         `yaml:"api"`
	RateLimit RateLimitConfig   `yaml:"rate_limit"`
	Fetch     FetchConfig       `yaml:"fetch"`
	Batch     BatchConfig       `yaml:"batch"`
	Cache     CacheConfig       `yaml:"cache"`
	Store     StoreConfig       `yaml:"store"`
	Events    EventsConfig      `yaml:"events"`
	Worlds    map[uint32]string `yaml:"worlds"`
	Items     ItemsConfig       `yaml:"items"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type APIConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Version       string        `yaml:"version"`
	UserAgent     string        `yaml:"user_agent"`
	Listings      int           `yaml:"listings"`
	Entries       int           `yaml:"entries"`
	HQ            *bool         `yaml:"hq"`
	StatsWithin   time.Duration `yaml:"stats_within"`
	EntriesWithin time.Duration `yaml:"entries_within"`
	Fields        []string      `yaml:"fields"`
	Timeout       time.Duration `yaml:"timeout"`
}

type RateLimitConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	Spacing           time.Duration `yaml:"spacing"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

type FetchConfig struct {
	Workers          int           `yaml:"workers"`
	MaxRetries       uint          `yaml:"max_retries"`
	RateLimitBackoff time.Duration `yaml:"rate_limit_backoff"`
	TimeoutBackoff   time.Duration `yaml:"timeout_backoff"`
	ParseBackoff     time.Duration `yaml:"parse_backoff"`
}

type BatchConfig struct {
	QueueWindow  time.Duration `yaml:"queue_window"`
	MaxBatchSize int           `yaml:"max_batch_size"`
	TickInterval time.Duration `yaml:"tick_interval"`
}

type CacheConfig struct {
	AutoRequest       bool          `yaml:"auto_request"`
	MaxAge            time.Duration `yaml:"max_age"`
	AutomaticSaveTime time.Duration `yaml:"automatic_save_time"`
	SaveTimeout       time.Duration `yaml:"save_timeout"`
}

type StoreConfig struct {
	Backend    string `yaml:"backend"`
	RedisURL   string `yaml:"redis_url"`
	RedisHash  string `yaml:"redis_hash"`
	SQLitePath string `yaml:"sqlite_path"`
}

type EventsConfig struct {
	PoolSize int `yaml:"pool_size"`
}

// ItemsConfig describes the item catalog. With Tradable set only those items
// are tradable; otherwise every item except Untradable is.
type ItemsConfig struct {
	Tradable   []uint32 `yaml:"tradable"`
	Untradable []uint32 `yaml:"untradable"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	api := client.DefaultConfig("")
	retry := client.DefaultRetryConfig()
	gate := ratelimit.DefaultGateConfig()
	sched := batch.DefaultConfig()
	pc := cache.DefaultConfig()

	return Config{
		Server: ServerConfig{Port: "8080", ShutdownTimeout: 30 * time.Second},
		Log:    LogConfig{Level: string(logging.LevelInfo)},
		API: APIConfig{
			BaseURL:       api.BaseURL,
			Version:       api.APIVersion,
			UserAgent:     api.UserAgent,
			Listings:      api.Listings,
			Entries:       api.Entries,
			StatsWithin:   api.StatsWithin,
			EntriesWithin: api.EntriesWithin,
			Timeout:       api.Timeout,
		},
		RateLimit: RateLimitConfig{
			Concurrency:       gate.Concurrency,
			Spacing:           gate.Spacing,
			RequestsPerSecond: gate.RequestsPerSecond,
		},
		Fetch: FetchConfig{
			Workers:          fetch.DefaultConfig().Workers,
			MaxRetries:       retry.MaxRetries,
			RateLimitBackoff: retry.RateLimitBackoff,
			TimeoutBackoff:   retry.TimeoutBackoff,
			ParseBackoff:     retry.ParseBackoff,
		},
		Batch: BatchConfig{
			QueueWindow:  sched.QueueWindow,
			MaxBatchSize: sched.MaxBatchSize,
			TickInterval: time.Second,
		},
		Cache: CacheConfig{
			AutoRequest:       pc.AutoRequest,
			MaxAge:            pc.MaxAge,
			AutomaticSaveTime: pc.AutomaticSaveTime,
			SaveTimeout:       pc.SaveTimeout,
		},
		Store: StoreConfig{
			Backend:    StoreRedis,
			RedisURL:   "localhost:6379",
			RedisHash:  store.DefaultRedisHash,
			SQLitePath: "data/price-cache.db",
		},
		Events: EventsConfig{PoolSize: events.DefaultConfig().PoolSize},
		Worlds: map[uint32]string{},
	}
}

// Load reads path (if not empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set("REDIS_URL", &c.Store.RedisURL)
	set("PORT", &c.Server.Port)
	set("USER_AGENT", &c.API.UserAgent)
	set("LOG_LEVEL", &c.Log.Level)
	set("STORE", &c.Store.Backend)
	set("SQLITE_PATH", &c.Store.SQLitePath)

	if v, ok := lookup("AUTO_REQUEST"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AUTO_REQUEST: %w", err)
		}
		c.Cache.AutoRequest = b
	}
	return nil
}

// Validate checks values that the component constructors do not.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}

	c.Store.Backend = strings.ToLower(c.Store.Backend)
	switch c.Store.Backend {
	case StoreRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("redis url is required for the redis store")
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for the sqlite store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Server.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.Batch.MaxBatchSize <= 0 || c.Batch.MaxBatchSize > client.MaxItemsPerRequest {
		return fmt.Errorf("batch max batch size must be between 1 and %d (got %d)",
			client.MaxItemsPerRequest, c.Batch.MaxBatchSize)
	}
	if c.Batch.TickInterval <= 0 {
		return fmt.Errorf("batch tick interval must be > 0 (got %s)", c.Batch.TickInterval)
	}
	for id, name := range c.Worlds {
		if name == "" {
			return fmt.Errorf("world %d has no name", id)
		}
	}
	return nil
}

// LoggingConfig returns the logger configuration.
func (c Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level, _ = logging.ParseLevel(c.Log.Level)
	cfg.Pretty = c.Log.Pretty
	return cfg
}

// ClientConfig returns the pricing API client configuration.
func (c Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.API.UserAgent)
	cfg.BaseURL = c.API.BaseURL
	cfg.APIVersion = c.API.Version
	cfg.Listings = c.API.Listings
	cfg.Entries = c.API.Entries
	cfg.HQ = c.API.HQ
	cfg.StatsWithin = c.API.StatsWithin
	cfg.EntriesWithin = c.API.EntriesWithin
	cfg.Fields = c.API.Fields
	cfg.Timeout = c.API.Timeout
	return cfg
}

// GateConfig returns the outbound rate limiter configuration.
func (c Config) GateConfig() ratelimit.GateConfig {
	return ratelimit.GateConfig{
		Concurrency:       c.RateLimit.Concurrency,
		Spacing:           c.RateLimit.Spacing,
		RequestsPerSecond: c.RateLimit.RequestsPerSecond,
	}
}

// FetchConfig returns the fetch worker configuration.
func (c Config) FetchConfig() fetch.Config {
	return fetch.Config{
		Workers: c.Fetch.Workers,
		Retry: client.RetryConfig{
			MaxRetries:       c.Fetch.MaxRetries,
			RateLimitBackoff: c.Fetch.RateLimitBackoff,
			TimeoutBackoff:   c.Fetch.TimeoutBackoff,
			ParseBackoff:     c.Fetch.ParseBackoff,
		},
	}
}

// BatchConfig returns the scheduler configuration.
func (c Config) BatchConfig() batch.Config {
	return batch.Config{
		QueueWindow:  c.Batch.QueueWindow,
		MaxBatchSize: c.Batch.MaxBatchSize,
	}
}

// CacheConfig returns the price cache configuration.
func (c Config) CacheConfig() cache.Config {
	return cache.Config{
		AutoRequest:       c.Cache.AutoRequest,
		MaxAge:            c.Cache.MaxAge,
		AutomaticSaveTime: c.Cache.AutomaticSaveTime,
		SaveTimeout:       c.Cache.SaveTimeout,
		Worlds:            StaticWorlds(c.Worlds).IDs(),
	}
}

// EventsConfig returns the event bus configuration.
func (c Config) EventsConfig() events.Config {
	return events.Config{PoolSize: c.Events.PoolSize}
}

// SQLiteConfig returns the SQLite store configuration.
func (c Config) SQLiteConfig() store.SQLiteConfig {
	return store.DefaultSQLiteConfig(c.Store.SQLitePath)
}
