package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/market-price-cache/internal/config"
	"github.com/Sternrassler/market-price-cache/pkg/batch"
	"github.com/Sternrassler/market-price-cache/pkg/cache"
	"github.com/Sternrassler/market-price-cache/pkg/client"
	"github.com/Sternrassler/market-price-cache/pkg/events"
	"github.com/Sternrassler/market-price-cache/pkg/fetch"
	"github.com/Sternrassler/market-price-cache/pkg/logging"
	"github.com/Sternrassler/market-price-cache/pkg/ratelimit"
	"github.com/Sternrassler/market-price-cache/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to the YAML configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatal().Err(err).Msg("Price cache failed")
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Setup(cfg.LoggingConfig())
	logger := logging.NewLogger("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	app, err := newApp(cfg, st)
	if err != nil {
		return err
	}

	if err := app.cache.Load(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := app.start(runCtx, cfg.Batch.TickInterval); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           app.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("store", cfg.Store.Backend).
			Int("worlds", len(cfg.Worlds)).
			Str("user_agent", cfg.API.UserAgent).
			Msg("Starting price cache server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown failed")
	}
	cancel()
	return app.shutdown(shutdownCtx)
}

// app wires the pipeline: scheduler -> fetch worker -> cache.
type app struct {
	cache  *cache.PriceCache
	sched  *batch.Scheduler
	worker *fetch.Worker
	gate   *ratelimit.Gate
	bus    *events.Bus
	store  store.Store
}

func newApp(cfg config.Config, st store.Store) (*app, error) {
	c, err := client.New(cfg.ClientConfig())
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	gate, err := ratelimit.NewGate(cfg.GateConfig(), logging.NewLogger("ratelimit"))
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}

	worlds := fetch.NewWorldNames(config.StaticWorlds(cfg.Worlds))
	worker, err := fetch.NewWorker(cfg.FetchConfig(), c, gate, ratelimit.NewState(), worlds)
	if err != nil {
		gate.Close()
		return nil, fmt.Errorf("create fetch worker: %w", err)
	}

	sched, err := batch.New(cfg.BatchConfig(), worker)
	if err != nil {
		gate.Close()
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	bus, err := events.New(cfg.EventsConfig())
	if err != nil {
		gate.Close()
		return nil, fmt.Errorf("create event bus: %w", err)
	}
	updates := logging.NewLogger("updates")
	bus.Subscribe(func(e events.QuoteUpdated) {
		updates.Debug().Uint32("item_id", e.ItemID).Uint32("world_id", e.WorldID).Msg("Quote updated")
	})

	pc, err := cache.New(cfg.CacheConfig(), sched, st, bus, config.NewStaticCatalog(cfg.Items))
	if err != nil {
		gate.Close()
		bus.Close(time.Second)
		return nil, fmt.Errorf("create cache: %w", err)
	}

	return &app{cache: pc, sched: sched, worker: worker, gate: gate, bus: bus, store: st}, nil
}

func (a *app) start(ctx context.Context, tick time.Duration) error {
	if err := a.worker.Start(ctx, a.cache); err != nil {
		return err
	}
	go a.sched.Run(ctx, tick)
	go a.cache.Run(ctx)
	return nil
}

func (a *app) shutdown(ctx context.Context) error {
	a.sched.FlushAll()
	a.worker.Stop()
	a.gate.Close()

	err := a.cache.Close(ctx)
	if busErr := a.bus.Close(5 * time.Second); busErr != nil {
		log.Warn().Err(busErr).Msg("Event bus did not drain")
	}
	return err
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreRedis:
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Store.RedisURL})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Store.RedisURL, err)
		}
		log.Info().Str("addr", cfg.Store.RedisURL).Msg("Connected to Redis")
		return store.NewRedisStore(redisClient, cfg.Store.RedisHash)
	case config.StoreSQLite:
		return store.NewSQLiteStore(cfg.SQLiteConfig())
	default:
		return store.NewMemoryStore(), nil
	}
}
