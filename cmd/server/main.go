package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"taxidispatch/internal/api"
	"taxidispatch/internal/auth"
	"taxidispatch/internal/broker"
	"taxidispatch/internal/config"
	"taxidispatch/internal/dispatch"
	"taxidispatch/internal/geo"
	"taxidispatch/internal/logging"
	"taxidispatch/internal/notify"
	"taxidispatch/internal/storage"
)

func main() {
	cfg, err := config.Load()
	log := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := initStore(ctx, cfg, log)
	defer deps.close()

	// Workers stop only after the HTTP server and dispatcher have drained.
	workers, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	hub := notify.NewHub(0)
	go hub.Run(workers)

	sink := initSink(ctx, cfg, log)
	fanout := notify.NewFanout(hub, sink, log)
	fanoutDone := make(chan struct{})
	go func() {
		fanout.Run(workers)
		close(fanoutDone)
	}()

	registry := dispatch.NewRegistry(deps.index, log)
	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		SearchRadiusKM:     cfg.SearchRadiusKM,
		RadiusStepKM:       cfg.RadiusStepKM,
		MaxSearchRadiusKM:  cfg.MaxSearchRadiusKM,
		MatchRetryInterval: cfg.MatchRetryInterval,
		MatchTimeout:       cfg.MatchTimeout,
		OfferTTL:           cfg.OfferTTL,
		OfferBatch:         cfg.OfferBatch,
	}, registry, fanout, log)

	if deps.pg != nil {
		restoreDrivers(ctx, deps.pg, registry, log)
		registry.AttachPersistence(deps.pg)
		dispatcher.AttachPersistence(deps.pg)
		dispatcher.AttachIdempotency(deps.idem)
		go purgeIdempotency(workers, deps.idem, log)
	}
	go sweepStaleDrivers(workers, dispatcher, cfg.DriverStaleAfter, log)

	opts := api.Options{
		Dispatcher:     dispatcher,
		Hub:            hub,
		Issuer:         auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL),
		Users:          deps.users,
		Checks:         deps.checks,
		CORSOrigins:    cfg.CORSOrigins,
		NearbyRadiusKM: cfg.SearchRadiusKM,
		APIRateLimit:   cfg.APIRateLimit,
		APIRateWindow:  cfg.APIRateWindow,
		RideRateLimit:  cfg.RideRateLimit,
		RideRateWindow: cfg.RideRateWindow,
		Logger:         log,
	}
	if deps.pg != nil {
		opts.Events = deps.pg
	}
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(opts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("dispatch API listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err := <-serveErr:
		if err != nil {
			log.Error("server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Warn("dispatcher shutdown", "error", err)
	}
	stopWorkers()
	<-fanoutDone
	if sink != nil {
		if err := sink.Close(); err != nil {
			log.Warn("close event sink", "error", err)
		}
	}
	log.Info("stopped")
}

type storeDeps struct {
	pool   *pgxpool.Pool
	pg     *storage.Postgres
	idem   *storage.IdempotencyStore
	users  auth.UserStore
	redis  *redis.Client
	index  dispatch.SpatialIndex
	checks []api.Check
}

func (d storeDeps) close() {
	if d.redis != nil {
		d.redis.Close()
	}
	if d.pool != nil {
		d.pool.Close()
	}
}

// initStore connects PostgreSQL and Redis when configured, falling back to
// in-memory stores when either is unreachable.
func initStore(ctx context.Context, cfg config.ServerConfig, log *slog.Logger) storeDeps {
	deps := storeDeps{
		users: auth.NewInMemoryStore(),
		index: geo.NewCellIndex(),
	}

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if cfg.DatabaseURL != "" {
		pool, err := storage.DefaultPool(initCtx, cfg.DatabaseURL)
		if err != nil {
			log.Warn("database connection failed, falling back to in-memory", "error", err)
		} else if err := storage.EnsureSchema(initCtx, pool); err != nil {
			log.Warn("schema init failed, falling back to in-memory", "error", err)
			pool.Close()
		} else {
			log.Info("using PostgreSQL persistence")
			deps.pool = pool
			deps.pg = storage.NewPostgres(pool)
			deps.idem = storage.NewIdempotencyStore(pool, 0)
			deps.users = deps.pg
			deps.checks = append(deps.checks, api.Check{Name: "postgres", Fn: deps.pg.Ping})
		}
	}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Warn("redis URL parse error, geo fallback to in-memory", "error", err)
			return deps
		}
		client := redis.NewClient(opt)
		idx := geo.NewRedisIndex(client, cfg.RedisGeoKey)
		if err := idx.Ping(initCtx); err != nil {
			log.Warn("redis unreachable, geo fallback to in-memory", "error", err)
			client.Close()
			return deps
		}
		log.Info("using Redis geo index", "key", cfg.RedisGeoKey)
		deps.redis = client
		deps.index = idx
		deps.checks = append(deps.checks, api.Check{Name: "redis", Fn: idx.Ping})
	}
	return deps
}

func initSink(ctx context.Context, cfg config.ServerConfig, log *slog.Logger) notify.Sink {
	switch cfg.EventBroker {
	case config.BrokerAMQP:
		sink, err := broker.DialRabbit(ctx, cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			log.Warn("rabbitmq unavailable, events stay in-process", "error", err)
			return nil
		}
		return sink
	case config.BrokerKafka:
		log.Info("mirroring events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
		return broker.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
	default:
		return nil
	}
}

// restoreDrivers reloads known drivers so ids, profiles and earnings survive a restart.
func restoreDrivers(ctx context.Context, pg *storage.Postgres, registry *dispatch.Registry, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	drivers, err := pg.LoadDrivers(ctx)
	if err != nil {
		log.Warn("failed to preload drivers", "error", err)
		return
	}
	registry.Restore(drivers)
	log.Info("drivers restored", "count", len(drivers))
}

func sweepStaleDrivers(ctx context.Context, d *dispatch.Dispatcher, ttl time.Duration, log *slog.Logger) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := d.SweepStaleDrivers(ttl); n > 0 {
				log.Info("stale drivers taken offline", "count", n)
			}
		}
	}
}

func purgeIdempotency(ctx context.Context, store *storage.IdempotencyStore, log *slog.Logger) {
	ticker := time.NewTicker(store.TTL())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			n, err := store.Purge(pctx)
			cancel()
			if err != nil {
				log.Warn("idempotency purge failed", "error", err)
			} else if n > 0 {
				log.Debug("idempotency keys purged", "count", n)
			}
		}
	}
}
