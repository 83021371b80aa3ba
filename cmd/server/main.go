package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/AiSchool-Admin/maksab-sub003/internal/auction"
	"github.com/AiSchool-Admin/maksab-sub003/internal/config"
	"github.com/AiSchool-Admin/maksab-sub003/internal/identity"
	"github.com/AiSchool-Admin/maksab-sub003/internal/listing"
	"github.com/AiSchool-Admin/maksab-sub003/internal/metrics"
	"github.com/AiSchool-Admin/maksab-sub003/internal/notify"
	"github.com/AiSchool-Admin/maksab-sub003/internal/settlement"
	"github.com/AiSchool-Admin/maksab-sub003/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()
	fatal := func(msg string, err error) {
		slog.Error(msg, "err", err)
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
		os.Exit(1)
	}

	// --- Redis (cache + Pub/Sub) ---
	var rdb *redis.Client
	if cfg.Storage.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			fatal("invalid REDIS_URL", err)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	// --- Auction store ---
	var st store.Store
	if cfg.Storage.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			fatal("database connection failed", err)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool, cfg.Storage.LockTimeout)
		if err := pg.Migrate(ctx); err != nil {
			fatal("database migration failed", err)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.Storage.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.Storage.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore().WithLockTimeout(cfg.Storage.LockTimeout)
	}

	// --- Listing store ---
	var listings listing.Store
	if cfg.Storage.ListingsDSN != "" {
		ls, err := listing.Open(ctx, cfg.Storage.ListingsDSN)
		if err != nil {
			fatal("listings database connection failed", err)
		}
		cleanup = append(cleanup, func() { ls.Close() })
		if err := ls.InitSchema(ctx); err != nil {
			fatal("listings schema init failed", err)
		}
		listings = ls
	} else {
		slog.Warn("LISTINGS_DSN not set, using in-memory listings")
		listings = listing.NewMemoryStore()
	}

	// --- Notifications ---
	hub := notify.NewHub(logger)
	dispatchers := notify.Multi{hub}
	if rdb != nil {
		dispatchers = append(dispatchers, notify.NewRedisPublisher(rdb))
	}
	if cfg.Notify.NATSURL != "" {
		nc, err := nats.Connect(cfg.Notify.NATSURL)
		if err != nil {
			fatal("NATS connection failed", err)
		}
		cleanup = append(cleanup, func() { nc.Drain() })
		pub, err := notify.NewNATSPublisher(ctx, nc)
		if err != nil {
			fatal("JetStream setup failed", err)
		}
		dispatchers = append(dispatchers, pub)
		slog.Info("JetStream publishing enabled", "stream", notify.StreamName)
	}
	notifier := notify.NewAsync(dispatchers, cfg.Notify.QueueSize, logger)

	// --- Engine + background work ---
	engine := auction.NewEngine(st, listings,
		auction.WithPolicy(cfg.Bidding),
		auction.WithNotifier(notifier),
		auction.WithLogger(logger),
		auction.WithRecentBids(cfg.RecentBidsLimit),
	)
	sweeper := settlement.NewSweeper(st, engine, settlement.Config{
		Interval:  cfg.Sweep.Interval,
		BatchSize: cfg.Sweep.BatchSize,
	}, logger)

	// Stopped in reverse: the sweeper and pending write-backs finish while
	// the notifier can still deliver their events.
	var bg background
	bg.start(hub.Run)
	bg.start(notifier.Run)
	bg.after(engine.Wait)
	bg.start(sweeper.Run)

	// --- HTTP router ---
	verifier := identity.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	handler := auction.NewHandler(engine, logger)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"auction-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Live auction events.
		r.Get("/ws", hub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			handler.Routes(r, verifier.Middleware)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("auction-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down auction-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	bg.stop()
	fmt.Println("auction-engine stopped")
}
