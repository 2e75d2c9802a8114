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
	"github.com/redis/go-redis/v9"

	"github.com/voltex/trade-engine/internal/engine"
	"github.com/voltex/trade-engine/internal/metrics"
	"github.com/voltex/trade-engine/internal/model"
	"github.com/voltex/trade-engine/internal/store"
	"github.com/voltex/trade-engine/internal/stream"
)

// defaultAssets is the static catalog seeded at startup.
var defaultAssets = []model.Asset{
	{Symbol: "SOL", Name: "Solana", Decimals: 4},
	{Symbol: "ETH", Name: "Ethereum", Decimals: 6},
	{Symbol: "BTC", Name: "Bitcoin", Decimals: 6},
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8090"
	}
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}
	group := os.Getenv("CONSUMER_GROUP")
	if group == "" {
		group = "engine-group"
	}
	consumerName := os.Getenv("CONSUMER_NAME")
	if consumerName == "" {
		consumerName = "engine-1"
	}
	snapshotInterval := 30 * time.Second
	if v := os.Getenv("SNAPSHOT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Error("invalid SNAPSHOT_INTERVAL", "value", v, "err", err)
			os.Exit(1)
		}
		snapshotInterval = d
	}

	var cleanup []func()
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Redis: streams and fast mirror ---
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "err", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	cleanup = append(cleanup, func() { rdb.Close() })

	// --- Durable store ---
	var gw store.Gateway
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		gw = store.NewPostgresGateway(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory gateway (data will not persist)")
		gw = store.NewMemoryGateway()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Seed the static asset catalog (idempotent).
	if err := gw.EnsureAssets(ctx, defaultAssets); err != nil {
		slog.Error("asset catalog seed failed", "err", err)
		os.Exit(1)
	}

	// --- Engine ---
	eng := engine.New(engine.Config{
		Gateway:          gw,
		Mirror:           store.NewRedisMirror(rdb),
		Prices:           stream.NewConsumer(rdb, stream.PriceStream, group, consumerName),
		Trades:           stream.NewConsumer(rdb, stream.TradeStream, group, consumerName),
		Closes:           stream.NewConsumer(rdb, stream.CloseStream, group, consumerName),
		SnapshotInterval: snapshotInterval,
	})

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		eng.Run(ctx)
	}()

	// --- In-process read surface ---
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"trade-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/price/{asset}", eng.HandleGetPrice)
		r.Post("/orders/{orderID}/close", eng.HandleCloseOrder)
		r.Get("/users/{userID}/orders", eng.HandleGetOrders)
		r.Get("/users/{userID}/balance", eng.HandleGetBalance)
	})

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("trade-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown: runners drain in-flight work and the engine flushes
	// a final snapshot before the process exits.
	<-ctx.Done()
	slog.Info("shutting down trade-engine...")
	<-engineDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trade-engine stopped")
}
