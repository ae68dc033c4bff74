package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/TheophilusAidoo/Stock-sub001/internal/api"
	"github.com/TheophilusAidoo/Stock-sub001/internal/ipo"
	"github.com/TheophilusAidoo/Stock-sub001/internal/ledger"
	"github.com/TheophilusAidoo/Stock-sub001/internal/limits"
	"github.com/TheophilusAidoo/Stock-sub001/internal/metrics"
	"github.com/TheophilusAidoo/Stock-sub001/internal/notify"
	"github.com/TheophilusAidoo/Stock-sub001/internal/position"
	"github.com/TheophilusAidoo/Stock-sub001/internal/store"
	"github.com/TheophilusAidoo/Stock-sub001/internal/timedtrade"
	"github.com/TheophilusAidoo/Stock-sub001/internal/workflow"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Deposit/withdrawal limits ---
	schedule := limits.NewSchedule(limits.Method{
		MinDeposit:    envDecimal("MIN_DEPOSIT", "10"),
		MinWithdrawal: envDecimal("MIN_WITHDRAWAL", "10"),
		WithdrawalFee: envDecimal("WITHDRAWAL_FEE", "0"),
	})

	// --- WebSocket event hub ---
	hub := notify.NewHub()
	go hub.Run()

	// --- Engines ---
	led := ledger.New(st)
	workflows := workflow.NewEngine(st, led, schedule, hub)
	positions := position.NewEngine(st, led)
	trades := timedtrade.NewEngine(st, led, hub)
	ipos := ipo.NewEngine(st, led, positions, hub)

	svc := api.NewService(st, led, workflows, positions, trades, ipos, staticQuotes())

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"ledger-core"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time account events.
		r.Get("/ws", hub.HandleWS)

		svc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("ledger-core listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down ledger-core...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("ledger-core stopped")
}

// envDecimal reads a decimal from the environment, falling back to def.
// Malformed values fall back as well, with a warning.
func envDecimal(key, def string) decimal.Decimal {
	raw := os.Getenv(key)
	if raw == "" {
		raw = def
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		slog.Warn("invalid decimal in environment, using default", "key", key, "value", raw, "default", def)
		d, _ = decimal.NewFromString(def)
	}
	return d
}

// staticQuotes builds a mark-price source from the QUOTES environment
// variable, e.g. QUOTES="AAPL=187.40,MSFT=402.10". Returns nil when
// unset; portfolios then report zero market values.
func staticQuotes() position.QuoteFunc {
	raw := os.Getenv("QUOTES")
	if raw == "" {
		return nil
	}

	prices := make(map[string]decimal.Decimal)
	for _, pair := range strings.Split(raw, ",") {
		sym, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(val)
		if err != nil {
			slog.Warn("skipping malformed quote", "pair", pair)
			continue
		}
		prices[strings.ToUpper(sym)] = price
	}
	slog.Info("static quote source configured", "symbols", len(prices))

	return func(symbol string) (decimal.Decimal, bool) {
		p, ok := prices[symbol]
		return p, ok
	}
}
