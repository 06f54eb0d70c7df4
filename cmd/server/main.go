/*
main.go - Application entry point

PURPOSE:
  Starts the credit ledger API. Wires configuration, the SQLite store, the
  optional Redis balance cache and job queue, the ledger, order and
  reconciliation services, the discrepancy scanner and the HTTP router.

STARTUP SEQUENCE:
  1. Load config (.env, then environment; flags override a few values)
  2. Open the SQLite store and apply migrations
  3. Connect Redis when REDIS_ADDR is set
  4. Build the ledger, order service and reconciler
  5. Schedule discrepancy scans
  6. Serve HTTP until SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -addr    Listen address (overrides APP_ADDR)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for an in-memory database

WITHOUT REDIS:
  Balances are cached in process and order-ready notifications are sent
  inline through the log sender. With Redis, notifications are queued for
  cmd/worker.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop scheduling scans and wait for a running one
  2. Stop accepting connections and drain requests (30s)
  3. Close Redis and the database

EXAMPLES:
  ./server -db="./data/udhaar.db"
  REDIS_ADDR=localhost:6379 SCAN_SCHEDULE="0 2 * * *" ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - cmd/worker/main.go: Queue consumer
*/
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/udhaar/credit-ledger/api"
	"github.com/udhaar/credit-ledger/config"
	"github.com/udhaar/credit-ledger/jobs"
	"github.com/udhaar/credit-ledger/ledger"
	"github.com/udhaar/credit-ledger/ledger/cache"
	"github.com/udhaar/credit-ledger/observability"
	"github.com/udhaar/credit-ledger/order"
	"github.com/udhaar/credit-ledger/reconcile"
	"github.com/udhaar/credit-ledger/store/sqlite"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Default().Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Flags
	flag.StringVar(&cfg.AppAddr, "addr", cfg.AppAddr, "HTTP listen address")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// Store
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return err
		}
	}
	st, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	metrics := observability.NewMetrics()

	// Redis: balance cache and notification queue
	var (
		balances ledger.BalanceCache = ledger.NewMemoryCache()
		notifier order.Notifier      = jobs.InlineNotifier{Job: &jobs.OrderReadyJob{
			Sender:  jobs.LogSender{Logger: logger},
			Logger:  logger,
			Metrics: metrics,
		}}
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return err
		}
		queue := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer queue.Close()

		balances = cache.NewRedis(rdb, cfg.BalanceCacheTTL)
		notifier = jobs.NewAsynqNotifier(queue)
		logger.Info("redis enabled", slog.String("addr", cfg.RedisAddr))
	}

	// Domain services
	l := ledger.New(st,
		ledger.WithCache(balances),
		ledger.WithLogger(logger),
		ledger.WithObserver(metrics),
		ledger.WithOpTimeout(cfg.LedgerOpTimeout),
		ledger.WithBulkConcurrency(cfg.BulkConcurrency),
		ledger.WithLocation(loc),
	)
	orders := order.NewService(st.Orders(), l,
		order.WithNotifier(notifier),
		order.WithObserver(metrics),
		order.WithLogger(logger),
		order.WithOpTimeout(cfg.LedgerOpTimeout),
	)
	reconciler := reconcile.New(st, st,
		reconcile.WithObserver(metrics),
		reconcile.WithLogger(logger),
	)

	scanner := api.NewScanner(reconciler, st,
		api.WithScanLogger(logger),
		api.WithScanObserver(metrics),
	)
	if err := scanner.Start(cfg.ScanSchedule, loc); err != nil {
		return err
	}
	defer scanner.Stop()

	// HTTP
	handler := api.NewHandler(api.Deps{
		Ledger:     l,
		Orders:     orders,
		Reconciler: reconciler,
		Scanner:    scanner,
		Pinger:     st,
		Logger:     logger,
		Scenarios:  !cfg.IsProduction(),
	})
	router := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		RequestTimeout:  cfg.AppRequestTimeout,
		Production:      cfg.IsProduction(),
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("addr", cfg.AppAddr),
			slog.String("env", cfg.AppEnv),
			slog.String("db", cfg.DBPath))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
