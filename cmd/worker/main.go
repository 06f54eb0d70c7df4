/*
main.go - Background worker entry point

PURPOSE:
  Consumes queued jobs from Redis (asynq). Today that is the order-ready
  customer notification enqueued by the server when a shop marks an
  order READY.

ENVIRONMENT:
  REDIS_ADDR is required. The server only enqueues when it is set too;
  without it notifications run inline in the server and no worker is
  needed.

SEE ALSO:
  - jobs/worker.go: Queue and handler registration
  - cmd/server/main.go: Producer side
*/
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/udhaar/credit-ledger/config"
	"github.com/udhaar/credit-ledger/jobs"
	"github.com/udhaar/credit-ledger/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg)

	if cfg.RedisAddr == "" {
		logger.Error("REDIS_ADDR must be set for the worker")
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		OrderReady: &jobs.OrderReadyJob{
			Sender:  jobs.LogSender{Logger: logger},
			Logger:  logger,
			Metrics: metrics,
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
