package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/sessionledger/sessionledger/internal/app"
	"github.com/sessionledger/sessionledger/internal/billing"
	jobmetrics "github.com/sessionledger/sessionledger/internal/jobs"
	"github.com/sessionledger/sessionledger/internal/observability"
	"github.com/sessionledger/sessionledger/internal/platform/cache"
	"github.com/sessionledger/sessionledger/internal/platform/db"
	"github.com/sessionledger/sessionledger/internal/shared"
	"github.com/sessionledger/sessionledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	locker := shared.NewRedisLocker(redisClient, cfg.DueLockTTL, cfg.DueLockWait)

	billingRepo := billing.NewRepository(pool)
	billingService := billing.NewService(billingRepo, billing.ServiceConfig{
		Locks:   locker,
		Logger:  logger,
		Metrics: metrics,
	})

	materializeJob := jobs.NewMaterializeJob(billingService, logger, jobmetrics.NewMetrics(metrics.Registerer()), nil)

	materializeTask, err := jobs.NewMaterializeTask(jobs.MaterializePayload{})
	if err != nil {
		logger.Error("build materialize task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeMaterialize, Handler: materializeJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.MaterializeCron, Task: materializeTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
