package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/stockline-erp/stockline/internal/app"
	"github.com/stockline-erp/stockline/internal/catalog"
	"github.com/stockline-erp/stockline/internal/costing"
	"github.com/stockline-erp/stockline/internal/inventory"
	"github.com/stockline-erp/stockline/internal/platform/cache"
	"github.com/stockline-erp/stockline/internal/platform/db"
	"github.com/stockline-erp/stockline/internal/shared"
	"github.com/stockline-erp/stockline/internal/transfers"
	"github.com/stockline-erp/stockline/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, caching degraded", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	inventoryRepo := inventory.NewRepository(pool)
	catalogRepo := catalog.NewRepository(pool)
	costingService := costing.NewService(inventoryRepo, catalogRepo, logger)

	// The warmup job lists through the full service so cache keys and
	// payloads match what the API serves.
	allowAllPerms := workerPerms{}
	transferRepo := transfers.NewRepository(pool)
	transferCache := transfers.NewCache(redisClient, cfg.ListCacheTTL, logger)
	transferService := transfers.NewService(transferRepo, allowAllPerms, costingService, transferCache, auditLogger, idempotency, transfers.ServiceConfig{TxTimeout: cfg.TransferTxTimeout}, logger)

	recomputeJob := jobs.NewCostingRecomputeJob(costingService, pool, logger, nil)
	warmupJob := jobs.NewCacheWarmupJob(transferService, pool, logger, nil)

	recomputeTask, err := jobs.NewCostingRecomputeTask(time.Now().UTC())
	if err != nil {
		logger.Error("build recompute task", slog.Any("error", err))
		os.Exit(1)
	}
	warmupTask, err := jobs.NewCacheWarmupTask(time.Now().UTC())
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCostingRecompute, Handler: recomputeJob.Handle},
			{Type: jobs.TaskCacheWarmup, Handler: warmupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 2 * * *", Task: recomputeTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 5 * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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

// workerPerms grants full shop access; the worker acts as the system user.
type workerPerms struct{}

func (workerPerms) HasShopAccess(ctx context.Context, userID, shopID int64) (bool, error) {
	return true, nil
}

func (workerPerms) HasCapability(ctx context.Context, userID int64, capability string) (bool, error) {
	return true, nil
}
