package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/stockline-erp/stockline/internal/app"
	"github.com/stockline-erp/stockline/internal/auth"
	"github.com/stockline-erp/stockline/internal/catalog"
	"github.com/stockline-erp/stockline/internal/costing"
	"github.com/stockline-erp/stockline/internal/integration"
	"github.com/stockline-erp/stockline/internal/inventory"
	"github.com/stockline-erp/stockline/internal/observability"
	"github.com/stockline-erp/stockline/internal/platform/cache"
	"github.com/stockline-erp/stockline/internal/platform/db"
	"github.com/stockline-erp/stockline/internal/rbac"
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
		logger.Error("connect postgres", slog.Any("error", err))
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

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	authService := auth.NewService(pool, logger)
	rbacService := rbac.NewService(pool)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	inventoryRepo := inventory.NewRepository(pool)
	catalogRepo := catalog.NewRepository(pool)
	costingService := costing.NewService(inventoryRepo, catalogRepo, logger)

	catalogService := catalog.NewService(catalogRepo, auditLogger)
	catalogHandler := catalog.NewHandler(logger, catalogService, rbacMiddleware)

	transferRepo := transfers.NewRepository(pool)
	transferCache := transfers.NewCache(redisClient, cfg.ListCacheTTL, logger)
	transferCache.SetMetrics(metrics)
	transferService := transfers.NewService(transferRepo, rbacService, costingService, transferCache, auditLogger, idempotency, transfers.ServiceConfig{TxTimeout: cfg.TransferTxTimeout}, logger)
	transferService.SetMetrics(metrics)
	transferService.SetIntegration(integration.NewHooks(cfg.TransferWebhookURL, logger))
	transferHandler := transfers.NewHandler(transferService, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Metrics:          metrics,
		AuthMiddleware:   authService.Middleware,
		TransfersHandler: transferHandler,
		CatalogHandler:   catalogHandler,
		JobHandler:       jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
