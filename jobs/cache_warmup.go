package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/stockline-erp/stockline/internal/jobs"
	"github.com/stockline-erp/stockline/internal/transfers"
)

// TransferLister serves transfer listings, populating the cache on a miss.
type TransferLister interface {
	List(ctx context.Context, req transfers.ListRequest) (transfers.ListResult, error)
}

// CacheWarmupJob pre-populates the listing cache with the first page of the
// unscoped view plus each active shop's scoped view, the pages the back
// office opens first every morning.
type CacheWarmupJob struct {
	Transfers TransferLister
	Pool      *pgxpool.Pool
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewCacheWarmupJob wires dependencies for the warmup handler.
func NewCacheWarmupJob(transfersSvc TransferLister, pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheWarmupJob {
	return &CacheWarmupJob{Transfers: transfersSvc, Pool: pool, Logger: logger, Metrics: metrics}
}

// Handle processes warmup tasks.
func (j *CacheWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("cache warmup: handler not configured")
	}
	var payload CacheWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskCacheWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	start := time.Now()

	shopIDs, err := j.fetchActiveShops(ctx)
	if err != nil {
		resultErr = err
		logger.Error("load active shops", slog.Any("error", err))
		return resultErr
	}

	warmed := 0
	if err := j.warm(ctx, transfers.ListRequest{Page: 1, PerPage: 20}); err != nil {
		resultErr = err
		logger.Error("warm unscoped listing", slog.Any("error", err))
		return resultErr
	}
	warmed++
	for _, shopID := range shopIDs {
		if err := j.warm(ctx, transfers.ListRequest{Page: 1, PerPage: 20, ShopID: shopID}); err != nil {
			resultErr = err
			logger.Error("warm shop listing", slog.Int64("shop_id", shopID), slog.Any("error", err))
			return resultErr
		}
		warmed++
	}

	logger.Info("completed cache warmup", slog.Int("listings", warmed), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *CacheWarmupJob) warm(ctx context.Context, req transfers.ListRequest) error {
	warmCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := j.Transfers.List(warmCtx, req)
	return err
}

func (j *CacheWarmupJob) fetchActiveShops(ctx context.Context) ([]int64, error) {
	if j.Pool == nil {
		return nil, errors.New("cache warmup: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `SELECT id FROM shops WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (j *CacheWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCacheWarmup))
	}
	return slog.Default().With(slog.String("job", TaskCacheWarmup))
}

func (j *CacheWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
