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
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Recomputer resynchronises global weighted average costs.
type Recomputer interface {
	RecomputeProducts(ctx context.Context, productIDs []int64) error
}

// CostingRecomputeJob walks every product and recomputes its global weighted
// average cost from the stock rows. It backstops the per-transfer recompute:
// a product whose post-commit recompute failed is picked up on the next run.
type CostingRecomputeJob struct {
	Costing Recomputer
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewCostingRecomputeJob wires dependencies for the resync handler.
func NewCostingRecomputeJob(costingSvc Recomputer, pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *CostingRecomputeJob {
	return &CostingRecomputeJob{
		Costing: costingSvc,
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes costing resync tasks.
func (j *CostingRecomputeJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("costing recompute: handler not configured")
	}
	var payload CostingRecomputePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskCostingRecompute)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	start := j.now()
	logger.Info("starting costing resync")

	productIDs, err := j.fetchProductIDs(ctx)
	if err != nil {
		resultErr = err
		logger.Error("load products", slog.Any("error", err))
		return resultErr
	}
	if len(productIDs) == 0 {
		logger.Info("no products to resync")
		return resultErr
	}

	// Chunked so a single slow product cannot stall the whole run past the
	// task deadline.
	const chunkSize = 200
	resynced := 0
	for offset := 0; offset < len(productIDs); offset += chunkSize {
		end := offset + chunkSize
		if end > len(productIDs) {
			end = len(productIDs)
		}
		chunkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := j.Costing.RecomputeProducts(chunkCtx, productIDs[offset:end])
		cancel()
		if err != nil {
			resultErr = err
			logger.Error("resync chunk", slog.Int("offset", offset), slog.Any("error", err))
			return resultErr
		}
		resynced += end - offset
	}

	logger.Info("completed costing resync", slog.Int("products", resynced), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *CostingRecomputeJob) fetchProductIDs(ctx context.Context) ([]int64, error) {
	if j.Pool == nil {
		return nil, errors.New("costing recompute: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `SELECT id FROM products ORDER BY id`)
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

func (j *CostingRecomputeJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCostingRecompute))
	}
	return slog.Default().With(slog.String("job", TaskCostingRecompute))
}

func (j *CostingRecomputeJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *CostingRecomputeJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
