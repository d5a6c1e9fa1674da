package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCostingRecompute resynchronises every product's global weighted
	// average cost against the stock rows.
	TaskCostingRecompute = "costing:recompute"
	// TaskCacheWarmup pre-populates the transfer listing cache.
	TaskCacheWarmup = "cache:warmup"
)

// CostingRecomputePayload carries scheduling metadata for the nightly resync.
type CostingRecomputePayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewCostingRecomputeTask constructs the resync task.
func NewCostingRecomputeTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(CostingRecomputePayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCostingRecompute, body, asynq.Queue(QueueDefault)), nil
}

// CacheWarmupPayload carries scheduling metadata for the warmup run.
type CacheWarmupPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewCacheWarmupTask constructs the warmup task.
func NewCacheWarmupTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(CacheWarmupPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCacheWarmup, body, asynq.Queue(QueueDefault)), nil
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueCostingRecompute enqueues an immediate full resync.
func (c *Client) EnqueueCostingRecompute(ctx context.Context) (*asynq.TaskInfo, error) {
	task, err := NewCostingRecomputeTask(time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
