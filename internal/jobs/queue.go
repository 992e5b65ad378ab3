// Package jobs is the redis-backed scan queue used in distributed mode.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/config"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

const (
	queuePending    = "websentry:queue:pending"
	queueProcessing = "websentry:queue:processing"
	queueFailed     = "websentry:queue:failed"
	jobPrefix       = "websentry:job:"
	workerPrefix    = "websentry:worker:"

	jobTTL = 24 * time.Hour
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

type RedisQueue struct {
	client *redis.Client
}

var _ core.JobQueue = (*RedisQueue)(nil)

func NewRedisQueue(ctx context.Context, cfg config.RedisConfig) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisQueue{client: client}, nil
}

// Dispatch enqueues a scan job; it lets the queue stand in for the
// in-process pool behind the scan service.
func (q *RedisQueue) Dispatch(ctx context.Context, job *types.Job) error {
	return q.Push(ctx, job)
}

func (q *RedisQueue) Push(ctx context.Context, job *types.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	job.Status = StatusPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobPrefix+job.ID, data, jobTTL)
	pipe.ZAdd(ctx, queuePending, redis.Z{
		Score:  float64(job.CreatedAt.UnixNano()),
		Member: job.ID,
	})

	_, err = pipe.Exec(ctx)
	return err
}

// Pop claims the oldest pending job for workerID. It returns nil, nil when
// the queue is empty.
func (q *RedisQueue) Pop(ctx context.Context, workerID string) (*types.Job, error) {
	members, err := q.client.ZPopMin(ctx, queuePending, 1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	jobID, ok := members[0].Member.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected queue member %v", members[0].Member)
	}

	job, err := q.GetStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}

	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal updated job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobPrefix+jobID, data, jobTTL)
	pipe.HSet(ctx, queueProcessing, jobID, workerID)
	pipe.Set(ctx, workerPrefix+workerID+":current", jobID, time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		q.client.ZAdd(context.WithoutCancel(ctx), queuePending, redis.Z{
			Score:  members[0].Score,
			Member: jobID,
		})
		return nil, fmt.Errorf("failed to update job status: %w", err)
	}

	return job, nil
}

func (q *RedisQueue) Complete(ctx context.Context, jobID string) error {
	return q.finish(ctx, jobID, StatusCompleted, "")
}

func (q *RedisQueue) Fail(ctx context.Context, jobID string, reason string) error {
	return q.finish(ctx, jobID, StatusFailed, reason)
}

func (q *RedisQueue) finish(ctx context.Context, jobID, status, reason string) error {
	job, err := q.GetStatus(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = status
	job.Error = reason
	job.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal updated job: %w", err)
	}

	workerID, _ := q.client.HGet(ctx, queueProcessing, jobID).Result()

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobPrefix+jobID, data, jobTTL)
	pipe.HDel(ctx, queueProcessing, jobID)
	if status == StatusFailed {
		pipe.ZAdd(ctx, queueFailed, redis.Z{
			Score:  float64(time.Now().Unix()),
			Member: jobID,
		})
	}
	if workerID != "" {
		pipe.Del(ctx, workerPrefix+workerID+":current")
	}

	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Retry(ctx context.Context, jobID string) error {
	job, err := q.GetStatus(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = StatusPending
	job.Retries++
	job.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal updated job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobPrefix+jobID, data, jobTTL)
	pipe.HDel(ctx, queueProcessing, jobID)
	pipe.ZRem(ctx, queueFailed, jobID)
	pipe.ZAdd(ctx, queuePending, redis.Z{
		Score:  float64(job.UpdatedAt.UnixNano()),
		Member: jobID,
	})

	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) GetStatus(ctx context.Context, jobID string) (*types.Job, error) {
	data, err := q.client.Get(ctx, jobPrefix+jobID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("job %s: %w", jobID, core.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job data: %w", err)
	}

	var job types.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// Pending lists queued job IDs oldest first.
func (q *RedisQueue) Pending(ctx context.Context) ([]string, error) {
	ids, err := q.client.ZRange(ctx, queuePending, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get pending jobs: %w", err)
	}
	return ids, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
