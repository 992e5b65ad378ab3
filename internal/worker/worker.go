package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/config"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/logger"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

// QueueWorker pulls jobs from the distributed queue.
type QueueWorker struct {
	queue  core.JobQueue
	exec   Executor
	cfg    config.WorkerConfig
	status *status
	logger *logger.Logger
}

func NewQueueWorker(queue core.JobQueue, exec Executor, cfg config.WorkerConfig, log *logger.Logger) *QueueWorker {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.QueuePollInterval <= 0 {
		cfg.QueuePollInterval = 2 * time.Second
	}
	st := newStatus(uuid.New().String())
	return &QueueWorker{
		queue:  queue,
		exec:   exec,
		cfg:    cfg,
		status: st,
		logger: log.WithComponent("worker").WithFields("worker_id", st.id, "hostname", st.hostname),
	}
}

func (w *QueueWorker) ID() string { return w.status.id }

func (w *QueueWorker) Status() *types.WorkerStatus { return w.status.snapshot() }

// Run processes jobs until ctx is cancelled.
func (w *QueueWorker) Run(ctx context.Context) error {
	w.logger.Infow("Worker started", "poll_interval", w.cfg.QueuePollInterval)
	w.status.set("active", "")

	for {
		if ctx.Err() != nil {
			w.status.set("stopped", "")
			w.logger.Infow("Worker stopped", "jobs_completed", w.Status().JobsComplete)
			return nil
		}

		processed, err := w.ProcessNext(ctx)
		if err != nil {
			w.logger.LogError(ctx, err, "worker.processJob")
		}
		if processed && err == nil {
			continue
		}

		wait := w.cfg.QueuePollInterval
		if err != nil && w.cfg.RetryDelay > 0 {
			wait = w.cfg.RetryDelay
		}
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
}

// ProcessNext pops and executes a single job. It reports whether a job was
// available.
func (w *QueueWorker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.queue.Pop(ctx, w.status.id)
	if err != nil {
		return false, fmt.Errorf("failed to pop job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	log := w.logger.WithScanID(job.ScanID)
	log.Infow("Processing job", "job_id", job.ID, "retries", job.Retries)

	execErr := runJob(ctx, log, w.exec, job, w.status)

	// Queue bookkeeping must survive shutdown.
	bookCtx := context.WithoutCancel(ctx)

	if execErr == nil {
		if err := w.queue.Complete(bookCtx, job.ID); err != nil {
			return true, fmt.Errorf("failed to complete job %s: %w", job.ID, err)
		}
		return true, nil
	}

	// A scan that ran and faulted is already recorded as failed.
	retryable := !errors.Is(execErr, core.ErrOrchestratorFault) && ctx.Err() == nil
	if retryable && job.Retries < w.cfg.MaxRetries {
		log.Warnw("Job failed, retrying", "job_id", job.ID, "attempt", job.Retries+1, "max_retries", w.cfg.MaxRetries, "error", execErr.Error())
		if err := w.queue.Retry(bookCtx, job.ID); err != nil {
			return true, fmt.Errorf("failed to retry job %s: %w", job.ID, err)
		}
		return true, nil
	}

	if err := w.queue.Fail(bookCtx, job.ID, execErr.Error()); err != nil {
		return true, fmt.Errorf("failed to mark job %s failed: %w", job.ID, err)
	}
	return true, nil
}

// RunQueueWorkers runs count workers against queue until ctx is cancelled.
func RunQueueWorkers(ctx context.Context, queue core.JobQueue, exec Executor, cfg config.WorkerConfig, log *logger.Logger) error {
	count := cfg.Count
	if count < 1 {
		count = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < count; i++ {
		w := NewQueueWorker(queue, exec, cfg, log)
		g.Go(func() error {
			return w.Run(ctx)
		})
	}
	return g.Wait()
}
