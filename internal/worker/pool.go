// Package worker executes dispatched scans, either from an in-process
// channel or from the distributed job queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/config"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/logger"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

// Executor runs one scan job to completion.
type Executor interface {
	Execute(ctx context.Context, job *types.Job) error
}

// Abandoner is implemented by executors that record jobs which will never
// run, so their scans do not stay pending.
type Abandoner interface {
	Abandon(ctx context.Context, job *types.Job, reason string) error
}

var ErrPoolStopped = errors.New("worker pool stopped")

const backlog = 256

// Pool runs dispatched jobs on a fixed number of goroutines in this process.
type Pool struct {
	count  int
	jobs   chan *types.Job
	logger *logger.Logger

	mu       sync.RWMutex
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	group    *errgroup.Group
	exec     Executor
	statuses []*status
	// leftover holds jobs taken from the backlog after cancellation.
	leftover []*types.Job
}

func NewPool(cfg config.WorkerConfig, log *logger.Logger) *Pool {
	if log == nil {
		log = logger.Nop()
	}
	count := cfg.Count
	if count < 1 {
		count = 1
	}
	return &Pool{
		count:  count,
		jobs:   make(chan *types.Job, backlog),
		logger: log.WithComponent("worker-pool"),
	}
}

// Start launches the workers. Jobs dispatched before Start wait in the
// backlog.
func (p *Pool) Start(ctx context.Context, exec Executor) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("worker pool already started")
	}
	if p.stopped {
		return ErrPoolStopped
	}
	p.started = true
	p.exec = exec

	ctx, p.cancel = context.WithCancel(ctx)
	p.group, ctx = errgroup.WithContext(ctx)

	p.logger.Infow("Starting worker pool", "workers", p.count)

	for i := 0; i < p.count; i++ {
		st := newStatus(fmt.Sprintf("local-%d", i))
		p.statuses = append(p.statuses, st)
		p.group.Go(func() error {
			p.loop(ctx, exec, st)
			return nil
		})
	}
	return nil
}

func (p *Pool) loop(ctx context.Context, exec Executor, st *status) {
	log := p.logger.WithFields("worker_id", st.id)
	for {
		select {
		case <-ctx.Done():
			st.set("stopped", "")
			return
		case job, ok := <-p.jobs:
			if !ok {
				st.set("stopped", "")
				return
			}
			if ctx.Err() != nil {
				p.mu.Lock()
				p.leftover = append(p.leftover, job)
				p.mu.Unlock()
				st.set("stopped", "")
				return
			}
			runJob(ctx, log, exec, job, st)
		}
	}
}

// runJob executes one job, turning a panic into a logged error.
func runJob(ctx context.Context, log *logger.Logger, exec Executor, job *types.Job, st *status) (err error) {
	start := time.Now()
	st.set("processing", job.ID)
	ctx, span := log.StartOperation(ctx, "worker.executeJob",
		"job_id", job.ID,
		"scan_id", job.ScanID,
	)
	defer func() {
		if r := recover(); r != nil {
			log.LogPanic(ctx, r, "worker.executeJob", "job_id", job.ID)
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
		log.FinishOperation(ctx, span, "worker.executeJob", start, err, "job_id", job.ID)
		st.done()
	}()

	return exec.Execute(ctx, job)
}

// Dispatch queues job for local execution. It blocks while the backlog is
// full.
func (p *Pool) Dispatch(ctx context.Context, job *types.Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels running jobs and waits for the workers to exit. Jobs still in
// the backlog are handed to the executor's Abandon when it has one.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.jobs)
	cancel, group, exec := p.cancel, p.group, p.exec
	p.mu.Unlock()

	p.logger.Info("Stopping worker pool")
	var err error
	if cancel != nil {
		cancel()
		err = group.Wait()
	}
	p.abandonBacklog(exec)
	return err
}

func (p *Pool) abandonBacklog(exec Executor) {
	p.mu.Lock()
	pending := p.leftover
	p.leftover = nil
	p.mu.Unlock()
	for job := range p.jobs {
		pending = append(pending, job)
	}
	if len(pending) == 0 {
		return
	}
	p.logger.Infow("Discarding queued jobs", "count", len(pending))

	abandoner, ok := exec.(Abandoner)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, job := range pending {
		if err := abandoner.Abandon(ctx, job, ErrPoolStopped.Error()); err != nil {
			p.logger.Warnw("Failed to record abandoned job", "job_id", job.ID, "scan_id", job.ScanID, "error", err)
		}
	}
}

// Drain closes the backlog and waits for every queued job to finish.
func (p *Pool) Drain() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.jobs)
	cancel, group := p.cancel, p.group
	p.mu.Unlock()

	if group == nil {
		return nil
	}
	err := group.Wait()
	cancel()
	return err
}

func (p *Pool) Status() []*types.WorkerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	statuses := make([]*types.WorkerStatus, 0, len(p.statuses))
	for _, st := range p.statuses {
		statuses = append(statuses, st.snapshot())
	}
	return statuses
}
