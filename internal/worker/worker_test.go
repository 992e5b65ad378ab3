package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/config"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type funcExecutor func(ctx context.Context, job *types.Job) error

func (f funcExecutor) Execute(ctx context.Context, job *types.Job) error { return f(ctx, job) }

// memoryQueue is an in-memory core.JobQueue.
type memoryQueue struct {
	mu      sync.Mutex
	pending []*types.Job
	jobs    map[string]*types.Job
	popErr  error
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{jobs: make(map[string]*types.Job)}
}

func (q *memoryQueue) Push(_ context.Context, job *types.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Status = "pending"
	q.jobs[job.ID] = job
	q.pending = append(q.pending, job)
	return nil
}

func (q *memoryQueue) Pop(context.Context, string) (*types.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.popErr != nil {
		return nil, q.popErr
	}
	if len(q.pending) == 0 {
		return nil, nil
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	job.Status = "processing"
	copied := *job
	return &copied, nil
}

func (q *memoryQueue) set(jobID string, fn func(*types.Job)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return core.ErrNotFound
	}
	fn(job)
	return nil
}

func (q *memoryQueue) Complete(_ context.Context, jobID string) error {
	return q.set(jobID, func(j *types.Job) { j.Status = "completed" })
}

func (q *memoryQueue) Fail(_ context.Context, jobID, reason string) error {
	return q.set(jobID, func(j *types.Job) { j.Status = "failed"; j.Error = reason })
}

func (q *memoryQueue) Retry(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job := q.jobs[jobID]
	job.Retries++
	job.Status = "pending"
	q.pending = append(q.pending, job)
	return nil
}

func (q *memoryQueue) GetStatus(_ context.Context, jobID string) (*types.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return nil, core.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (q *memoryQueue) Close() error { return nil }

func TestPool_RunsDispatchedJobs(t *testing.T) {
	var ran int32
	exec := funcExecutor(func(ctx context.Context, job *types.Job) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	pool := NewPool(config.WorkerConfig{Count: 3}, nil)
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Dispatch(context.Background(), &types.Job{ID: fmt.Sprintf("job-%d", i)}))
	}
	require.NoError(t, pool.Start(context.Background(), exec))
	assert.Error(t, pool.Start(context.Background(), exec), "double start")

	require.NoError(t, pool.Drain())
	assert.Equal(t, int32(5), atomic.LoadInt32(&ran))

	total := 0
	for _, st := range pool.Status() {
		total += st.JobsComplete
		assert.Equal(t, "stopped", st.Status)
	}
	assert.Equal(t, 5, total)

	assert.ErrorIs(t, pool.Dispatch(context.Background(), &types.Job{ID: "late"}), ErrPoolStopped)
}

func TestPool_StopCancelsRunningJobs(t *testing.T) {
	started := make(chan struct{})
	exec := funcExecutor(func(ctx context.Context, job *types.Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	pool := NewPool(config.WorkerConfig{Count: 1}, nil)
	require.NoError(t, pool.Start(context.Background(), exec))
	require.NoError(t, pool.Dispatch(context.Background(), &types.Job{ID: "long"}))

	<-started
	require.NoError(t, pool.Stop())
	require.NoError(t, pool.Stop())
}

type abandoningExecutor struct {
	funcExecutor

	mu        sync.Mutex
	abandoned []string
}

func (e *abandoningExecutor) Abandon(_ context.Context, job *types.Job, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.abandoned = append(e.abandoned, job.ID+": "+reason)
	return nil
}

func TestPool_StopAbandonsBacklog(t *testing.T) {
	started := make(chan struct{}, 4)
	var ran int32
	exec := &abandoningExecutor{funcExecutor: func(ctx context.Context, job *types.Job) error {
		atomic.AddInt32(&ran, 1)
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}}

	pool := NewPool(config.WorkerConfig{Count: 1}, nil)
	require.NoError(t, pool.Start(context.Background(), exec))
	for i := 0; i < 4; i++ {
		require.NoError(t, pool.Dispatch(context.Background(), &types.Job{ID: fmt.Sprintf("job-%d", i)}))
	}

	<-started
	require.NoError(t, pool.Stop())

	exec.mu.Lock()
	defer exec.mu.Unlock()
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
	assert.Len(t, exec.abandoned, 3)
	for _, entry := range exec.abandoned {
		assert.Contains(t, entry, ErrPoolStopped.Error())
	}
}

func TestPool_RecoversPanics(t *testing.T) {
	var calls int32
	exec := funcExecutor(func(ctx context.Context, job *types.Job) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("boom")
		}
		return nil
	})

	pool := NewPool(config.WorkerConfig{Count: 1}, nil)
	require.NoError(t, pool.Start(context.Background(), exec))
	require.NoError(t, pool.Dispatch(context.Background(), &types.Job{ID: "a"}))
	require.NoError(t, pool.Dispatch(context.Background(), &types.Job{ID: "b"}))
	require.NoError(t, pool.Drain())

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestQueueWorker_ProcessNext(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		execErr    error
		wantStatus string
		wantRetry  int
	}{
		{name: "success completes", wantStatus: "completed"},
		{name: "failure without retries fails", execErr: errors.New("store down"), wantStatus: "failed"},
		{name: "failure with retries requeues", maxRetries: 2, execErr: errors.New("store down"), wantStatus: "pending", wantRetry: 1},
		{name: "orchestrator fault is not retried", maxRetries: 2, execErr: fmt.Errorf("%w: target does not resolve", core.ErrOrchestratorFault), wantStatus: "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := newMemoryQueue()
			require.NoError(t, queue.Push(context.Background(), &types.Job{ID: "job-1", ScanID: "scan-1"}))

			exec := funcExecutor(func(ctx context.Context, job *types.Job) error { return tt.execErr })
			w := NewQueueWorker(queue, exec, config.WorkerConfig{MaxRetries: tt.maxRetries}, nil)

			processed, err := w.ProcessNext(context.Background())
			require.NoError(t, err)
			assert.True(t, processed)

			job, err := queue.GetStatus(context.Background(), "job-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, job.Status)
			assert.Equal(t, tt.wantRetry, job.Retries)
		})
	}
}

func TestQueueWorker_EmptyQueue(t *testing.T) {
	w := NewQueueWorker(newMemoryQueue(), funcExecutor(func(context.Context, *types.Job) error { return nil }), config.WorkerConfig{}, nil)
	processed, err := w.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestQueueWorker_PopError(t *testing.T) {
	queue := newMemoryQueue()
	queue.popErr = errors.New("connection reset")
	w := NewQueueWorker(queue, funcExecutor(func(context.Context, *types.Job) error { return nil }), config.WorkerConfig{}, nil)

	_, err := w.ProcessNext(context.Background())
	assert.ErrorContains(t, err, "connection reset")
}

func TestRunQueueWorkers_StopsOnCancel(t *testing.T) {
	queue := newMemoryQueue()
	for i := 0; i < 4; i++ {
		require.NoError(t, queue.Push(context.Background(), &types.Job{ID: fmt.Sprintf("job-%d", i)}))
	}

	var ran int32
	ctx, cancel := context.WithCancel(context.Background())
	exec := funcExecutor(func(context.Context, *types.Job) error {
		if atomic.AddInt32(&ran, 1) == 4 {
			cancel()
		}
		return nil
	})

	cfg := config.WorkerConfig{Count: 2, QueuePollInterval: 10 * time.Millisecond}
	require.NoError(t, RunQueueWorkers(ctx, queue, exec, cfg, nil))
	assert.Equal(t, int32(4), atomic.LoadInt32(&ran))
}
