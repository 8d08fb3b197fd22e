// Package workers provides the bounded goroutine pool the optimizer
// driver (C10) dispatches trials over. Grounded on the teacher's
// internal/workers/pool.go (semaphore-bounded worker goroutines, panic
// recovery, submit/stop lifecycle), trimmed of its generic
// batch/pipeline helpers — this engine has exactly one workload shape,
// "run one trial" — and of its per-task timeout, since spec §5 states
// there is no trial-level timeout that may interrupt a trial mid-FILL.
package workers

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents one trial dispatched to the pool.
type Task interface {
	Execute() error
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func() error

func (f TaskFunc) Execute() error { return f() }

// Pool runs trials on a bounded set of worker goroutines. Trial-to-worker
// affinity is not required (spec §5); work-stealing across the shared
// queue is sufficient.
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	taskQueue chan Task
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	metrics *PoolMetrics
}

// PoolConfig configures the pool.
type PoolConfig struct {
	Name            string
	NumWorkers      int
	QueueSize       int
	ShutdownTimeout time.Duration
	PanicRecovery   bool
}

// DefaultPoolConfig sizes the pool at min(threads, available cores), per
// spec §4.10's dispatch contract ("pool's size is
// min(config.threads, available_cores)"). threads <= 0 means "use every
// available core."
func DefaultPoolConfig(name string, threads int) *PoolConfig {
	cores := runtime.NumCPU()
	n := cores
	if threads > 0 && threads < cores {
		n = threads
	}
	return &PoolConfig{
		Name:            name,
		NumWorkers:      n,
		QueueSize:       n * 4,
		ShutdownTimeout: 30 * time.Second,
		PanicRecovery:   true,
	}
}

// PoolMetrics tracks dispatch counters, read through Pool.Metrics.
type PoolMetrics struct {
	TasksSubmitted int64
	TasksCompleted int64
	TasksFailed    int64
	PanicRecovered int64
}

// Snapshot returns a point-in-time copy of the counters.
func (m *PoolMetrics) Snapshot() PoolMetrics {
	return PoolMetrics{
		TasksSubmitted: atomic.LoadInt64(&m.TasksSubmitted),
		TasksCompleted: atomic.LoadInt64(&m.TasksCompleted),
		TasksFailed:    atomic.LoadInt64(&m.TasksFailed),
		PanicRecovered: atomic.LoadInt64(&m.PanicRecovered),
	}
}

// NewPool constructs an unstarted pool; call Start before Submit.
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig("optimizer", 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:    logger,
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		metrics:   &PoolMetrics{},
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}
	if p.logger != nil {
		p.logger.Info("starting trial dispatch pool",
			zap.String("name", p.config.Name),
			zap.Int("workers", p.config.NumWorkers),
		)
	}
	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
}

func (p *Pool) runWorker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.execute(id, task)
		}
	}
}

func (p *Pool) execute(workerID int, task Task) {
	var err error
	if p.config.PanicRecovery {
		func() {
			defer func() {
				if r := recover(); r != nil {
					atomic.AddInt64(&p.metrics.PanicRecovered, 1)
					if p.logger != nil {
						p.logger.Error("worker recovered from panic", zap.Int("worker", workerID), zap.Any("panic", r))
					}
					err = &PanicError{Recovered: r}
				}
			}()
			err = task.Execute()
		}()
	} else {
		err = task.Execute()
	}

	if err != nil {
		atomic.AddInt64(&p.metrics.TasksFailed, 1)
	} else {
		atomic.AddInt64(&p.metrics.TasksCompleted, 1)
	}
}

// Submit enqueues task, blocking until there is room. Trials are never
// silently dropped under backpressure.
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}
	select {
	case p.taskQueue <- task:
		atomic.AddInt64(&p.metrics.TasksSubmitted, 1)
		return nil
	case <-p.ctx.Done():
		return ErrPoolStopped
	}
}

// SubmitFunc submits a plain function as a task.
func (p *Pool) SubmitFunc(fn func() error) error {
	return p.Submit(TaskFunc(fn))
}

// RunAll submits every task and blocks until all have completed. Each
// task is responsible for recording its own result (typically by
// closing over an indexed slot); RunAll only provides the barrier.
func (p *Pool) RunAll(tasks []Task) {
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for _, t := range tasks {
		t := t
		if err := p.Submit(TaskFunc(func() error {
			defer wg.Done()
			return t.Execute()
		})); err != nil {
			wg.Done()
		}
	}
	wg.Wait()
}

// Stop signals every worker to exit and waits up to ShutdownTimeout.
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}
	if p.logger != nil {
		p.logger.Info("stopping trial dispatch pool", zap.String("name", p.config.Name))
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		return ErrShutdownTimeout
	}
}

// IsRunning reports whether the pool is accepting work.
func (p *Pool) IsRunning() bool { return p.running.Load() }

// Metrics returns the pool's live dispatch counters.
func (p *Pool) Metrics() *PoolMetrics { return p.metrics }

var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
)

// PoolError reports a pool lifecycle failure.
type PoolError struct{ Message string }

func (e *PoolError) Error() string { return e.Message }

// PanicError wraps a recovered panic from a trial so it is counted as a
// failed task (PoolMetrics.TasksFailed, PanicRecovered) instead of
// crashing the worker. RunAll does not hand it back to the submitter.
type PanicError struct{ Recovered interface{} }

func (e *PanicError) Error() string { return "panic recovered" }
