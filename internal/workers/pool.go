package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aatumaykin/xavier/internal/logger"
)

// Pool manages a fixed set of goroutine workers fed from a bounded queue.
type Pool struct {
	queue   chan Task
	workers int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *logger.Logger

	mu      sync.RWMutex // guards closed and metrics
	closed  bool
	metrics PoolMetrics
}

// NewPool creates a pool. Non-positive sizes fall back to the defaults.
func NewPool(workers, queueSize int, log *logger.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultPoolSize
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:   make(chan Task, queueSize),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	p.logger.Info("starting worker pool",
		logger.Field{Key: "workers", Value: p.workers},
		logger.Field{Key: "queue_size", Value: cap(p.queue)})

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// TrySubmit enqueues task without blocking. It returns ErrQueueFull when
// every slot is taken.
func (p *Pool) TrySubmit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolStopped
	}
	select {
	case p.queue <- task:
		p.metrics.TasksSubmitted++
		return nil
	default:
		p.metrics.TasksRejected++
		return ErrQueueFull
	}
}

// Submit enqueues task, waiting for a free slot until ctx is done.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	for {
		err := p.TrySubmit(task)
		if !errors.Is(err, ErrQueueFull) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Stop refuses new tasks, lets the workers drain the queue and waits for
// them. If ctx ends first, running tasks are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		<-done
		err = ctx.Err()
	}
	p.cancel()

	m := p.Metrics()
	p.logger.Info("worker pool stopped",
		logger.Field{Key: "tasks_submitted", Value: m.TasksSubmitted},
		logger.Field{Key: "tasks_completed", Value: m.TasksCompleted},
		logger.Field{Key: "tasks_failed", Value: m.TasksFailed},
		logger.Field{Key: "tasks_rejected", Value: m.TasksRejected})
	return err
}

func (p *Pool) WorkerCount() int {
	return p.workers
}

// QueueSize returns the number of tasks waiting in the queue.
func (p *Pool) QueueSize() int {
	return len(p.queue)
}

// Metrics returns a snapshot of the pool counters.
func (p *Pool) Metrics() PoolMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.metrics
}

func (p *Pool) record(err error, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.metrics.TasksFailed++
	} else {
		p.metrics.TasksCompleted++
	}
	p.metrics.TotalDuration += d
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for task := range p.queue {
		p.process(id, task)
	}
}

func (p *Pool) process(workerID int, task Task) {
	start := time.Now()

	ctx := p.ctx
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	err := p.run(ctx, task)
	d := time.Since(start)
	p.record(err, d)

	if err != nil {
		p.logger.ErrorCtx(ctx, "task failed", err,
			logger.Field{Key: "worker_id", Value: workerID},
			logger.Field{Key: "task_id", Value: task.ID},
			logger.Field{Key: "task_type", Value: task.Type},
			logger.Field{Key: "duration_ms", Value: d.Milliseconds()})
		return
	}
	p.logger.DebugCtx(ctx, "task processed",
		logger.Field{Key: "worker_id", Value: workerID},
		logger.Field{Key: "task_id", Value: task.ID},
		logger.Field{Key: "task_type", Value: task.Type},
		logger.Field{Key: "duration_ms", Value: d.Milliseconds()})
}

// run executes task.Run, turning a panic into an error so one bad task never
// takes a worker down.
func (p *Pool) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if task.Run == nil {
		return fmt.Errorf("task %s has no run function", task.ID)
	}
	return task.Run(ctx)
}
