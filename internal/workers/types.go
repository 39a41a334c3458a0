// Package workers provides a bounded goroutine pool for background work. The
// scheduler uses it so that a slow trigger never stalls its timer loop.
package workers

import (
	"context"
	"errors"
	"time"
)

var (
	ErrQueueFull   = errors.New("worker queue is full")
	ErrPoolStopped = errors.New("worker pool is stopped")
)

// Task is a unit of work executed by a worker.
type Task struct {
	ID      string        // Unique task identifier, for logs
	Type    string        // Task type, for logs
	Timeout time.Duration // Optional per-task deadline
	Run     func(ctx context.Context) error
}

// PoolMetrics tracks execution metrics for the worker pool.
type PoolMetrics struct {
	TasksSubmitted uint64
	TasksRejected  uint64
	TasksCompleted uint64
	TasksFailed    uint64
	TotalDuration  time.Duration
}

const (
	DefaultPoolSize  = 4
	DefaultQueueSize = 64
)
