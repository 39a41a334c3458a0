package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/xavier/internal/logger"
)

func TestPool_RunsTasks(t *testing.T) {
	pool := NewPool(2, 10, logger.Discard())
	pool.Start()

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.TrySubmit(Task{ID: "t", Type: "fire", Run: func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}}))
	}

	require.NoError(t, pool.Stop(context.Background()))
	assert.Equal(t, int32(5), ran.Load())

	m := pool.Metrics()
	assert.Equal(t, uint64(5), m.TasksSubmitted)
	assert.Equal(t, uint64(5), m.TasksCompleted)
}

func TestPool_TrySubmitFullQueue(t *testing.T) {
	pool := NewPool(1, 1, logger.Discard())
	pool.Start()

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.TrySubmit(Task{ID: "busy", Run: func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	}}))
	<-started
	require.NoError(t, pool.TrySubmit(Task{ID: "queued", Run: func(ctx context.Context) error { return nil }}))

	err := pool.TrySubmit(Task{ID: "dropped", Run: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, uint64(1), pool.Metrics().TasksRejected)

	close(block)
	require.NoError(t, pool.Stop(context.Background()))
}

func TestPool_SubmitWaitsForContext(t *testing.T) {
	pool := NewPool(1, 1, logger.Discard())
	pool.Start()

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.TrySubmit(Task{ID: "busy", Run: func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	}}))
	<-started
	require.NoError(t, pool.TrySubmit(Task{ID: "queued", Run: func(ctx context.Context) error { return nil }}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, Task{ID: "late", Run: func(ctx context.Context) error { return nil }})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	close(block)
	require.NoError(t, pool.Stop(context.Background()))
}

func TestPool_FailuresAndPanics(t *testing.T) {
	pool := NewPool(2, 4, logger.Discard())
	pool.Start()

	require.NoError(t, pool.TrySubmit(Task{ID: "err", Run: func(ctx context.Context) error { return errors.New("nope") }}))
	require.NoError(t, pool.TrySubmit(Task{ID: "panic", Run: func(ctx context.Context) error { panic("boom") }}))
	require.NoError(t, pool.TrySubmit(Task{ID: "nil"}))
	require.NoError(t, pool.TrySubmit(Task{ID: "ok", Run: func(ctx context.Context) error { return nil }}))

	require.NoError(t, pool.Stop(context.Background()))

	m := pool.Metrics()
	assert.Equal(t, uint64(3), m.TasksFailed)
	assert.Equal(t, uint64(1), m.TasksCompleted)
}

func TestPool_TaskTimeout(t *testing.T) {
	pool := NewPool(1, 1, logger.Discard())
	pool.Start()

	var got error
	var mu sync.Mutex
	require.NoError(t, pool.TrySubmit(Task{ID: "slow", Timeout: 20 * time.Millisecond, Run: func(ctx context.Context) error {
		<-ctx.Done()
		mu.Lock()
		got = ctx.Err()
		mu.Unlock()
		return ctx.Err()
	}}))

	require.NoError(t, pool.Stop(context.Background()))
	mu.Lock()
	defer mu.Unlock()
	assert.ErrorIs(t, got, context.DeadlineExceeded)
}

func TestPool_StopCancelsOnDeadline(t *testing.T) {
	pool := NewPool(1, 1, logger.Discard())
	pool.Start()

	started := make(chan struct{})
	require.NoError(t, pool.TrySubmit(Task{ID: "hang", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Stop(ctx), context.DeadlineExceeded)

	assert.ErrorIs(t, pool.TrySubmit(Task{ID: "after"}), ErrPoolStopped)
	assert.NoError(t, pool.Stop(context.Background()))
}

func TestNewPool_Defaults(t *testing.T) {
	pool := NewPool(0, 0, logger.Discard())
	assert.Equal(t, DefaultPoolSize, pool.WorkerCount())
	assert.Zero(t, pool.QueueSize())
}
