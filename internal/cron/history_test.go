package cron

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_Lifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cron", "history.db")
	h, err := OpenHistory(path)
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	id, err := h.Start(ctx, "aaaa1111", "alice", base, base.Add(time.Second))
	require.NoError(t, err)

	runs, err := h.Recent(ctx, "aaaa1111", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, FireRunning, runs[0].Status)
	assert.Nil(t, runs[0].FinishedAt)

	require.NoError(t, h.Finish(ctx, id, FireSucceeded, base.Add(3*time.Second), ""))
	assert.Error(t, h.Finish(ctx, "missing", FireFailed, base, "x"))
	require.NoError(t, h.Close())

	// reopen: history survives restarts
	h, err = OpenHistory(path)
	require.NoError(t, err)
	defer h.Close()

	runs, err = h.Recent(ctx, "aaaa1111", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, FireSucceeded, runs[0].Status)
	assert.Equal(t, "alice", runs[0].UserID)
	assert.Equal(t, base, runs[0].ScheduledAt)
	require.NotNil(t, runs[0].FinishedAt)
	assert.Equal(t, base.Add(3*time.Second), *runs[0].FinishedAt)
}

func TestHistory_RecentIsNewestFirstAndLimited(t *testing.T) {
	h, err := OpenHistory(":memory:")
	require.NoError(t, err)
	defer h.Close()
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		at := base.Add(time.Duration(i) * time.Minute).Add(time.Duration(i%3) * 100 * time.Millisecond)
		_, err := h.Start(ctx, "aaaa1111", "alice", at, at)
		require.NoError(t, err)
	}
	require.NoError(t, h.Dropped(ctx, "bbbb2222", "bob", base, base, "worker queue is full"))

	runs, err := h.Recent(ctx, "aaaa1111", 0)
	require.NoError(t, err)
	require.Len(t, runs, DefaultRunsLimit)
	for i := 1; i < len(runs); i++ {
		assert.True(t, runs[i-1].StartedAt.After(runs[i].StartedAt))
	}

	runs, err = h.Recent(ctx, "bbbb2222", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, FireDropped, runs[0].Status)

	runs, err = h.Recent(ctx, "cccc3333", 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
