package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProvider_Script(t *testing.T) {
	boom := errors.New("boom")
	m := NewMockProvider(
		CallTools(ToolCall{ID: "1", Name: "list_files", Arguments: "{}"}),
		Reply("done"),
		MockStep{Err: boom},
	)
	ctx := context.Background()

	r1, err := m.Chat(ctx, ChatRequest{})
	require.NoError(t, err)
	assert.Len(t, r1.ToolCalls, 1)

	r2, err := m.Chat(ctx, ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "done", r2.Content)

	_, err = m.Chat(ctx, ChatRequest{})
	assert.ErrorIs(t, err, boom)

	r4, err := m.Chat(ctx, ChatRequest{Messages: []Message{{Role: RoleUser, Content: "ping"}}})
	require.NoError(t, err)
	assert.Equal(t, "Echo: ping", r4.Content)

	assert.Equal(t, 4, m.CallCount())
	assert.Len(t, m.Requests(), 4)
}

func TestTokenBucketRateLimiter(t *testing.T) {
	rl := NewTokenBucketRateLimiter(2, time.Hour, 1)

	ok, _ := rl.TryAcquire()
	assert.True(t, ok)
	ok, _ = rl.TryAcquire()
	assert.True(t, ok)
	ok, wait := rl.TryAcquire()
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, rl.Wait(ctx), context.Canceled)

	m := rl.Metrics()
	assert.Equal(t, int64(2), m.AllowedRequests)
	assert.GreaterOrEqual(t, m.RejectedRequests, int64(1))
}

func TestPerMinute(t *testing.T) {
	assert.Nil(t, PerMinute(0))
	assert.NotNil(t, PerMinute(30))
}
