package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/xavier/internal/logger"
)

func newTestProvider(t *testing.T, url string, cfg OpenAIConfig) *OpenAIProvider {
	t.Helper()
	cfg.BaseURL = url
	if cfg.APIKey == "" {
		cfg.APIKey = "sk-test"
	}
	return NewOpenAIProvider(cfg, logger.Discard())
}

func TestOpenAIProvider_ChatFinalAnswer(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"deepseek-chat","choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL, OpenAIConfig{Temperature: 0.7, MaxTokens: 2048})
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Tools: []ToolDefinition{{
			Name:        "read_file",
			Description: "Read a file",
			Parameters:  map[string]any{"type": "object"},
		}},
	})

	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, FinishReasonStop, resp.FinishReason)
	assert.Equal(t, 4, resp.Usage.TotalTokens)

	assert.Equal(t, "deepseek-chat", got["model"])
	assert.Equal(t, 0.7, got["temperature"])
	assert.Equal(t, "auto", got["tool_choice"])
	tools := got["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "read_file", fn["name"])
}

func TestOpenAIProvider_ReplaysToolCalls(t *testing.T) {
	var got wireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[{"id":"call_2","type":"function","function":{"name":"list_files","arguments":"{}"}}]},"finish_reason":"tool_calls"}]}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL, OpenAIConfig{})
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{
		{Role: RoleUser, Content: "read notes"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Name: "read_file", Arguments: `{"path":"notes.txt"}`}}},
		{Role: RoleTool, ToolCallID: "call_1", Content: "000001| hi"},
	}})

	require.NoError(t, err)
	require.Len(t, got.Messages, 3)
	require.Len(t, got.Messages[1].ToolCalls, 1)
	assert.Equal(t, "call_1", got.Messages[1].ToolCalls[0].ID)
	assert.Equal(t, "function", got.Messages[1].ToolCalls[0].Type)
	assert.Equal(t, "read_file", got.Messages[1].ToolCalls[0].Function.Name)
	assert.Equal(t, "call_1", got.Messages[2].ToolCallID)

	assert.Equal(t, FinishReasonToolCalls, resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, ToolCall{ID: "call_2", Name: "list_files", Arguments: "{}"}, resp.ToolCalls[0])
	assert.True(t, resp.Message().HasToolCalls())
}

func TestOpenAIProvider_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL, OpenAIConfig{MaxRetries: 1})
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIProvider_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL, OpenAIConfig{MaxRetries: 2})
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIProvider_NoChoicesIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model":"deepseek-chat","choices":[]}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL, OpenAIConfig{})
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAIProvider_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := newTestProvider(t, srv.URL, OpenAIConfig{Timeout: 50 * time.Millisecond})
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})

	assert.ErrorIs(t, err, ErrUpstreamTimeout)
}

func TestNewOpenAIProvider_URL(t *testing.T) {
	p := NewOpenAIProvider(OpenAIConfig{BaseURL: "https://api.example.com/v1/"}, logger.Discard())
	assert.Equal(t, "https://api.example.com/v1/chat/completions", p.url)

	p = NewOpenAIProvider(OpenAIConfig{BaseURL: "https://api.example.com/v1/chat/completions"}, logger.Discard())
	assert.Equal(t, "https://api.example.com/v1/chat/completions", p.url)
}
