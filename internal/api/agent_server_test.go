package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/xavier/internal/agent/loop"
	"github.com/aatumaykin/xavier/internal/auth"
	"github.com/aatumaykin/xavier/internal/llm"
	"github.com/aatumaykin/xavier/internal/logger"
	"github.com/aatumaykin/xavier/internal/metrics"
)

type fakeEngine struct {
	mu         sync.Mutex
	answer     string
	err        error
	dispatched []SystemTriggerRequest
}

func (f *fakeEngine) Ask(ctx context.Context, userID, text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.answer + " " + userID, nil
}

func (f *fakeEngine) Dispatch(userID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.dispatched = append(f.dispatched, SystemTriggerRequest{UserID: userID, Text: text})
	return nil
}

func newAgentHandler(t *testing.T, engine Engine, required bool) http.Handler {
	t.Helper()
	verifier, err := auth.ParseUsers([]byte("users:\n  alice:\n    password_sha256: " + auth.HashPassword("secret") + "\n"))
	require.NoError(t, err)
	return NewAgentServer(AgentServerConfig{
		Engine:       engine,
		Verifier:     verifier,
		AuthRequired: required,
		Logger:       logger.Discard(),
		Metrics:      metrics.New(),
	}).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, StatusResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))

	var resp StatusResponse
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec.Code, resp
}

func TestAgentServer_Ask(t *testing.T) {
	h := newAgentHandler(t, &fakeEngine{answer: "hello"}, false)

	code, resp := do(t, h, http.MethodPost, "/ask", `{"user_id":"alice","text":"hi"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusResponse{Status: "success", Response: "hello alice"}, resp)
}

func TestAgentServer_AskValidation(t *testing.T) {
	h := newAgentHandler(t, &fakeEngine{answer: "x"}, false)

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "malformed", body: `{"user_id":`, want: "invalid request body"},
		{name: "missing user", body: `{"text":"hi"}`, want: "user_id is required"},
		{name: "missing text", body: `{"user_id":"alice","text":"  "}`, want: "text is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := do(t, h, http.MethodPost, "/ask", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, "error", resp.Status)
			assert.Contains(t, resp.Error, tt.want)
		})
	}
}

func TestAgentServer_AskAuth(t *testing.T) {
	h := newAgentHandler(t, &fakeEngine{answer: "ok"}, true)

	code, resp := do(t, h, http.MethodPost, "/ask", `{"user_id":"alice","text":"hi","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "error", resp.Status)

	code, _ = do(t, h, http.MethodPost, "/ask", `{"user_id":"mallory","text":"hi","password":"secret"}`)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, resp = do(t, h, http.MethodPost, "/ask", `{"user_id":"alice","text":"hi","password":"secret"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok alice", resp.Response)
}

func TestAgentServer_AskErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{err: fmt.Errorf("LLM call failed: %w", llm.ErrUpstreamTimeout), code: http.StatusGatewayTimeout},
		{err: context.DeadlineExceeded, code: http.StatusGatewayTimeout},
		{err: fmt.Errorf("%w (10)", loop.ErrLoopBoundExceeded), code: http.StatusInternalServerError},
		{err: fmt.Errorf("LLM call failed: boom"), code: http.StatusInternalServerError},
		{err: auth.ErrUnauthorized, code: http.StatusUnauthorized},
		{err: loop.ErrEmptyInput, code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := newAgentHandler(t, &fakeEngine{err: tt.err}, false)
			code, resp := do(t, h, http.MethodPost, "/ask", `{"user_id":"alice","text":"hi"}`)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, "error", resp.Status)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestAgentServer_Login(t *testing.T) {
	h := newAgentHandler(t, &fakeEngine{}, true)

	code, resp := do(t, h, http.MethodPost, "/login", `{"user_id":"alice","password":"secret"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", resp.Status)

	code, _ = do(t, h, http.MethodPost, "/login", `{"user_id":"alice","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = do(t, h, http.MethodPost, "/login", `{"password":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAgentServer_SystemTrigger(t *testing.T) {
	engine := &fakeEngine{}
	h := newAgentHandler(t, engine, true)

	code, resp := do(t, h, http.MethodPost, "/system_trigger", `{"user_id":"alice","text":"summary"}`)
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, StatusResponse{Status: "received"}, resp)
	assert.Equal(t, []SystemTriggerRequest{{UserID: "alice", Text: "summary"}}, engine.dispatched)

	code, _ = do(t, h, http.MethodPost, "/system_trigger", `{"text":"summary"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, newAgentHandler(t, &fakeEngine{err: loop.ErrShuttingDown}, false),
		http.MethodPost, "/system_trigger", `{"user_id":"alice"}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestAgentServer_HealthAndMetrics(t *testing.T) {
	h := newAgentHandler(t, &fakeEngine{answer: "x"}, false)

	code, resp := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp.Status)

	do(t, h, http.MethodPost, "/ask", `{"user_id":"alice","text":"hi"}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `xavier_http_requests_total{code="200",route="POST /ask"} 1`)

	code, _ = do(t, h, http.MethodGet, "/ask", "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}
