package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.RecordTurn("user", "success", 2*time.Second)
	m.RecordTurn("user", "success", time.Second)
	m.RecordTurn("system", "error", time.Second)
	m.RecordToolCall("read_file", "success")
	m.RecordFire("succeeded")
	m.SetActiveTasks(3)

	body := scrape(t, m)
	assert.Contains(t, body, `xavier_turns_total{mode="user",status="success"} 2`)
	assert.Contains(t, body, `xavier_turns_total{mode="system",status="error"} 1`)
	assert.Contains(t, body, `xavier_tool_calls_total{status="success",tool="read_file"} 1`)
	assert.Contains(t, body, `xavier_scheduler_fires_total{status="succeeded"} 1`)
	assert.Contains(t, body, "xavier_scheduler_active_tasks 3")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordTurn("user", "success", time.Second)
		m.RecordToolCall("x", "error")
		m.RecordFire("dropped")
		m.SetActiveTasks(1)
		m.RecordHTTP("/ask", 200, time.Millisecond)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RecordHTTP("POST /ask", http.StatusUnauthorized, 10*time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `xavier_http_requests_total{code="401",route="POST /ask"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}
