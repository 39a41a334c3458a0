package cron

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/xavier/internal/logger"
)

func newSinkServer(t *testing.T, handler func(n int32, w http.ResponseWriter, r *http.Request)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(calls.Add(1), w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func fastSink(url string) *HTTPSink {
	return NewHTTPSink(HTTPSinkConfig{
		URL:            url,
		Timeout:        200 * time.Millisecond,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, logger.Discard())
}

func TestHTTPSink_PostsTrigger(t *testing.T) {
	var got TriggerRequest
	srv, calls := newSinkServer(t, func(n int32, w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"status":"received"}`))
	})

	require.NoError(t, fastSink(srv.URL).Trigger(context.Background(), "alice", "summary"))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, TriggerRequest{UserID: "alice", Text: "summary"}, got)
}

func TestHTTPSink_RetriesServerErrors(t *testing.T) {
	srv, calls := newSinkServer(t, func(n int32, w http.ResponseWriter, r *http.Request) {
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	require.NoError(t, fastSink(srv.URL).Trigger(context.Background(), "alice", "x"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPSink_GivesUpAfterMaxAttempts(t *testing.T) {
	srv, calls := newSinkServer(t, func(n int32, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := fastSink(srv.URL).Trigger(context.Background(), "alice", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 3 attempts failed")
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPSink_DoesNotRetryClientErrors(t *testing.T) {
	srv, calls := newSinkServer(t, func(n int32, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":"error","error":"user_id is required"}`))
	})

	err := fastSink(srv.URL).Trigger(context.Background(), "", "x")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "user_id is required")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPSink_PerAttemptTimeout(t *testing.T) {
	srv, calls := newSinkServer(t, func(n int32, w http.ResponseWriter, r *http.Request) {
		if n == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	start := time.Now()
	require.NoError(t, fastSink(srv.URL).Trigger(context.Background(), "alice", "x"))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPSink_UnreachableIsRetriedThenFails(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := fastSink(url).Trigger(context.Background(), "alice", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 3 attempts failed")
}
