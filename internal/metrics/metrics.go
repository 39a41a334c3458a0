// Package metrics owns the Prometheus collectors exported by both services.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "xavier"

type Metrics struct {
	registry     *prometheus.Registry
	turnsTotal   *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	toolCalls    *prometheus.CounterVec
	firesTotal   *prometheus.CounterVec
	activeTasks  prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		turnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "turns_total",
				Help:      "Conversation turns by mode (user, system) and status",
			},
			[]string{"mode", "status"},
		),
		turnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "turn_duration_seconds",
				Help:      "Duration of conversation turns",
				Buckets:   []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"mode"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "tool_calls_total",
				Help:      "Tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),
		firesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "scheduler_fires_total",
				Help:      "Scheduled task fires by status",
			},
			[]string{"status"},
		),
		activeTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "scheduler_active_tasks",
				Help:      "Number of registered scheduled tasks",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.turnsTotal,
		m.turnDuration,
		m.toolCalls,
		m.firesTotal,
		m.activeTasks,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// Handler serves the exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordTurn(mode, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(mode, status).Inc()
	m.turnDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func (m *Metrics) RecordToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
}

func (m *Metrics) RecordFire(status string) {
	if m == nil {
		return
	}
	m.firesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) SetActiveTasks(n int) {
	if m == nil {
		return
	}
	m.activeTasks.Set(float64(n))
}

func (m *Metrics) RecordHTTP(route string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, statusLabel(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func statusLabel(code int) string {
	if code == 0 {
		code = http.StatusOK
	}
	return strconv.Itoa(code)
}
