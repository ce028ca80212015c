package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for turns, tools, transport and
// session maintenance. All recording methods are safe on a nil receiver so
// components can treat metrics as optional.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordTurn("completed", time.Since(start).Seconds())
type Metrics struct {
	// TurnCounter counts finished turns.
	// Labels: outcome (completed|cancelled|error|deadline|rejected)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures turn wall time in seconds.
	// Labels: outcome
	TurnDuration *prometheus.HistogramVec

	// TokensStreamed counts text deltas forwarded to clients.
	// Labels: provider
	TokensStreamed *prometheus.CounterVec

	// LLMRequestDuration measures time to the end of each model round.
	// Labels: provider, status (success|error)
	LLMRequestDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts dispatcher calls.
	// Labels: tool_name, kind (local|remote), status (success|unknown_tool|execution_error|timeout)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool latency in seconds.
	// Labels: tool_name, kind
	ToolExecutionDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts API requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures API latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// ActiveConnections is the number of open WebSocket connections.
	ActiveConnections prometheus.Gauge

	// CleanupSessions counts sessions handled by cleanup runs.
	// Labels: action (summarized|deleted|skipped|failed)
	CleanupSessions *prometheus.CounterVec

	// StoreWriteConflicts counts retried session writes.
	// Labels: outcome (retried|recovered|failed)
	StoreWriteConflicts *prometheus.CounterVec
}

// NewMetrics creates all collectors and registers them with reg. Passing a
// fresh prometheus.NewRegistry() keeps tests isolated from the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jarvis_turns_total",
				Help: "Total number of conversation turns by outcome",
			},
			[]string{"outcome"},
		),

		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jarvis_turn_duration_seconds",
				Help:    "Duration of conversation turns in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),

		TokensStreamed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jarvis_stream_tokens_total",
				Help: "Total number of streamed text deltas by provider",
			},
			[]string{"provider"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jarvis_llm_request_duration_seconds",
				Help:    "Duration of model completion rounds in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "status"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jarvis_tool_executions_total",
				Help: "Total number of tool executions by tool, kind and status",
			},
			[]string{"tool_name", "kind", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jarvis_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"tool_name", "kind"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jarvis_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jarvis_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		ActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "jarvis_ws_connections",
				Help: "Current number of open WebSocket connections",
			},
		),

		CleanupSessions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jarvis_cleanup_sessions_total",
				Help: "Sessions processed by cleanup runs by action",
			},
			[]string{"action"},
		),

		StoreWriteConflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jarvis_store_write_conflicts_total",
				Help: "Session store write conflicts by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// RecordTurn records a finished turn.
func (m *Metrics) RecordTurn(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TurnCounter.WithLabelValues(outcome).Inc()
	m.TurnDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// TokenStreamed counts one forwarded text delta.
func (m *Metrics) TokenStreamed(provider string) {
	if m == nil {
		return
	}
	m.TokensStreamed.WithLabelValues(provider).Inc()
}

// RecordLLMRequest records one model round.
func (m *Metrics) RecordLLMRequest(provider, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.LLMRequestDuration.WithLabelValues(provider, status).Observe(durationSeconds)
}

// RecordToolExecution records one dispatcher call.
func (m *Metrics) RecordToolExecution(toolName, kind, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, kind, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName, kind).Observe(durationSeconds)
}

// RecordHTTPRequest records one API request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// RecordCleanup adds n sessions under action.
func (m *Metrics) RecordCleanup(action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CleanupSessions.WithLabelValues(action).Add(float64(n))
}

// RecordWriteConflict counts a store conflict.
func (m *Metrics) RecordWriteConflict(outcome string) {
	if m == nil {
		return
	}
	m.StoreWriteConflicts.WithLabelValues(outcome).Inc()
}
