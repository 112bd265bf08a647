// Package observability provides Prometheus metrics and structured logging
// for the task engine.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects engine-level Prometheus metrics:
//   - model call performance, outcomes, and token consumption per provider
//   - tool execution patterns and latencies
//   - approval outcomes and wait times
//   - conversation truncation activity
//   - task lifecycle and error rates
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordModelRequest("anthropic", "claude-sonnet-4", "success", 1.2, 900, 210)
type Metrics struct {
	// ModelRequestDuration measures model API call latency in seconds.
	// Labels: provider, model
	ModelRequestDuration *prometheus.HistogramVec

	// ModelRequestCounter counts model calls.
	// Labels: provider, model, status (success|error)
	ModelRequestCounter *prometheus.CounterVec

	// ModelTokens tracks token consumption.
	// Labels: provider, model, type (input|output)
	ModelTokens *prometheus.CounterVec

	// ToolExecutionCounter counts tool executions.
	// Labels: tool, status (success|error|denied)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// ApprovalCounter counts approval outcomes.
	// Labels: tier, outcome (approved|denied|timed_out|cancelled|auto)
	ApprovalCounter *prometheus.CounterVec

	// ApprovalWait measures how long calls waited on approval, in seconds.
	// Labels: tier
	ApprovalWait *prometheus.HistogramVec

	// TruncationCounter counts window truncation passes that removed or
	// capped anything. Labels: action (pair_removed|result_capped)
	TruncationCounter *prometheus.CounterVec

	// ActiveTasks is a gauge of currently running tasks.
	ActiveTasks prometheus.Gauge

	// TaskCounter counts finished tasks. Labels: status
	TaskCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and type.
	// Labels: component (loop|provider|registry|gate), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates engine metrics registered with the default Prometheus
// registry. Call once at startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates engine metrics registered with reg. A nil reg
// leaves the metrics unregistered, which tests use to avoid duplicate
// registration panics.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ModelRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "steward_model_request_duration_seconds",
				Help:    "Duration of model API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		ModelRequestCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_model_requests_total",
				Help: "Total number of model requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		ModelTokens: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_model_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_tool_executions_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),
		ToolExecutionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "steward_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		ApprovalCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_approvals_total",
				Help: "Total number of approval outcomes by tier",
			},
			[]string{"tier", "outcome"},
		),
		ApprovalWait: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "steward_approval_wait_seconds",
				Help:    "Time tool calls spent waiting on approval",
				Buckets: []float64{0.1, 1, 5, 15, 60, 120, 300},
			},
			[]string{"tier"},
		),
		TruncationCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_window_truncations_total",
				Help: "Conversation window truncation actions",
			},
			[]string{"action"},
		),
		ActiveTasks: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "steward_active_tasks",
				Help: "Current number of running tasks",
			},
		),
		TaskCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_tasks_total",
				Help: "Total number of finished tasks by terminal status",
			},
			[]string{"status"},
		),
		ErrorCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// NewNopMetrics creates unregistered metrics, safe to use when metrics are
// disabled.
func NewNopMetrics() *Metrics {
	return NewMetricsWith(nil)
}

// RecordModelRequest records one model call.
func (m *Metrics) RecordModelRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int) {
	m.ModelRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ModelRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.ModelTokens.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.ModelTokens.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records one tool execution outcome.
func (m *Metrics) RecordToolExecution(tool, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordApproval records an approval outcome and its wait time.
func (m *Metrics) RecordApproval(tier, outcome string, waitSeconds float64) {
	m.ApprovalCounter.WithLabelValues(tier, outcome).Inc()
	if waitSeconds > 0 {
		m.ApprovalWait.WithLabelValues(tier).Observe(waitSeconds)
	}
}

// RecordTruncation records one truncation action.
func (m *Metrics) RecordTruncation(action string) {
	m.TruncationCounter.WithLabelValues(action).Inc()
}

// TaskStarted marks a task as running.
func (m *Metrics) TaskStarted() {
	m.ActiveTasks.Inc()
}

// TaskEnded marks a task as finished with the given terminal status.
func (m *Metrics) TaskEnded(status string) {
	m.ActiveTasks.Dec()
	m.TaskCounter.WithLabelValues(status).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// Handler exposes the default registry for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
