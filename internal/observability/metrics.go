// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the agentic runtime and its HTTP API.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the process-wide Prometheus registration surface. Construct
// once at startup and pass it to whatever records against it; promauto
// registers each metric with the default registry as it's created.
type Metrics struct {
	// HTTPRequestDuration measures §6 API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts §6 API requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// ChatTurns counts completed chat turns by outcome.
	// Labels: outcome (success|error)
	ChatTurns *prometheus.CounterVec

	// LLMRequestDuration measures provider call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostUSD tracks accumulated spend recorded by the Cost Guard.
	// Labels: provider, model
	LLMCostUSD *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ApprovalsPending is a gauge of approvals awaiting a decision.
	// Labels: project_id
	ApprovalsPending *prometheus.GaugeVec

	// WebhookReceived counts inbound webhook deliveries.
	// Labels: provider
	WebhookReceived *prometheus.CounterVec

	// WebhookErrors counts inbound webhook deliveries that failed to
	// produce a turn (session resolution, lock, or run failure).
	// Labels: provider
	WebhookErrors *prometheus.CounterVec

	// CostGuardRejections counts turns refused by the Cost Guard.
	// Labels: reason (budget|rate_limit|turn_limit|token_limit)
	CostGuardRejections *prometheus.CounterVec

	// ActiveSessions is a gauge of sessions currently in the active state.
	ActiveSessions prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics. Call once at
// startup; the returned *Metrics is safe for concurrent use.
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		ChatTurns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_chat_turns_total",
				Help: "Total number of agentic loop turns by outcome",
			},
			[]string{"outcome"},
		),
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_llm_request_duration_seconds",
				Help:    "Duration of LLM provider requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		LLMCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_llm_cost_usd_total",
				Help: "Estimated LLM API cost in USD",
			},
			[]string{"provider", "model"},
		),
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		ApprovalsPending: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nexus_approvals_pending",
				Help: "Current number of approvals awaiting a decision",
			},
			[]string{"project_id"},
		),
		WebhookReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_webhook_received_total",
				Help: "Total number of inbound webhook deliveries received",
			},
			[]string{"provider"},
		),
		WebhookErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_webhook_errors_total",
				Help: "Total number of inbound webhook deliveries that failed to produce a turn",
			},
			[]string{"provider"},
		),
		CostGuardRejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_cost_guard_rejections_total",
				Help: "Total number of turns refused by the cost guard, by reason",
			},
			[]string{"reason"},
		),
		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "nexus_active_sessions",
				Help: "Current number of sessions in the active state",
			},
		),
	}
}

// RecordHTTPRequest records a completed §6 API request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordLLMRequest records metrics for a single provider call.
func (m *Metrics) RecordLLMRequest(provider, model string, durationSeconds float64, inputTokens, outputTokens int64, costUSD float64) {
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
	if costUSD > 0 {
		m.LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
	}
}

// RecordToolExecution records a single tool call's outcome and duration.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordWebhook records an inbound webhook delivery and whether it produced
// a turn successfully.
func (m *Metrics) RecordWebhook(provider string, err error) {
	m.WebhookReceived.WithLabelValues(provider).Inc()
	if err != nil {
		m.WebhookErrors.WithLabelValues(provider).Inc()
	}
}

// RecordCostGuardRejection records a turn refused before it started.
func (m *Metrics) RecordCostGuardRejection(reason string) {
	m.CostGuardRejections.WithLabelValues(reason).Inc()
}

// RecordChatTurn records a completed agentic loop turn.
func (m *Metrics) RecordChatTurn(outcome string) {
	m.ChatTurns.WithLabelValues(outcome).Inc()
}
