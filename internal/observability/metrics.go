package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics centralizes the orchestrator runtime's Prometheus instruments:
// LLM request performance, tool execution, bus dispatch latency, plan
// generation retries, and orchestrator/web-agent loop iteration counts.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	start := time.Now()
//	result, err := client.Create(ctx, messages, tools, false)
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4-5", status(err), time.Since(start).Seconds(), result.Usage.PromptTokens, result.Usage.CompletionTokens)
type Metrics struct {
	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider, model, and outcome.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption by provider, model, and kind.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations by name and outcome.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// BusDispatchDuration measures the time from publish to a subscriber's
	// handler returning, per topic.
	// Labels: topic
	BusDispatchDuration *prometheus.HistogramVec

	// BusDispatchCounter counts bus dispatches by topic and outcome.
	// Labels: topic, status (success|error)
	BusDispatchCounter *prometheus.CounterVec

	// PlanGenerationAttempts counts planner LLM calls by outcome, including
	// JSON-parse retries.
	// Labels: status (success|success_after_retry|json_retry|failed)
	PlanGenerationAttempts *prometheus.CounterVec

	// ReplanCounter counts orchestrator replans by trigger reason.
	// Labels: reason (step_unhelpful_response|page_metadata_unchanged)
	ReplanCounter *prometheus.CounterVec

	// OrchestratorStepDuration measures one plan step's dispatch-to-reply
	// latency in seconds.
	// Labels: agent
	OrchestratorStepDuration *prometheus.HistogramVec

	// OrchestratorStepCounter counts plan steps by target agent and outcome.
	// Labels: agent, status (success|error)
	OrchestratorStepCounter *prometheus.CounterVec

	// WebAgentLoopIterations counts web agent loop terminations by reason
	// (one increment per loop run, not per iteration).
	// Labels: reason (tool_stop|max_steps|plain_text)
	WebAgentLoopIterations *prometheus.CounterVec

	// WebAgentStepDuration measures one perceive-decide-act iteration's
	// latency in seconds.
	WebAgentStepDuration prometheus.Histogram

	// URLPolicyDecisions counts URL gating decisions by status.
	// Labels: status (allowed|rejected|blocked)
	URLPolicyDecisions *prometheus.CounterVec

	// ActiveRuns is a gauge tracking runs currently in progress.
	ActiveRuns prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics with the default
// registry. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		BusDispatchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_bus_dispatch_duration_seconds",
				Help:    "Duration from publish to subscriber handler completion, by topic",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"topic"},
		),
		BusDispatchCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_bus_dispatch_total",
				Help: "Total number of bus dispatches by topic and status",
			},
			[]string{"topic", "status"},
		),
		PlanGenerationAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_plan_generation_attempts_total",
				Help: "Total number of planner LLM call attempts by outcome",
			},
			[]string{"status"},
		),
		ReplanCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_replans_total",
				Help: "Total number of replans triggered, by reason",
			},
			[]string{"reason"},
		),
		OrchestratorStepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_step_duration_seconds",
				Help:    "Duration of one plan step dispatch, by target agent",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"agent"},
		),
		OrchestratorStepCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_steps_total",
				Help: "Total number of plan steps dispatched, by agent and status",
			},
			[]string{"agent", "status"},
		),
		WebAgentLoopIterations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_webagent_loop_terminations_total",
				Help: "Total number of web agent loop terminations, by reason",
			},
			[]string{"reason"},
		),
		WebAgentStepDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orchestrator_webagent_step_duration_seconds",
				Help:    "Duration of one perceive-decide-act iteration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		URLPolicyDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_url_policy_decisions_total",
				Help: "Total number of URL gating decisions, by status",
			},
			[]string{"status"},
		),
		ActiveRuns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_active_runs",
				Help: "Current number of orchestrator runs in progress",
			},
		),
	}
}

// RecordLLMRequest records metrics for one LLM API request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for one tool dispatch through the registry.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordBusDispatch records metrics for one bus publish-to-handler round trip.
func (m *Metrics) RecordBusDispatch(topic, status string, durationSeconds float64) {
	m.BusDispatchCounter.WithLabelValues(topic, status).Inc()
	m.BusDispatchDuration.WithLabelValues(topic).Observe(durationSeconds)
}

// RecordPlanGenerationAttempt records one planner LLM call's outcome.
func (m *Metrics) RecordPlanGenerationAttempt(status string) {
	m.PlanGenerationAttempts.WithLabelValues(status).Inc()
}

// RecordReplan records one replan, tagged with the reason it was triggered.
func (m *Metrics) RecordReplan(reason string) {
	m.ReplanCounter.WithLabelValues(reason).Inc()
}

// RecordOrchestratorStep records one plan step's dispatch outcome and latency.
func (m *Metrics) RecordOrchestratorStep(agent, status string, durationSeconds float64) {
	m.OrchestratorStepCounter.WithLabelValues(agent, status).Inc()
	m.OrchestratorStepDuration.WithLabelValues(agent).Observe(durationSeconds)
}

// RecordWebAgentStep records one perceive-decide-act iteration's latency.
func (m *Metrics) RecordWebAgentStep(durationSeconds float64) {
	m.WebAgentStepDuration.Observe(durationSeconds)
}

// RecordWebAgentLoopTermination records why a web agent loop ended.
func (m *Metrics) RecordWebAgentLoopTermination(reason string) {
	m.WebAgentLoopIterations.WithLabelValues(reason).Inc()
}

// RecordURLPolicyDecision records one URL gating outcome.
func (m *Metrics) RecordURLPolicyDecision(status string) {
	m.URLPolicyDecisions.WithLabelValues(status).Inc()
}

// RunStarted increments the active-runs gauge.
func (m *Metrics) RunStarted() { m.ActiveRuns.Inc() }

// RunEnded decrements the active-runs gauge.
func (m *Metrics) RunEnded() { m.ActiveRuns.Dec() }
