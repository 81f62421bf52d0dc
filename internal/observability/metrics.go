package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/haasonsaas/lore/pkg/models"
)

// AgentMetrics collects Prometheus metrics for agent sessions.
//
// It satisfies agent.Observer; ObserveTool matches agent.ToolObserver.
//
// Usage:
//
//	metrics := observability.NewAgentMetrics(prometheus.DefaultRegisterer)
//	session, _ := agent.NewSession(agent.SessionConfig{Observer: metrics, ...})
type AgentMetrics struct {
	// LLMRequestCounter counts backend calls.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures backend call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// CompactionCounter counts context compactions.
	// Labels: level (L1|L2|L3|reset)
	CompactionCounter *prometheus.CounterVec

	// PhaseTransitionCounter counts phase changes.
	// Labels: from, to
	PhaseTransitionCounter *prometheus.CounterVec

	// ContextUsageRatio is the estimated token usage of the most recent round
	// as a fraction of the budget.
	ContextUsageRatio prometheus.Gauge
}

// NewAgentMetrics creates the collectors and registers them on reg. A nil
// reg leaves them unregistered, which is what tests that only read values
// back want.
func NewAgentMetrics(reg prometheus.Registerer) *AgentMetrics {
	factory := promauto.With(reg)
	return &AgentMetrics{
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lore_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lore_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lore_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lore_tool_executions_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lore_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"tool"},
		),

		CompactionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lore_compactions_total",
				Help: "Total number of context compactions by level",
			},
			[]string{"level"},
		),

		PhaseTransitionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lore_phase_transitions_total",
				Help: "Total number of phase transitions",
			},
			[]string{"from", "to"},
		),

		ContextUsageRatio: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "lore_context_usage_ratio",
				Help: "Estimated context tokens as a fraction of the token budget",
			},
		),
	}
}

// ObserveLLMCall records one backend call.
func (m *AgentMetrics) ObserveLLMCall(provider, model string, duration time.Duration, usage *models.Usage, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	if usage == nil {
		return
	}
	if usage.InputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(usage.InputTokens))
	}
	if usage.OutputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(usage.OutputTokens))
	}
}

// ObserveTool records one tool execution.
func (m *AgentMetrics) ObserveTool(name string, duration time.Duration, failed bool) {
	status := "success"
	if failed {
		status = "error"
	}
	m.ToolExecutionCounter.WithLabelValues(name, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// ObserveCompaction counts a compaction at the given level.
func (m *AgentMetrics) ObserveCompaction(level string) {
	m.CompactionCounter.WithLabelValues(level).Inc()
}

// ObservePhaseTransition counts a phase change.
func (m *AgentMetrics) ObservePhaseTransition(from, to string) {
	m.PhaseTransitionCounter.WithLabelValues(from, to).Inc()
}

// ObserveContextUsage sets the context usage gauge.
func (m *AgentMetrics) ObserveContextUsage(ratio float64) {
	m.ContextUsageRatio.Set(ratio)
}
