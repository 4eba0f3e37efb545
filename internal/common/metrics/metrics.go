package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AgentRunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_runs_completed_total",
			Help: "Total number of agent runs that produced a payload",
		},
		[]string{"agent"},
	)

	AgentRunsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_runs_failed_total",
			Help: "Total number of agent runs captured as failures",
		},
		[]string{"agent", "error_code"},
	)

	AgentRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "agent_run_duration_seconds",
			Help: "Duration of a single agent run in seconds",
		},
		[]string{"agent"},
	)

	GuardrailChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardrail_checks_total",
			Help: "Guardrail checks by phase and resulting action",
		},
		[]string{"phase", "action"},
	)

	GuardrailCacheReloads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guardrail_cache_reloads_total",
			Help: "Number of full guardrail rule cache rebuilds",
		},
	)

	ExtractionFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intent_extraction_fallbacks_total",
			Help: "Assisted extractions that fell back to the rule-based strategy",
		},
	)

	GenerationCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_calls_total",
			Help: "Generation-model calls by outcome",
		},
		[]string{"outcome"},
	)

	GenerationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "generation_latency_seconds",
			Help: "Latency of generation-model calls in seconds",
		},
	)
)
