// Package metrics defines the Prometheus collectors exported by codeloop.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ExecutionBuckets covers container runs from sub-second to the default
// timeout ceiling.
var ExecutionBuckets = []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300}

// Execution outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

var (
	// ExecutionsTotal counts sandboxed runs by outcome.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeloop_executions_total",
			Help: "Sandboxed executions",
		},
		[]string{"outcome"},
	)

	// ExecutionDuration records the wall time of a run including staging
	// and teardown.
	ExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "codeloop_execution_duration_seconds",
			Help:    "Execution duration",
			Buckets: ExecutionBuckets,
		},
	)

	// ImageBuildsTotal counts runner image builds by status.
	ImageBuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeloop_image_builds_total",
			Help: "Runner image builds",
		},
		[]string{"status"},
	)

	// AttemptsTotal counts execute/assess cycles.
	AttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "codeloop_attempts_total",
			Help: "Execute and assess cycles",
		},
	)

	// RunsTotal counts top-level requests by final state.
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeloop_runs_total",
			Help: "Top-level requests by final state",
		},
		[]string{"state"},
	)

	// OracleCallsTotal counts generation and assessment calls by status.
	OracleCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeloop_oracle_calls_total",
			Help: "Oracle calls",
		},
		[]string{"oracle", "status"},
	)

	// OracleTokensTotal counts tokens reported by the model backend.
	OracleTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeloop_oracle_tokens_total",
			Help: "Token count",
		},
		[]string{"direction"},
	)

	// BudgetRejectedTotal counts oracle calls refused by the usage budget.
	BudgetRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "codeloop_budget_rejected_total",
			Help: "Usage budget rejections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ExecutionsTotal,
		ExecutionDuration,
		ImageBuildsTotal,
		AttemptsTotal,
		RunsTotal,
		OracleCallsTotal,
		OracleTokensTotal,
		BudgetRejectedTotal,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
