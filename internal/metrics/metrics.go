// Package metrics declares the Prometheus series kratos-ai exports about
// its own operation: how much it has observed, predicted, and remediated.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BrainUp is 1 while the brain's loops are running, 0 otherwise.
	BrainUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kratos_ai_brain_up",
		Help: "Whether the brain's observation/prediction loops are running (1) or stopped (0).",
	})

	// IncidentsRecorded counts incidents recorded into the knowledge base,
	// labeled by incident kind.
	IncidentsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kratos_ai_incidents_recorded_total",
		Help: "Incidents recorded into the knowledge base, by kind.",
	}, []string{"kind"})

	// PredictionsMade counts ensemble predictions above the configured
	// threshold, labeled by incident kind.
	PredictionsMade = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kratos_ai_predictions_made_total",
		Help: "Predictions produced by the ensemble above the reporting threshold, by incident kind.",
	}, []string{"kind"})

	// RemediationsByOutcome counts completed remediations, labeled by their
	// terminal outcome (success, failed, skipped, rolled_back, ...).
	RemediationsByOutcome = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kratos_ai_remediations_total",
		Help: "Remediations by terminal outcome.",
	}, []string{"outcome", "action"})

	// SafetyCheckFailures counts safety validator checks that blocked or
	// flagged a remediation plan, labeled by check name.
	SafetyCheckFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kratos_ai_safety_check_failures_total",
		Help: "Safety validator checks that did not pass clean, by check name.",
	}, []string{"check", "blocking"})

	// PendingApprovals reports the current count of remediations awaiting
	// human approval.
	PendingApprovals = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kratos_ai_pending_approvals",
		Help: "Remediation plans currently awaiting approval.",
	})

	// ClusterBreakerOpen is 1 while the orchestrator-client circuit breaker
	// is open (blocking calls) or half-open (probing), 0 while closed.
	ClusterBreakerOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kratos_ai_cluster_breaker_open",
		Help: "Whether the orchestrator-client circuit breaker is currently blocking calls (1) or closed (0).",
	})
)
