// Package metrics exposes Prometheus collectors for reconciliation runs,
// matching outcomes, break lifecycle, and settlement processing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RunsStarted counts matching/reconciliation passes started.
var RunsStarted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "recon_runs_started_total",
		Help: "Total number of reconciliation runs started",
	},
)

// RunsCompleted counts passes that ran to completion.
var RunsCompleted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "recon_runs_completed_total",
		Help: "Total number of reconciliation runs completed",
	},
)

// MatchResults counts match results by classification status.
var MatchResults = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "recon_match_results_total",
		Help: "Match results produced, by status",
	},
	[]string{"status"},
)

// Break lifecycle counters.
var (
	BreaksRaised = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recon_breaks_raised_total",
			Help: "Breaks raised, by type and priority",
		},
		[]string{"type", "priority"},
	)

	BreaksResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recon_breaks_resolved_total",
			Help: "Breaks resolved, by resolution action",
		},
		[]string{"action"},
	)

	BreaksEscalated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recon_breaks_escalated_total",
			Help: "Breaks escalated",
		},
	)

	AgingAlerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recon_break_aging_alerts_total",
			Help: "SLA aging alerts raised, by priority",
		},
		[]string{"priority"},
	)
)

// Settlement counters and netting efficiency distribution.
var (
	SettlementTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recon_settlement_transitions_total",
			Help: "Settlement status transitions, by from and to state",
		},
		[]string{"from", "to"},
	)

	NettingEfficiency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recon_netting_efficiency_percent",
			Help:    "Netting efficiency of computed netting groups",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)
)

func init() {
	prometheus.MustRegister(RunsStarted, RunsCompleted, MatchResults)
	prometheus.MustRegister(BreaksRaised, BreaksResolved, BreaksEscalated, AgingAlerts)
	prometheus.MustRegister(SettlementTransitions, NettingEfficiency)
}
