// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	proposalTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_proposal_transitions_total",
			Help: "Proposal status changes by axis and new status",
		},
		[]string{"axis", "status"},
	)

	withdrawalDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdrawal_decisions_total",
			Help: "Withdrawal requests by outcome",
		},
		[]string{"status"},
	)

	ledgerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations by kind and result",
		},
		[]string{"operation", "result"},
	)

	dispatchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_dispatch_failures_total",
			Help: "Events that could not be delivered to a collaborator",
		},
		[]string{"event_type", "final"},
	)

	sweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Duration of scheduled sweeps",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"sweep"},
	)

	httpRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func ProposalTransition(axis, status string) {
	proposalTransitions.WithLabelValues(axis, status).Inc()
}

func WithdrawalDecision(status string) {
	withdrawalDecisions.WithLabelValues(status).Inc()
}

// LedgerOperation counts one ledger call; err decides the result label.
func LedgerOperation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ledgerOperations.WithLabelValues(operation, result).Inc()
}

// DispatchFailure counts a failed delivery attempt. final is true when the
// event was dropped after exhausting its retries.
func DispatchFailure(eventType string, final bool) {
	label := "false"
	if final {
		label = "true"
	}
	dispatchFailures.WithLabelValues(eventType, label).Inc()
}

func ObserveSweep(sweep string, started time.Time) {
	sweepDuration.WithLabelValues(sweep).Observe(time.Since(started).Seconds())
}

func ObserveHTTPRequest(method, route, status string, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, status).Observe(elapsed.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
