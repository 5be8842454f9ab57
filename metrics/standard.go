// Package metrics holds the Prometheus collectors the harness updates while
// it drives a migration. All collectors live in Registry so they can be
// served or inspected without touching the global default registerer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "forkmigrate"

// Registry is the process-wide registry backing the pre-defined collectors.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

// Step outcomes.
const (
	OutcomePassed  = "passed"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
	OutcomeNotRun  = "not_run"
)

var (
	// ---- Harness ----

	// StepsTotal counts executed steps by suite and outcome.
	StepsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "harness",
		Name:      "steps_total",
		Help:      "Harness steps by suite and outcome.",
	}, []string{"suite", "outcome"})

	// StepDuration records wall-clock step duration in seconds.
	StepDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "harness",
		Name:      "step_duration_seconds",
		Help:      "Wall-clock duration of harness steps.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"suite"})

	// ---- Governance ----

	// ProposalsTotal counts governance proposals by category and outcome.
	ProposalsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "governance",
		Name:      "proposals_total",
		Help:      "Governance proposals submitted, by category and outcome.",
	}, []string{"category", "outcome"})

	// ---- Transactions ----

	// TransactionsTotal counts transactions sent, by contract method.
	TransactionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chain",
		Name:      "transactions_total",
		Help:      "Transactions sent through the node, by method.",
	}, []string{"method"})

	// RevertsTotal counts reverted transactions, by contract method.
	RevertsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chain",
		Name:      "reverts_total",
		Help:      "Reverted transactions, by method.",
	}, []string{"method"})

	// GasUsedTotal sums gas used by mined transactions, by contract method.
	GasUsedTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chain",
		Name:      "gas_used_total",
		Help:      "Gas used by mined transactions, by method.",
	}, []string{"method"})

	// ---- Staking ----

	// PendingActionRounds counts processPendingActions batches sent.
	PendingActionRounds = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "staking",
		Name:      "pending_action_rounds_total",
		Help:      "processPendingActions batches sent while draining the queue.",
	})
)
