// Package metrics exposes the counters/gauges/histograms the scheduler,
// workflow engine, and credits ledger update as they run. Grounded on the
// promauto registration style from other_examples' email_service.go
// (prometheus/client_golang, already a teacher dependency).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SchedulerTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inboxforge_scheduler_ticks_total",
		Help: "Number of scheduler ticks executed, by job.",
	}, []string{"job"})

	SchedulerJobErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inboxforge_scheduler_job_errors_total",
		Help: "Errors encountered while running a scheduler job.",
	}, []string{"job"})

	WorkflowRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inboxforge_workflow_run_duration_seconds",
		Help:    "Duration of a full seven-node workflow run.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	WorkflowNodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inboxforge_workflow_node_errors_total",
		Help: "Node-level errors recorded during workflow runs, by node name.",
	}, []string{"node"})

	WorkflowRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inboxforge_workflow_runs_total",
		Help: "Completed workflow runs, by terminal status.",
	}, []string{"status"})

	CreditsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inboxforge_credits_consumed_total",
		Help: "Credits consumed through the ledger, by reason.",
	}, []string{"reason"})

	CreditsInsufficientTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inboxforge_credits_insufficient_total",
		Help: "Consume attempts rejected for insufficient balance.",
	})

	EmailsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inboxforge_emails_dispatched_total",
		Help: "Emails handed to the workflow engine by the scheduler.",
	})

	StuckEmailsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inboxforge_stuck_emails_reaped_total",
		Help: "Rows reset from a *_PROCESSING state back to FETCHED by the reaper.",
	})

	LockContention = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inboxforge_lock_contention_total",
		Help: "TryLock calls that found the lock already held, by lock kind.",
	}, []string{"kind"})
)

// ObserveWorkflowRun records a completed run's wall-clock duration and
// terminal status in one call, the shape the workflow engine's finalize
// step reaches for.
func ObserveWorkflowRun(start time.Time, outcome string) {
	WorkflowRunDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	WorkflowRunsTotal.WithLabelValues(outcome).Inc()
}
