// Package metrics exposes the pipeline's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipforge_jobs_created_total",
		Help: "Total number of jobs admitted into the pipeline.",
	})

	DuplicatesSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipforge_duplicates_suppressed_total",
		Help: "Total number of events suppressed by the idempotency guard.",
	})

	ProviderAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipforge_provider_attempts_total",
		Help: "Total provider submissions, labelled by provider and outcome.",
	}, []string{"provider", "status"})

	PublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipforge_publish_attempts_total",
		Help: "Total hosting platform handoffs, labelled by outcome.",
	}, []string{"status"})

	RateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipforge_rate_limit_denials_total",
		Help: "Total dispatches deferred by a rate-limit window, labelled by key.",
	}, []string{"key"})

	FanoutFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipforge_fanout_failures_total",
		Help: "Total fan-out announcements that could not be delivered.",
	})

	CallbacksUnmatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipforge_callbacks_unmatched_total",
		Help: "Total provider callbacks dropped because no job matched.",
	})

	SweptJobs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipforge_swept_jobs_total",
		Help: "Total jobs reclaimed by the stale-state sweeper.",
	})

	TerminalJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipforge_terminal_jobs_total",
		Help: "Total jobs reaching a terminal status, labelled by status.",
	}, []string{"status"})
)
