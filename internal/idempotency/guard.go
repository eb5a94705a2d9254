// Package idempotency decides whether an inbound event is new work or a
// duplicate of something the pipeline has already seen.
package idempotency

import (
	"context"
	"fmt"
	"log/slog"

	"clipforge/internal/events"
	"clipforge/internal/logging"
	"clipforge/internal/queue"
)

// Admission is the verdict for one submitted event.
//
// Accepted means the event was new and Job is its freshly created job. A
// rejected admission carries the stored result when the original job already
// finished; when the result is nil the original submission is still in
// flight and no second job exists.
type Admission struct {
	Accepted       bool
	Key            string
	JobID          string
	Job            *queue.Job
	ExistingResult *queue.ResultSummary
}

// Guard computes event fingerprints and enforces at-most-once admission.
type Guard struct {
	store  *queue.Store
	logger *slog.Logger
}

// NewGuard constructs a guard over the pipeline store.
func NewGuard(store *queue.Store, logger *slog.Logger) *Guard {
	return &Guard{
		store:  store,
		logger: logging.NewComponentLogger(logger, "idempotency-guard"),
	}
}

// Admit validates the event, computes its fingerprint, and registers it.
// Registration and job creation happen in one store transaction, so an
// admitted key always has its job; results are recorded separately once the
// job reaches a terminal state.
func (g *Guard) Admit(ctx context.Context, event events.Event) (Admission, error) {
	if err := event.Validate(); err != nil {
		return Admission{}, err
	}

	key := events.Fingerprint(event)
	job, created, err := g.store.NewJob(ctx, key, event)
	if err != nil {
		return Admission{}, err
	}
	if created {
		g.logger.Debug("event admitted", logging.String("key", key))
		return Admission{Accepted: true, Key: key, JobID: job.ID, Job: job}, nil
	}

	record, err := g.store.GetRecord(ctx, key)
	if err != nil {
		return Admission{}, err
	}
	if record == nil {
		return Admission{}, fmt.Errorf("idempotency record for %s missing after rejection", key)
	}

	if record.Result != nil {
		g.logger.Info("duplicate event suppressed, replaying stored result",
			logging.String("key", key),
			logging.String(logging.FieldJobID, record.JobID),
			logging.String(logging.FieldEventType, "duplicate_suppressed"),
		)
		return Admission{Key: key, JobID: record.JobID, ExistingResult: record.Result}, nil
	}

	g.logger.Info("duplicate event suppressed, original still in flight",
		logging.String("key", key),
		logging.String(logging.FieldJobID, record.JobID),
		logging.String(logging.FieldEventType, "duplicate_suppressed"),
	)
	return Admission{Key: key, JobID: record.JobID}, nil
}

// RecordResult stores the terminal outcome for a key. Called by the pipeline
// exactly when a job reaches PUBLISHED or FAILED; repeated calls are no-ops.
func (g *Guard) RecordResult(ctx context.Context, key string, summary queue.ResultSummary) error {
	return g.store.RecordResult(ctx, key, summary)
}
