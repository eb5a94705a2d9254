// Package callback routes inbound provider callbacks back to their jobs.
package callback

import (
	"context"
	"log/slog"
	"strings"

	"clipforge/internal/logging"
	"clipforge/internal/metrics"
	"clipforge/internal/pipeline"
	"clipforge/internal/queue"
)

// Outcome is the payload a provider posts when an asynchronous render
// finishes.
type Outcome struct {
	ExternalRef string `json:"external_ref"`
	Status      string `json:"status"`
	OutputRef   string `json:"output_ref,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

// Router resolves external references to jobs and applies the outcome.
type Router struct {
	store    *queue.Store
	pipeline *pipeline.Pipeline
	logger   *slog.Logger
}

// NewRouter constructs a router over the store and pipeline.
func NewRouter(store *queue.Store, pipe *pipeline.Pipeline, logger *slog.Logger) *Router {
	return &Router{
		store:    store,
		pipeline: pipe,
		logger:   logging.NewComponentLogger(logger, "callback-router"),
	}
}

// Handle applies one provider callback. Unmatched references are dropped
// with a log line, and only the delivery that resolves the outstanding
// request applies its outcome; the caller always gets an acknowledgement.
func (r *Router) Handle(ctx context.Context, outcome Outcome) {
	ref := strings.TrimSpace(outcome.ExternalRef)
	if ref == "" {
		metrics.CallbacksUnmatched.Inc()
		r.logger.Warn("callback carried no external reference")
		return
	}

	request, err := r.store.FindRequestByExternalRef(ctx, ref)
	if err != nil {
		r.logger.Error("callback lookup failed",
			logging.String(logging.FieldExternalRef, ref), logging.Error(err))
		return
	}
	if request == nil {
		metrics.CallbacksUnmatched.Inc()
		r.logger.Warn("callback did not match any job, dropping",
			logging.String(logging.FieldExternalRef, ref),
			logging.String(logging.FieldEventType, "callback_unmatched"),
		)
		return
	}

	job, err := r.store.GetByID(ctx, request.JobID)
	if err != nil || job == nil {
		r.logger.Error("callback matched a missing job",
			logging.String(logging.FieldExternalRef, ref),
			logging.String(logging.FieldJobID, request.JobID),
			logging.Error(err),
		)
		return
	}

	first, err := r.store.ResolveRequest(ctx, ref)
	if err != nil {
		r.logger.Error("failed to resolve provider request",
			logging.String(logging.FieldExternalRef, ref), logging.Error(err))
		return
	}
	if !first {
		// The first delivery already resolved this request. Replaying the
		// outcome is unsafe once the job has moved on, so stop here: a
		// stale error delivery must not undo a fallback attempt that is
		// already in flight.
		r.logger.Debug("duplicate callback delivery, dropping",
			logging.String(logging.FieldExternalRef, ref),
			logging.String(logging.FieldJobID, job.ID),
		)
		return
	}

	r.pipeline.OnProviderResult(ctx, job, pipeline.ProviderOutcome{
		Success:     strings.EqualFold(strings.TrimSpace(outcome.Status), "done"),
		OutputRef:   outcome.OutputRef,
		ErrorDetail: outcome.ErrorDetail,
	})
}
