package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"clipforge/internal/config"
	"clipforge/internal/events"
	"clipforge/internal/idempotency"
	"clipforge/internal/ledger"
	"clipforge/internal/logging"
	"clipforge/internal/metrics"
	"clipforge/internal/providers"
	"clipforge/internal/publish"
	"clipforge/internal/queue"
	"clipforge/internal/ratelimit"
)

const (
	providerLimitKey = "provider:egress"
	publishLimitKey  = "publish:egress"
)

// Pipeline owns the job state machine and the collaborators each edge needs.
type Pipeline struct {
	cfg         *config.Config
	store       *queue.Store
	guard       *idempotency.Guard
	limiter     *ratelimit.Limiter
	coordinator *providers.Coordinator
	publisher   publish.Publisher
	fanout      publish.Fanout
	ledger      ledger.Ledger
	logger      *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a pipeline with collaborators constructed from configuration.
func New(cfg *config.Config, store *queue.Store, limiter *ratelimit.Limiter, logger *slog.Logger) *Pipeline {
	return NewWithComponents(
		cfg,
		store,
		limiter,
		providers.NewCoordinator(cfg, store, logger),
		publish.NewPublisher(cfg),
		publish.NewFanout(cfg),
		ledger.NewLedger(cfg),
		logger,
	)
}

// NewWithComponents builds a pipeline over explicit collaborators (used in
// tests to substitute stub providers and publishers).
func NewWithComponents(
	cfg *config.Config,
	store *queue.Store,
	limiter *ratelimit.Limiter,
	coordinator *providers.Coordinator,
	publisher publish.Publisher,
	fanout publish.Fanout,
	bookkeeper ledger.Ledger,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		store:       store,
		guard:       idempotency.NewGuard(store, logger),
		limiter:     limiter,
		coordinator: coordinator,
		publisher:   publisher,
		fanout:      fanout,
		ledger:      bookkeeper,
		logger:      logging.NewComponentLogger(logger, "pipeline"),
	}
}

// Store exposes the underlying job store for inspection surfaces.
func (p *Pipeline) Store() *queue.Store {
	return p.store
}

// SubmitReceipt is the pipeline's answer to one event submission.
//
// Accepted means a new job was created. A rejected receipt carries the
// original job's stored result when it already finished; a rejected receipt
// with a nil result means the original job is still in flight.
type SubmitReceipt struct {
	Accepted bool
	Key      string
	JobID    string
	Result   *queue.ResultSummary
}

// Submit admits one event through the idempotency guard, which registers
// the fingerprint and creates the job atomically. Duplicates are never an
// error.
func (p *Pipeline) Submit(ctx context.Context, event events.Event) (SubmitReceipt, error) {
	admission, err := p.guard.Admit(ctx, event)
	if err != nil {
		return SubmitReceipt{}, err
	}
	if !admission.Accepted {
		metrics.DuplicatesSuppressed.Inc()
		return SubmitReceipt{
			Key:    admission.Key,
			JobID:  admission.JobID,
			Result: admission.ExistingResult,
		}, nil
	}

	metrics.JobsCreated.Inc()
	p.logger.Info("job created",
		logging.String(logging.FieldJobID, admission.JobID),
		logging.String("key", admission.Key),
		logging.String(logging.FieldEventType, "job_created"),
	)
	return SubmitReceipt{Accepted: true, Key: admission.Key, JobID: admission.JobID}, nil
}

// DispatchNext moves the oldest dispatch-eligible job through the provider
// submission edge. It returns whether a job was picked up; a rate-limit
// denial leaves the job where it is and reports no progress.
func (p *Pipeline) DispatchNext(ctx context.Context) (bool, error) {
	job, err := p.store.NextForStatuses(ctx, queue.StatusCreated, queue.StatusProcessingFailed)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	decision, err := p.limiter.Evaluate(
		ctx,
		providerLimitKey,
		p.cfg.RateLimit.ProviderLimit,
		time.Duration(p.cfg.RateLimit.ProviderWindowSeconds)*time.Second,
		time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}
	if !decision.Allowed {
		metrics.RateLimitDenials.WithLabelValues(providerLimitKey).Inc()
		p.logger.Debug("provider dispatch deferred by rate limit",
			logging.String(logging.FieldJobID, job.ID),
			logging.Duration("reset_in", decision.Reset),
		)
		return false, nil
	}

	attempt := job.Attempt + 1
	provider, err := p.coordinator.ProviderFor(attempt)
	if err != nil {
		// A processing-failed job past the fallback has nowhere to go.
		p.failJob(ctx, job, []queue.Status{queue.StatusCreated, queue.StatusProcessingFailed}, err.Error())
		return true, nil
	}

	job, won, err := p.store.Transition(ctx, job.ID,
		[]queue.Status{queue.StatusCreated, queue.StatusProcessingFailed}, queue.StatusDispatched,
		func(j *queue.Job) {
			j.Attempt = attempt
			j.Provider = provider.Name()
			j.ErrorMessage = ""
		},
	)
	if err != nil || !won {
		return false, err
	}

	job, won, err = p.store.Transition(ctx, job.ID,
		[]queue.Status{queue.StatusDispatched}, queue.StatusProcessing)
	if err != nil || !won {
		return true, err
	}

	invocation, err := p.coordinator.Invoke(ctx, job)
	if err != nil {
		metrics.ProviderAttempts.WithLabelValues(provider.Name(), "error").Inc()
		p.logger.Warn("provider submission failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldProvider, provider.Name()),
			logging.Error(err),
		)
		p.handleProviderFailure(ctx, job, err.Error())
		return true, nil
	}

	if invocation.Inline {
		metrics.ProviderAttempts.WithLabelValues(invocation.Provider, "done").Inc()
		p.handleProviderSuccess(ctx, job, invocation.OutputRef)
		return true, nil
	}

	metrics.ProviderAttempts.WithLabelValues(invocation.Provider, "accepted").Inc()
	p.logger.Info("job awaiting provider callback",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldProvider, invocation.Provider),
		logging.String(logging.FieldExternalRef, invocation.ExternalRef),
	)
	return true, nil
}

// ProviderOutcome is the result a provider reports for one submission,
// either inline or through a callback.
type ProviderOutcome struct {
	Success     bool
	OutputRef   string
	ErrorDetail string
}

// OnProviderResult applies a provider's verdict to a job. Duplicate
// deliveries lose the state-conditional transition and become no-ops.
func (p *Pipeline) OnProviderResult(ctx context.Context, job *queue.Job, outcome ProviderOutcome) {
	if outcome.Success {
		p.handleProviderSuccess(ctx, job, outcome.OutputRef)
		return
	}
	detail := outcome.ErrorDetail
	if detail == "" {
		detail = "provider reported an error"
	}
	p.handleProviderFailure(ctx, job, detail)
}

func (p *Pipeline) handleProviderSuccess(ctx context.Context, job *queue.Job, outputRef string) {
	p.resolveOutstanding(ctx, job.ID)

	updated, won, err := p.store.Transition(ctx, job.ID,
		[]queue.Status{queue.StatusProcessing}, queue.StatusProcessed,
		func(j *queue.Job) {
			j.OutputRef = outputRef
			j.ErrorMessage = ""
		},
	)
	if err != nil {
		p.logger.Error("failed to mark job processed",
			logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		return
	}
	if !won {
		p.logger.Debug("processed transition lost, job already moved",
			logging.String(logging.FieldJobID, job.ID),
			logging.String("status", string(updated.Status)),
		)
		return
	}

	p.logger.Info("clip rendered",
		logging.String(logging.FieldJobID, updated.ID),
		logging.String(logging.FieldProvider, updated.Provider),
	)
	p.attemptPublish(ctx, updated)
}

func (p *Pipeline) handleProviderFailure(ctx context.Context, job *queue.Job, detail string) {
	p.resolveOutstanding(ctx, job.ID)

	if job.Attempt < 2 {
		_, won, err := p.store.Transition(ctx, job.ID,
			[]queue.Status{queue.StatusProcessing}, queue.StatusProcessingFailed,
			func(j *queue.Job) { j.ErrorMessage = detail },
		)
		if err != nil {
			p.logger.Error("failed to mark job for fallback",
				logging.String(logging.FieldJobID, job.ID), logging.Error(err))
			return
		}
		if won {
			p.logger.Warn("primary provider failed, falling back",
				logging.String(logging.FieldJobID, job.ID),
				logging.String(logging.FieldProvider, job.Provider),
				logging.String("detail", detail),
			)
		}
		return
	}

	p.failJob(ctx, job, []queue.Status{queue.StatusProcessing}, detail)
}

func (p *Pipeline) attemptPublish(ctx context.Context, job *queue.Job) {
	decision, err := p.limiter.Evaluate(
		ctx,
		publishLimitKey,
		p.cfg.RateLimit.PublishLimit,
		time.Duration(p.cfg.RateLimit.PublishWindowSeconds)*time.Second,
		time.Now().UTC(),
	)
	if err != nil {
		p.logger.Error("publish rate limit evaluation failed",
			logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		return
	}
	if !decision.Allowed {
		metrics.RateLimitDenials.WithLabelValues(publishLimitKey).Inc()
		p.logger.Debug("publish deferred by rate limit",
			logging.String(logging.FieldJobID, job.ID),
			logging.Duration("reset_in", decision.Reset),
		)
		return
	}

	publishing, won, err := p.store.Transition(ctx, job.ID,
		[]queue.Status{queue.StatusProcessed, queue.StatusPublishFailed}, queue.StatusPublishing,
		func(j *queue.Job) {
			j.NextPublishAt = nil
			j.ErrorMessage = ""
		},
	)
	if err != nil || !won {
		if err != nil {
			p.logger.Error("failed to start publish",
				logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		}
		return
	}

	title := p.jobTitle(publishing)
	receipt, err := p.publisher.Publish(ctx, publish.Request{
		JobID:     publishing.ID,
		Title:     title,
		OutputRef: publishing.OutputRef,
	})
	if err != nil {
		metrics.PublishAttempts.WithLabelValues("error").Inc()
		p.handlePublishFailure(ctx, publishing, err.Error())
		return
	}
	metrics.PublishAttempts.WithLabelValues("done").Inc()

	published, won, err := p.store.Transition(ctx, publishing.ID,
		[]queue.Status{queue.StatusPublishing}, queue.StatusPublished,
		func(j *queue.Job) { j.PublishRef = receipt.PublishRef },
	)
	if err != nil {
		p.logger.Error("failed to mark job published",
			logging.String(logging.FieldJobID, publishing.ID), logging.Error(err))
		return
	}
	if !won {
		return
	}

	p.logger.Info("clip published",
		logging.String(logging.FieldJobID, published.ID),
		logging.String("publish_ref", receipt.PublishRef),
		logging.String(logging.FieldEventType, "clip_published"),
	)
	p.finalize(ctx, published)
}

func (p *Pipeline) handlePublishFailure(ctx context.Context, job *queue.Job, detail string) {
	retries := job.PublishRetries + 1
	if retries > p.cfg.Pipeline.PublishRetryBudget {
		p.failJob(ctx, job, []queue.Status{queue.StatusPublishing}, detail)
		return
	}

	delay := p.publishBackoff(retries)
	next := time.Now().UTC().Add(delay)
	_, won, err := p.store.Transition(ctx, job.ID,
		[]queue.Status{queue.StatusPublishing}, queue.StatusPublishFailed,
		func(j *queue.Job) {
			j.PublishRetries = retries
			j.NextPublishAt = &next
			j.ErrorMessage = detail
		},
	)
	if err != nil {
		p.logger.Error("failed to schedule publish retry",
			logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		return
	}
	if won {
		p.logger.Warn("publish failed, retry scheduled",
			logging.String(logging.FieldJobID, job.ID),
			logging.Int("retry", retries),
			logging.String("next_attempt", next.Format(time.RFC3339)),
			logging.String("detail", detail),
		)
	}
}

// publishBackoff spaces retry n (1-based) as min(2^n * base, max).
func (p *Pipeline) publishBackoff(retry int) time.Duration {
	base := time.Duration(p.cfg.Pipeline.PublishBaseDelay) * time.Second
	max := time.Duration(p.cfg.Pipeline.PublishMaxDelay) * time.Second
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = base
	}
	if retry > 30 {
		return max
	}
	delay := base << uint(retry)
	if delay <= 0 || delay > max {
		return max
	}
	return delay
}

// PublishNextDue retries the oldest publish-eligible job: a publish-failed
// job whose backoff deadline has passed, or a processed job whose first
// publish was deferred. Reports whether a job was picked up.
func (p *Pipeline) PublishNextDue(ctx context.Context, now time.Time) (bool, error) {
	job, err := p.store.NextDuePublishRetry(ctx, now)
	if err != nil {
		return false, err
	}
	if job == nil {
		job, err = p.store.NextForStatuses(ctx, queue.StatusProcessed)
		if err != nil || job == nil {
			return false, err
		}
	}
	p.attemptPublish(ctx, job)
	return true, nil
}

// Sweep fails jobs stuck in an in-flight status past their stage timeout.
// The sweep is the only cancellation mechanism: a provider or platform that
// never answers cannot hold a job in flight forever.
func (p *Pipeline) Sweep(ctx context.Context, now time.Time) error {
	processingCutoff := now.Add(-time.Duration(p.cfg.Pipeline.ProcessingTimeout) * time.Second)
	swept, err := p.store.SweepStale(ctx,
		[]queue.Status{queue.StatusDispatched, queue.StatusProcessing}, processingCutoff)
	if err != nil {
		return err
	}

	publishingCutoff := now.Add(-time.Duration(p.cfg.Pipeline.PublishingTimeout) * time.Second)
	sweptPublishing, err := p.store.SweepStale(ctx,
		[]queue.Status{queue.StatusPublishing}, publishingCutoff)
	if err != nil {
		return err
	}
	swept = append(swept, sweptPublishing...)

	for _, job := range swept {
		metrics.SweptJobs.Inc()
		p.resolveOutstanding(ctx, job.ID)
		p.logger.Warn("job swept after stage timeout",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldEventType, "job_swept"),
		)
		p.finalize(ctx, job)
	}
	return nil
}

func (p *Pipeline) failJob(ctx context.Context, job *queue.Job, from []queue.Status, reason string) {
	failed, won, err := p.store.Transition(ctx, job.ID, from, queue.StatusFailed,
		func(j *queue.Job) { j.ErrorMessage = reason },
	)
	if err != nil {
		p.logger.Error("failed to mark job failed",
			logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		return
	}
	if !won {
		return
	}
	p.logger.Error("job failed",
		logging.String(logging.FieldJobID, failed.ID),
		logging.String("reason", reason),
		logging.String(logging.FieldEventType, "job_failed"),
	)
	p.finalize(ctx, failed)
}

// finalize records a terminal job's outcome against its idempotency key,
// mirrors it to the ledger, and fans it out. Only the result write is
// load-bearing; ledger and fan-out failures are warnings.
func (p *Pipeline) finalize(ctx context.Context, job *queue.Job) {
	summary := job.Summary()
	metrics.TerminalJobs.WithLabelValues(string(job.Status)).Inc()

	if err := p.guard.RecordResult(ctx, job.SourceEventKey, summary); err != nil {
		p.logger.Error("failed to record terminal result",
			logging.String(logging.FieldJobID, job.ID), logging.Error(err))
	}

	entry := ledger.Entry{
		JobID:          job.ID,
		SourceEventKey: job.SourceEventKey,
		Status:         string(job.Status),
		Provider:       job.Provider,
		PublishRef:     job.PublishRef,
		ErrorMessage:   job.ErrorMessage,
	}
	if err := p.ledger.Append(ctx, entry); err != nil {
		p.logger.Warn("ledger append failed",
			logging.String(logging.FieldJobID, job.ID), logging.Error(err))
	}

	title := p.jobTitle(job)
	var fanoutErr error
	if job.Status == queue.StatusPublished {
		fanoutErr = p.fanout.NotifyClipPublished(ctx, title, job.PublishRef)
	} else {
		fanoutErr = p.fanout.NotifyJobFailed(ctx, title, job.ErrorMessage)
	}
	if fanoutErr != nil {
		metrics.FanoutFailures.Inc()
		p.logger.Warn("fan-out delivery failed",
			logging.String(logging.FieldJobID, job.ID), logging.Error(fanoutErr))
	}
}

func (p *Pipeline) resolveOutstanding(ctx context.Context, jobID string) {
	if _, err := p.store.ResolveOutstandingForJob(ctx, jobID); err != nil {
		p.logger.Warn("failed to resolve outstanding provider request",
			logging.String(logging.FieldJobID, jobID), logging.Error(err))
	}
}

func (p *Pipeline) jobTitle(job *queue.Job) string {
	event, err := job.Event()
	if err != nil {
		return job.ID
	}
	return event.Title()
}
