package providers

import (
	"context"
	"fmt"
	"log/slog"

	"clipforge/internal/config"
	"clipforge/internal/logging"
	"clipforge/internal/queue"
)

// Invocation reports how a provider answered one dispatch. Either the clip
// is already available (Inline) or the job now waits on a callback matched
// through ExternalRef.
type Invocation struct {
	Provider    string
	Inline      bool
	OutputRef   string
	ExternalRef string
}

// Coordinator chooses the provider for a job attempt and records the
// outstanding request so a later callback can be matched back to the job.
// It never retries within a single provider call; retry-via-fallback is the
// pipeline's decision.
type Coordinator struct {
	primary  Provider
	fallback Provider
	store    *queue.Store
	logger   *slog.Logger
}

// NewCoordinator builds a coordinator with the configured relay providers.
func NewCoordinator(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Coordinator {
	return NewCoordinatorWithProviders(
		store,
		logger,
		NewRelayProvider(NamePrimary, cfg.Providers.Flashcut),
		NewRelayProvider(NameFallback, cfg.Providers.Studiocut),
	)
}

// NewCoordinatorWithProviders builds a coordinator over explicit providers
// (used in tests).
func NewCoordinatorWithProviders(store *queue.Store, logger *slog.Logger, primary, fallback Provider) *Coordinator {
	return &Coordinator{
		primary:  primary,
		fallback: fallback,
		store:    store,
		logger:   logging.NewComponentLogger(logger, "provider-coordinator"),
	}
}

// ProviderFor maps a job attempt to a backend: the first attempt goes to
// the primary, the second (fallback edge) to the fallback. There is no
// third provider.
func (c *Coordinator) ProviderFor(attempt int) (Provider, error) {
	switch attempt {
	case 1:
		return c.primary, nil
	case 2:
		return c.fallback, nil
	default:
		return nil, fmt.Errorf("no provider for attempt %d", attempt)
	}
}

// Invoke submits the job to the provider selected by its attempt counter.
// Asynchronous answers are recorded as the job's outstanding request before
// returning, so the callback can never arrive ahead of its index entry
// being visible.
func (c *Coordinator) Invoke(ctx context.Context, job *queue.Job) (Invocation, error) {
	provider, err := c.ProviderFor(job.Attempt)
	if err != nil {
		return Invocation{}, err
	}

	event, err := job.Event()
	if err != nil {
		return Invocation{}, err
	}

	req := Request{
		JobID:  job.ID,
		Title:  event.Title(),
		Params: map[string]string{
			"kind":    event.Kind,
			"subject": event.SubjectID,
			"minute":  fmt.Sprintf("%d", event.OccurredAtMinute),
		},
	}
	for key, value := range event.Attributes {
		req.Params["attr."+key] = value
	}

	result, err := provider.Submit(ctx, req)
	if err != nil {
		return Invocation{Provider: provider.Name()}, err
	}

	if result.Inline {
		c.logger.Debug("provider answered inline",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldProvider, provider.Name()),
		)
		return Invocation{Provider: provider.Name(), Inline: true, OutputRef: result.OutputRef}, nil
	}

	if _, err := c.store.CreateProviderRequest(ctx, job.ID, provider.Name(), result.ExternalRef); err != nil {
		return Invocation{Provider: provider.Name()}, err
	}
	c.logger.Debug("provider accepted job for asynchronous processing",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldProvider, provider.Name()),
		logging.String(logging.FieldExternalRef, result.ExternalRef),
	)
	return Invocation{Provider: provider.Name(), ExternalRef: result.ExternalRef}, nil
}
