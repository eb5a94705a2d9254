package events

import (
	"strings"

	"clipforge/internal/services"
)

// Event is the canonical inbound trigger for the pipeline. It is immutable
// once accepted; the pipeline keys all idempotency decisions off its
// semantic fields, never its arrival time.
type Event struct {
	Kind             string            `json:"kind"`
	SubjectID        string            `json:"subject_id"`
	OccurredAtMinute int               `json:"occurred_at_minute"`
	Attributes       map[string]string `json:"attributes,omitempty"`
}

// Title derives the clip title used for the publish handoff.
func (e Event) Title() string {
	kind := strings.TrimSpace(e.Kind)
	if kind != "" {
		kind = strings.ToUpper(kind[:1]) + kind[1:]
	}
	return kind + " by " + strings.TrimSpace(e.SubjectID)
}

// Validate rejects malformed events before any side effect occurs.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Kind) == "" {
		return services.Wrap(services.ErrValidation, "intake", "validate", "event kind is required", nil)
	}
	if strings.TrimSpace(e.SubjectID) == "" {
		return services.Wrap(services.ErrValidation, "intake", "validate", "event subject is required", nil)
	}
	if e.OccurredAtMinute < 0 {
		return services.Wrap(services.ErrValidation, "intake", "validate", "event minute must not be negative", nil)
	}
	for key := range e.Attributes {
		if strings.TrimSpace(key) == "" {
			return services.Wrap(services.ErrValidation, "intake", "validate", "attribute keys must not be blank", nil)
		}
	}
	return nil
}
