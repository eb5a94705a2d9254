package queue

import (
	"encoding/json"
	"strings"
	"time"
)

// Status represents the lifecycle of a pipeline job.
type Status string

const (
	StatusCreated          Status = "created"
	StatusDispatched       Status = "dispatched"
	StatusProcessing       Status = "processing"
	StatusProcessed        Status = "processed"
	StatusProcessingFailed Status = "processing_failed"
	StatusPublishing       Status = "publishing"
	StatusPublished        Status = "published"
	StatusPublishFailed    Status = "publish_failed"
	StatusFailed           Status = "failed"
)

// SweepStopReason is the error message set when the maintenance sweep fails
// a job stuck in an in-flight state.
const SweepStopReason = "timed out waiting for completion"

var allStatuses = []Status{
	StatusCreated,
	StatusDispatched,
	StatusProcessing,
	StatusProcessed,
	StatusProcessingFailed,
	StatusPublishing,
	StatusPublished,
	StatusPublishFailed,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var inFlightStatuses = map[Status]struct{}{
	StatusDispatched: {},
	StatusProcessing: {},
	StatusPublishing: {},
}

var terminalStatuses = map[Status]struct{}{
	StatusPublished: {},
	StatusFailed:    {},
}

// Job is the durable unit of pipeline work tracking one event from creation
// to publish. All mutations flow through the store's conditional transition
// so racing callers for the same job never both succeed.
type Job struct {
	ID             string
	SubjectID      string
	SourceEventKey string
	EventJSON      string
	Status         Status
	Attempt        int
	Provider       string
	OutputRef      string
	PublishRef     string
	PublishRetries int
	NextPublishAt  *time.Time
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IdempotencyRecord tracks one accepted event fingerprint. The stored result
// is the single permitted late write, set exactly once when the job reaches
// a terminal state.
type IdempotencyRecord struct {
	Key         string
	JobID       string
	FirstSeenAt time.Time
	Result      *ResultSummary
}

// ResultSummary is the terminal outcome replayed to duplicate submitters.
type ResultSummary struct {
	JobID      string `json:"job_id"`
	Status     Status `json:"status"`
	PublishRef string `json:"publish_ref,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (r ResultSummary) marshal() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ProviderRequest correlates an asynchronous provider submission with a job.
// At most one request per job is outstanding at any time (enforced by a
// partial unique index); a new one is created only after the prior resolves.
type ProviderRequest struct {
	ID          int64
	JobID       string
	Provider    string
	ExternalRef string
	SubmittedAt time.Time
	ResolvedAt  *time.Time
}

// HealthSummary describes aggregated job counts per key lifecycle states.
type HealthSummary struct {
	Total     int
	Created   int
	InFlight  int
	Published int
	Failed    int
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsInFlight reports whether the status reflects an in-flight operation
// awaiting a provider or publish response.
func (s Status) IsInFlight() bool {
	_, ok := inFlightStatuses[s]
	return ok
}

// IsTerminal reports whether a job in this status is retained for audit and
// never mutated again.
func (s Status) IsTerminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// Summary builds the terminal result recorded against the job's source key.
func (j *Job) Summary() ResultSummary {
	return ResultSummary{
		JobID:      j.ID,
		Status:     j.Status,
		PublishRef: j.PublishRef,
		Error:      j.ErrorMessage,
	}
}
