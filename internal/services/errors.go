package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks malformed input rejected before any side effect.
	ErrValidation = errors.New("validation error")
	// ErrProvider marks a failed rendering attempt; the pipeline answers it
	// with the fallback edge or a terminal failure.
	ErrProvider = errors.New("provider failure")
	// ErrPublish marks a failed hosting handoff; retried with backoff up to
	// the configured budget.
	ErrPublish = errors.New("publish failure")
	// ErrRateLimited marks an egress call deferred by the rate limiter. It
	// never surfaces as a job's terminal error.
	ErrRateLimited = errors.New("rate limited")
	// ErrCallbackMismatch marks a callback whose external reference matches
	// no outstanding request; logged and dropped.
	ErrCallbackMismatch = errors.New("callback mismatch")
	// ErrConfiguration marks unusable collaborator configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrTransient marks failures with no better classification.
	ErrTransient = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
