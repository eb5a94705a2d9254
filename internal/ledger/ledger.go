// Package ledger mirrors terminal job outcomes into an external
// bookkeeping relay. Writes are advisory: the pipeline logs failures and
// moves on, and a disabled ledger degrades to a no-op.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clipforge/internal/config"
)

// Entry is one bookkeeping row: the terminal fate of a job.
type Entry struct {
	JobID          string    `json:"job_id"`
	SourceEventKey string    `json:"source_event_key"`
	Status         string    `json:"status"`
	Provider       string    `json:"provider,omitempty"`
	PublishRef     string    `json:"publish_ref,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// Ledger appends rows to the external bookkeeping sink.
type Ledger interface {
	Append(ctx context.Context, entry Entry) error
}

// NewLedger builds the configured ledger sink, or a noop when disabled.
func NewLedger(cfg *config.Config) Ledger {
	endpoint := strings.TrimSpace(cfg.Ledger.Endpoint)
	if !cfg.Ledger.Enabled || endpoint == "" {
		return noopLedger{}
	}

	timeout := time.Duration(cfg.Ledger.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpLedger{
		endpoint: endpoint,
		token:    strings.TrimSpace(cfg.Ledger.Token),
		client:   &http.Client{Timeout: timeout},
	}
}

type httpLedger struct {
	endpoint string
	token    string
	client   *http.Client
}

func (l *httpLedger) Append(ctx context.Context, entry Entry) error {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode ledger entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ledger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ledger returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopLedger struct{}

func (noopLedger) Append(context.Context, Entry) error { return nil }
