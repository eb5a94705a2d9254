package publish

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

const userAgent = "ClipForge-Go/0.1.0"

// Fanout defines the distribution surface exposed to the pipeline. All
// deliveries are best effort; a failed fan-out never changes the job's fate.
type Fanout interface {
	NotifyClipPublished(ctx context.Context, title, publishRef string) error
	NotifyJobFailed(ctx context.Context, title, reason string) error
	TestNotification(ctx context.Context) error
}

// NewFanout builds a fan-out service backed by the configured relay.
// When no relay URL is configured, a noop implementation is returned.
func NewFanout(cfg *config.Config) Fanout {
	relay := strings.TrimSpace(cfg.Fanout.RelayURL)
	if relay == "" {
		return noopFanout{}
	}

	timeout := time.Duration(cfg.Fanout.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &relayFanout{
		endpoint: relay,
		client:   &http.Client{Timeout: timeout},
	}
}

type announcement struct {
	Kind       string `json:"kind"`
	Title      string `json:"title"`
	PublishRef string `json:"publish_ref,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

type relayFanout struct {
	endpoint string
	client   *http.Client
}

func (f *relayFanout) NotifyClipPublished(ctx context.Context, title, publishRef string) error {
	title = strings.TrimSpace(title)
	data := announcement{
		Kind:       "clip.published",
		Title:      title,
		PublishRef: strings.TrimSpace(publishRef),
	}
	return f.send(ctx, data)
}

func (f *relayFanout) NotifyJobFailed(ctx context.Context, title, reason string) error {
	title = strings.TrimSpace(title)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := announcement{
		Kind:   "clip.failed",
		Title:  title,
		Detail: reason,
	}
	return f.send(ctx, data)
}

func (f *relayFanout) TestNotification(ctx context.Context) error {
	data := announcement{
		Kind:  "test",
		Title: "Fan-out relay test",
	}
	return f.send(ctx, data)
}

func (f *relayFanout) send(ctx context.Context, data announcement) error {
	if f == nil || f.client == nil {
		return nil
	}

	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode fan-out announcement: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build fan-out request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("send fan-out announcement: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("fan-out relay returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopFanout struct{}

func (noopFanout) NotifyClipPublished(context.Context, string, string) error { return nil }
func (noopFanout) NotifyJobFailed(context.Context, string, string) error     { return nil }
func (noopFanout) TestNotification(context.Context) error                    { return nil }
