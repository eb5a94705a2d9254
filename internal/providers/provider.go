// Package providers selects and invokes the clip rendering backends.
//
// Two providers exist: flashcut, the low-latency primary, and studiocut,
// the slower fallback used only after flashcut fails. Both are reached
// through the workflow relay and may answer inline or asynchronously with a
// correlation reference for a later callback.
package providers

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
	"clipforge/internal/services"
)

const (
	// NamePrimary is the low-latency provider attempted first.
	NamePrimary = "flashcut"
	// NameFallback is the higher-cost provider used via the fallback edge.
	NameFallback = "studiocut"
)

// Request describes one clip rendering submission.
type Request struct {
	JobID  string            `json:"job_id"`
	Title  string            `json:"title"`
	Params map[string]string `json:"params,omitempty"`
}

// Result is a provider's answer to a submission: either an inline output or
// a correlation reference resolved later through a callback.
type Result struct {
	Inline      bool
	OutputRef   string
	ExternalRef string
}

// Provider is one rendering backend.
type Provider interface {
	Name() string
	Submit(ctx context.Context, req Request) (Result, error)
}

type relayProvider struct {
	name     string
	endpoint string
	token    string
	client   *http.Client
}

// NewRelayProvider builds an HTTP provider client for one relay hook.
func NewRelayProvider(name string, cfg config.Provider) Provider {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &relayProvider{
		name:     name,
		endpoint: strings.TrimSpace(cfg.Endpoint),
		token:    strings.TrimSpace(cfg.Token),
		client:   &http.Client{Timeout: timeout},
	}
}

func (p *relayProvider) Name() string {
	return p.name
}

type relayResponse struct {
	Status      string `json:"status"`
	OutputRef   string `json:"output_ref"`
	ExternalRef string `json:"external_ref"`
	ErrorDetail string `json:"error_detail"`
}

func (p *relayProvider) Submit(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, services.Wrap(services.ErrProvider, p.name, "submit", "encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, services.Wrap(services.ErrProvider, p.name, "submit", "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Result{}, services.Wrap(services.ErrProvider, p.name, "submit", "relay call", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, services.Wrap(services.ErrProvider, p.name, "submit", "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := strings.TrimSpace(string(payload))
		return Result{}, services.Wrap(services.ErrProvider, p.name, "submit",
			fmt.Sprintf("relay returned status %d: %s", resp.StatusCode, detail), nil)
	}

	var parsed relayResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return Result{}, services.Wrap(services.ErrProvider, p.name, "submit", "decode response", err)
	}

	switch {
	case strings.EqualFold(parsed.Status, "done") && parsed.OutputRef != "":
		return Result{Inline: true, OutputRef: parsed.OutputRef}, nil
	case strings.EqualFold(parsed.Status, "error"):
		detail := parsed.ErrorDetail
		if detail == "" {
			detail = "provider reported an error"
		}
		return Result{}, services.Wrap(services.ErrProvider, p.name, "submit", detail, nil)
	case parsed.ExternalRef != "":
		return Result{ExternalRef: parsed.ExternalRef}, nil
	default:
		return Result{}, services.Wrap(services.ErrProvider, p.name, "submit", "response carried neither output nor reference", nil)
	}
}
