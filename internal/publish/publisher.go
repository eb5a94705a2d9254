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
	"clipforge/internal/services"
)

// Request carries one finished clip to the hosting platform.
type Request struct {
	JobID      string `json:"job_id"`
	Title      string `json:"title"`
	OutputRef  string `json:"output_ref"`
	Visibility string `json:"visibility"`
}

// Receipt is the platform's answer: the permanent reference under which
// the clip is now reachable.
type Receipt struct {
	PublishRef string `json:"publish_ref"`
}

// Publisher hands finished clips to the hosting platform.
type Publisher interface {
	Publish(ctx context.Context, req Request) (Receipt, error)
}

type httpPublisher struct {
	endpoint   string
	token      string
	visibility string
	client     *http.Client
}

// NewPublisher builds the HTTP publisher from configuration.
func NewPublisher(cfg *config.Config) Publisher {
	timeout := time.Duration(cfg.Publish.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpPublisher{
		endpoint:   strings.TrimSpace(cfg.Publish.Endpoint),
		token:      strings.TrimSpace(cfg.Publish.Token),
		visibility: strings.TrimSpace(cfg.Publish.DefaultVisibility),
		client:     &http.Client{Timeout: timeout},
	}
}

type publishResponse struct {
	PublishRef  string `json:"publish_ref"`
	ErrorDetail string `json:"error_detail"`
}

func (p *httpPublisher) Publish(ctx context.Context, req Request) (Receipt, error) {
	if req.Visibility == "" {
		req.Visibility = p.visibility
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Receipt{}, services.Wrap(services.ErrPublish, "publish", "submit", "encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, services.Wrap(services.ErrPublish, "publish", "submit", "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Receipt{}, services.Wrap(services.ErrPublish, "publish", "submit", "platform call", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Receipt{}, services.Wrap(services.ErrPublish, "publish", "submit", "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := strings.TrimSpace(string(payload))
		return Receipt{}, services.Wrap(services.ErrPublish, "publish", "submit",
			fmt.Sprintf("platform returned status %d: %s", resp.StatusCode, detail), nil)
	}

	var parsed publishResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return Receipt{}, services.Wrap(services.ErrPublish, "publish", "submit", "decode response", err)
	}
	if parsed.ErrorDetail != "" {
		return Receipt{}, services.Wrap(services.ErrPublish, "publish", "submit", parsed.ErrorDetail, nil)
	}
	if parsed.PublishRef == "" {
		return Receipt{}, services.Wrap(services.ErrPublish, "publish", "submit", "platform returned no reference", nil)
	}
	return Receipt{PublishRef: parsed.PublishRef}, nil
}
