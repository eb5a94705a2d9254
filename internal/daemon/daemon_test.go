package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clipforge/internal/config"
	"clipforge/internal/daemon"
	"clipforge/internal/logging"
	"clipforge/internal/pipeline"
	"clipforge/internal/queue"
	"clipforge/internal/ratelimit"
	"clipforge/internal/testsupport"
)

type harness struct {
	cfg    *config.Config
	daemon *daemon.Daemon
	base   string
	client *http.Client
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)

	store := testsupport.MustOpenStore(t, cfg)
	limiter, err := ratelimit.Open(cfg)
	if err != nil {
		t.Fatalf("open limiter: %v", err)
	}

	logger := logging.NewNop()
	pipe := pipeline.New(cfg, store, limiter, logger)
	d, err := daemon.New(cfg, store, limiter, pipe, logger)
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon.Start failed: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = d.Close()
	})

	return &harness{
		cfg:    cfg,
		daemon: d,
		base:   "http://" + d.Addr(),
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (h *harness) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, h.base+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token := h.cfg.Server.APIToken; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	payload, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, payload
}

func (h *harness) waitForStatus(t *testing.T, jobID string, want queue.Status) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		resp, payload := h.do(t, http.MethodGet, "/api/queue/"+jobID, nil)
		if resp.StatusCode == http.StatusOK {
			var view daemon.JobView
			if err := json.Unmarshal(payload, &view); err != nil {
				t.Fatalf("decode job view: %v", err)
			}
			if view.Status == string(want) {
				return
			}
			if view.Status == string(queue.StatusFailed) && want != queue.StatusFailed {
				t.Fatalf("job failed while waiting for %s: %s", want, view.ErrorMessage)
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", jobID, want)
}

func scoreEvent(minute int) map[string]any {
	return map[string]any{
		"kind":               "score",
		"subject_id":         "P1",
		"occurred_at_minute": minute,
	}
}

func TestDaemonEndToEndInlineProvider(t *testing.T) {
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"done","output_ref":"clip-e2e"}`))
	}))
	defer relay.Close()
	platform := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"publish_ref":"https://clips.test/v/e2e"}`))
	}))
	defer platform.Close()

	h := newHarness(t,
		testsupport.WithProviderEndpoints(relay.URL, relay.URL),
		testsupport.WithPublishEndpoint(platform.URL),
		testsupport.WithFanoutRelay(""),
	)

	resp, payload := h.do(t, http.MethodPost, "/api/events", scoreEvent(10))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, payload)
	}
	var submitted daemon.SubmitResponse
	if err := json.Unmarshal(payload, &submitted); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	if !submitted.Accepted || submitted.JobID == "" {
		t.Fatalf("unexpected submit response: %#v", submitted)
	}

	h.waitForStatus(t, submitted.JobID, queue.StatusPublished)

	// The same event again replays the stored outcome.
	resp, payload = h.do(t, http.MethodPost, "/api/events", scoreEvent(10))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for finished duplicate, got %d: %s", resp.StatusCode, payload)
	}
	var duplicate daemon.SubmitResponse
	if err := json.Unmarshal(payload, &duplicate); err != nil {
		t.Fatalf("decode duplicate response: %v", err)
	}
	if duplicate.Accepted || duplicate.Result == nil || duplicate.Result.PublishRef != "https://clips.test/v/e2e" {
		t.Fatalf("expected replayed result, got %#v", duplicate)
	}
}

func TestDaemonEndToEndCallbackProvider(t *testing.T) {
	ref := "CB-42"
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(fmt.Sprintf(`{"external_ref":%q}`, ref)))
	}))
	defer relay.Close()
	platform := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"publish_ref":"https://clips.test/v/cb"}`))
	}))
	defer platform.Close()

	h := newHarness(t,
		testsupport.WithProviderEndpoints(relay.URL, relay.URL),
		testsupport.WithPublishEndpoint(platform.URL),
		testsupport.WithFanoutRelay(""),
	)

	resp, payload := h.do(t, http.MethodPost, "/api/events", scoreEvent(55))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, payload)
	}
	var submitted daemon.SubmitResponse
	if err := json.Unmarshal(payload, &submitted); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}

	h.waitForStatus(t, submitted.JobID, queue.StatusProcessing)

	resp, _ = h.do(t, http.MethodPost, "/api/callbacks/provider", map[string]string{
		"external_ref": ref,
		"status":       "done",
		"output_ref":   "clip-cb",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("callback must be acknowledged with 200, got %d", resp.StatusCode)
	}

	h.waitForStatus(t, submitted.JobID, queue.StatusPublished)
}

func TestCallbackAlwaysAcknowledged(t *testing.T) {
	h := newHarness(t, testsupport.WithFanoutRelay(""))

	resp, _ := h.do(t, http.MethodPost, "/api/callbacks/provider", map[string]string{
		"external_ref": "never-issued",
		"status":       "done",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unmatched callback must still return 200, got %d", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	h := newHarness(t, testsupport.WithFanoutRelay(""))

	resp, payload := h.do(t, http.MethodGet, "/api/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var status daemon.StatusResponse
	if err := json.Unmarshal(payload, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running || status.PID == 0 || status.PipelineDB == "" {
		t.Fatalf("unexpected status: %#v", status)
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	h := newHarness(t, testsupport.WithFanoutRelay(""), func(cfg *config.Config) {
		cfg.Server.APIToken = "secret-token"
	})

	req, err := http.NewRequest(http.MethodGet, h.base+"/api/status", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	// With the token the same request succeeds.
	resp, _ = h.do(t, http.MethodGet, "/api/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
}

func TestInvalidEventRejected(t *testing.T) {
	h := newHarness(t, testsupport.WithFanoutRelay(""))

	resp, _ := h.do(t, http.MethodPost, "/api/events", map[string]any{
		"kind":       "",
		"subject_id": "P1",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid event, got %d", resp.StatusCode)
	}
}

func TestSecondInstanceRejected(t *testing.T) {
	h := newHarness(t, testsupport.WithFanoutRelay(""))

	store := testsupport.MustOpenStore(t, h.cfg)
	limiter, err := ratelimit.Open(h.cfg)
	if err != nil {
		t.Fatalf("open limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })

	logger := logging.NewNop()
	pipe := pipeline.New(h.cfg, store, limiter, logger)
	second, err := daemon.New(h.cfg, store, limiter, pipe, logger)
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("expected second instance to be rejected by the lock")
	}
}
