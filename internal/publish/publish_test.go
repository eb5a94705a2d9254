package publish_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"clipforge/internal/publish"
	"clipforge/internal/services"
	"clipforge/internal/testsupport"
)

func TestPublisherReturnsPermanentReference(t *testing.T) {
	var got publish.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer publish-token" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"publish_ref":"https://clips.example/v/abc123"}`))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithPublishEndpoint(server.URL))
	cfg.Publish.Token = "publish-token"
	publisher := publish.NewPublisher(cfg)

	receipt, err := publisher.Publish(context.Background(), publish.Request{
		JobID:     "job-1",
		Title:     "Score by P1",
		OutputRef: "clip-1",
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if receipt.PublishRef != "https://clips.example/v/abc123" {
		t.Fatalf("unexpected receipt: %#v", receipt)
	}
	if got.Visibility != cfg.Publish.DefaultVisibility {
		t.Fatalf("expected default visibility %q, got %q", cfg.Publish.DefaultVisibility, got.Visibility)
	}
}

func TestPublisherWrapsPlatformErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http failure", http.StatusServiceUnavailable, "maintenance"},
		{"error detail", http.StatusOK, `{"error_detail":"quota exceeded"}`},
		{"empty reference", http.StatusOK, `{}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			cfg := testsupport.NewConfig(t, testsupport.WithPublishEndpoint(server.URL))
			_, err := publish.NewPublisher(cfg).Publish(context.Background(), publish.Request{JobID: "job-1"})
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, services.ErrPublish) {
				t.Fatalf("expected publish marker, got %v", err)
			}
		})
	}
}

func TestNewFanoutReturnsNoopWhenRelayMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Fanout.RelayURL = ""
	fanout := publish.NewFanout(cfg)
	if err := fanout.NotifyClipPublished(context.Background(), "Score by P1", "https://clips.example/v/abc123"); err != nil {
		t.Fatalf("expected noop fan-out to return nil, got %v", err)
	}
}

func TestFanoutFormatsAnnouncements(t *testing.T) {
	var announcements []map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var decoded map[string]string
		if err := json.Unmarshal(body, &decoded); err != nil {
			t.Errorf("decode announcement: %v", err)
		}
		announcements = append(announcements, decoded)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithFanoutRelay(server.URL))
	fanout := publish.NewFanout(cfg)
	ctx := context.Background()

	if err := fanout.NotifyClipPublished(ctx, "  Score by P1  ", "https://clips.example/v/abc123"); err != nil {
		t.Fatalf("NotifyClipPublished failed: %v", err)
	}
	if err := fanout.NotifyJobFailed(ctx, "Score by P2", ""); err != nil {
		t.Fatalf("NotifyJobFailed failed: %v", err)
	}

	if len(announcements) != 2 {
		t.Fatalf("expected 2 announcements, got %d", len(announcements))
	}
	published := announcements[0]
	if published["kind"] != "clip.published" || published["title"] != "Score by P1" {
		t.Fatalf("unexpected published announcement: %#v", published)
	}
	if published["publish_ref"] != "https://clips.example/v/abc123" {
		t.Fatalf("unexpected publish ref: %#v", published)
	}
	failed := announcements[1]
	if failed["kind"] != "clip.failed" || failed["detail"] != "unknown" {
		t.Fatalf("unexpected failure announcement: %#v", failed)
	}
}

func TestFanoutReportsRelayFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "relay down", http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithFanoutRelay(server.URL))
	if err := publish.NewFanout(cfg).TestNotification(context.Background()); err == nil {
		t.Fatal("expected error from failing relay")
	}
}
