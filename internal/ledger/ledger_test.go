package ledger_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"clipforge/internal/ledger"
	"clipforge/internal/testsupport"
)

func TestNewLedgerReturnsNoopWhenDisabled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Ledger.Enabled = false
	sink := ledger.NewLedger(cfg)
	if err := sink.Append(context.Background(), ledger.Entry{JobID: "job-1"}); err != nil {
		t.Fatalf("expected noop ledger to return nil, got %v", err)
	}
}

func TestLedgerAppendsEntry(t *testing.T) {
	var got ledger.Entry
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ledger-token" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode entry: %v", err)
		}
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Ledger.Enabled = true
	cfg.Ledger.Endpoint = server.URL
	cfg.Ledger.Token = "ledger-token"

	entry := ledger.Entry{
		JobID:          "job-1",
		SourceEventKey: "abc123",
		Status:         "PUBLISHED",
		Provider:       "flashcut",
		PublishRef:     "https://clips.example/v/abc123",
	}
	if err := ledger.NewLedger(cfg).Append(context.Background(), entry); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if got.JobID != entry.JobID || got.Status != entry.Status || got.PublishRef != entry.PublishRef {
		t.Fatalf("unexpected entry: %#v", got)
	}
	if got.RecordedAt.IsZero() {
		t.Fatal("expected RecordedAt to be stamped")
	}
}

func TestLedgerReportsSinkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "sheet locked", http.StatusConflict)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Ledger.Enabled = true
	cfg.Ledger.Endpoint = server.URL

	if err := ledger.NewLedger(cfg).Append(context.Background(), ledger.Entry{JobID: "job-1"}); err == nil {
		t.Fatal("expected error from failing sink")
	}
}
