package queue_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"clipforge/internal/events"
	"clipforge/internal/queue"
	"clipforge/internal/testsupport"
)

func newStore(t *testing.T) *queue.Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return testsupport.MustOpenStore(t, cfg)
}

func sampleEvent(minute int) events.Event {
	return events.Event{Kind: "score", SubjectID: "P1", OccurredAtMinute: minute}
}

func mustCreateJob(t *testing.T, store *queue.Store, minute int) *queue.Job {
	t.Helper()
	ctx := context.Background()
	event := sampleEvent(minute)
	key := events.Fingerprint(event)
	job, created, err := store.NewJob(ctx, key, event)
	if err != nil || !created {
		t.Fatalf("NewJob failed: created=%v err=%v", created, err)
	}
	return job
}

func TestNewJobLinksIdempotencyKey(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	job := mustCreateJob(t, store, 37)
	if job.Status != queue.StatusCreated {
		t.Fatalf("expected created status, got %s", job.Status)
	}
	if job.Attempt != 0 {
		t.Fatalf("expected attempt 0, got %d", job.Attempt)
	}

	record, err := store.GetRecord(ctx, job.SourceEventKey)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if record == nil || record.JobID != job.ID {
		t.Fatalf("expected record linked to job, got %#v", record)
	}

	fetched, err := store.GetBySourceKey(ctx, job.SourceEventKey)
	if err != nil {
		t.Fatalf("GetBySourceKey failed: %v", err)
	}
	if fetched == nil || fetched.ID != job.ID {
		t.Fatalf("expected job by source key, got %#v", fetched)
	}

	event, err := fetched.Event()
	if err != nil {
		t.Fatalf("Event failed: %v", err)
	}
	if event.OccurredAtMinute != 37 {
		t.Fatalf("unexpected event payload: %#v", event)
	}
}

func TestNewJobDetectsDuplicateKey(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	event := sampleEvent(12)
	key := events.Fingerprint(event)
	first, created, err := store.NewJob(ctx, key, event)
	if err != nil || !created {
		t.Fatalf("first NewJob: created=%v err=%v", created, err)
	}
	dup, created, err := store.NewJob(ctx, key, event)
	if err != nil {
		t.Fatalf("second NewJob failed: %v", err)
	}
	if created || dup != nil {
		t.Fatalf("expected duplicate key to create nothing, got created=%v job=%#v", created, dup)
	}

	record, err := store.GetRecord(ctx, key)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if record == nil || record.JobID != first.ID {
		t.Fatalf("expected record linked to first job, got %#v", record)
	}
	if record.Result != nil {
		t.Fatal("expected no stored result while still pending")
	}
}

func TestRecordResultWritesOnce(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	job := mustCreateJob(t, store, 5)
	first := queue.ResultSummary{JobID: job.ID, Status: queue.StatusPublished, PublishRef: "https://clips.test/v/1"}
	if err := store.RecordResult(ctx, job.SourceEventKey, first); err != nil {
		t.Fatalf("RecordResult failed: %v", err)
	}
	second := queue.ResultSummary{JobID: job.ID, Status: queue.StatusFailed, Error: "late write"}
	if err := store.RecordResult(ctx, job.SourceEventKey, second); err != nil {
		t.Fatalf("second RecordResult failed: %v", err)
	}

	record, err := store.GetRecord(ctx, job.SourceEventKey)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if record.Result == nil || record.Result.Status != queue.StatusPublished {
		t.Fatalf("expected first result retained, got %#v", record.Result)
	}
}

func TestTransitionIsConditional(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	job := mustCreateJob(t, store, 8)
	updated, won, err := store.Transition(ctx, job.ID,
		[]queue.Status{queue.StatusCreated}, queue.StatusDispatched,
		func(j *queue.Job) {
			j.Attempt++
			j.Provider = "flashcut"
		},
	)
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if !won {
		t.Fatal("expected first transition to win")
	}
	if updated.Attempt != 1 || updated.Provider != "flashcut" {
		t.Fatalf("mutations not applied: %#v", updated)
	}

	_, won, err = store.Transition(ctx, job.ID,
		[]queue.Status{queue.StatusCreated}, queue.StatusDispatched)
	if err != nil {
		t.Fatalf("second Transition failed: %v", err)
	}
	if won {
		t.Fatal("expected second transition to lose the compare-and-set")
	}
}

func TestTransitionConcurrentCallersSingleWinner(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	job := mustCreateJob(t, store, 21)

	const callers = 8
	var wg sync.WaitGroup
	wins := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, won, err := store.Transition(ctx, job.ID,
				[]queue.Status{queue.StatusCreated}, queue.StatusDispatched)
			if err != nil {
				t.Errorf("Transition failed: %v", err)
				return
			}
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestProviderRequestLifecycle(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	job := mustCreateJob(t, store, 3)
	if _, err := store.CreateProviderRequest(ctx, job.ID, "flashcut", "A-1"); err != nil {
		t.Fatalf("CreateProviderRequest failed: %v", err)
	}

	// Second outstanding request for the same job must be rejected.
	if _, err := store.CreateProviderRequest(ctx, job.ID, "studiocut", "B-1"); err == nil {
		t.Fatal("expected second outstanding request to violate the unique index")
	}

	request, err := store.FindRequestByExternalRef(ctx, "A-1")
	if err != nil {
		t.Fatalf("FindRequestByExternalRef failed: %v", err)
	}
	if request == nil || request.JobID != job.ID {
		t.Fatalf("unexpected request: %#v", request)
	}

	won, err := store.ResolveRequest(ctx, "A-1")
	if err != nil {
		t.Fatalf("ResolveRequest failed: %v", err)
	}
	if !won {
		t.Fatal("expected first resolution to win")
	}
	won, err = store.ResolveRequest(ctx, "A-1")
	if err != nil {
		t.Fatalf("second ResolveRequest failed: %v", err)
	}
	if won {
		t.Fatal("expected second resolution to be a no-op")
	}

	// With the prior request resolved a new one is allowed.
	if _, err := store.CreateProviderRequest(ctx, job.ID, "studiocut", "B-1"); err != nil {
		t.Fatalf("request after resolution failed: %v", err)
	}

	missing, err := store.FindRequestByExternalRef(ctx, "nope")
	if err != nil {
		t.Fatalf("lookup of unknown ref failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown ref, got %#v", missing)
	}
}

func TestSweepStaleFailsOldInFlightJobs(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	stale := mustCreateJob(t, store, 1)
	if _, won, err := store.Transition(ctx, stale.ID,
		[]queue.Status{queue.StatusCreated}, queue.StatusProcessing); err != nil || !won {
		t.Fatalf("setup transition failed: won=%v err=%v", won, err)
	}

	fresh := mustCreateJob(t, store, 2)
	_ = fresh

	time.Sleep(20 * time.Millisecond)
	cutoff := time.Now().UTC()

	swept, err := store.SweepStale(ctx, []queue.Status{queue.StatusProcessing, queue.StatusPublishing}, cutoff)
	if err != nil {
		t.Fatalf("SweepStale failed: %v", err)
	}
	if len(swept) != 1 || swept[0].ID != stale.ID {
		t.Fatalf("expected only the processing job swept, got %#v", swept)
	}
	if swept[0].Status != queue.StatusFailed || swept[0].ErrorMessage != queue.SweepStopReason {
		t.Fatalf("unexpected swept job state: %#v", swept[0])
	}

	// A second sweep finds nothing: the job already left processing.
	again, err := store.SweepStale(ctx, []queue.Status{queue.StatusProcessing}, time.Now().UTC())
	if err != nil {
		t.Fatalf("second SweepStale failed: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected idempotent sweep, got %#v", again)
	}
}

func TestNextDuePublishRetry(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	job := mustCreateJob(t, store, 9)
	past := time.Now().UTC().Add(-time.Minute)
	if _, won, err := store.Transition(ctx, job.ID,
		[]queue.Status{queue.StatusCreated}, queue.StatusPublishFailed,
		func(j *queue.Job) { j.NextPublishAt = &past },
	); err != nil || !won {
		t.Fatalf("setup transition failed: won=%v err=%v", won, err)
	}

	due, err := store.NextDuePublishRetry(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("NextDuePublishRetry failed: %v", err)
	}
	if due == nil || due.ID != job.ID {
		t.Fatalf("expected due job, got %#v", due)
	}

	future := time.Now().UTC().Add(time.Hour)
	if _, won, err := store.Transition(ctx, job.ID,
		[]queue.Status{queue.StatusPublishFailed}, queue.StatusPublishFailed,
		func(j *queue.Job) { j.NextPublishAt = &future },
	); err != nil || !won {
		t.Fatalf("reschedule failed: won=%v err=%v", won, err)
	}
	due, err = store.NextDuePublishRetry(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("NextDuePublishRetry failed: %v", err)
	}
	if due != nil {
		t.Fatalf("expected no due job before the deadline, got %#v", due)
	}
}

func TestRetryFailedAndStats(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	var failedIDs []string
	for i := 0; i < 3; i++ {
		job := mustCreateJob(t, store, 100+i)
		if _, won, err := store.Transition(ctx, job.ID,
			[]queue.Status{queue.StatusCreated}, queue.StatusFailed,
			func(j *queue.Job) { j.ErrorMessage = fmt.Sprintf("boom %d", i) },
		); err != nil || !won {
			t.Fatalf("setup transition failed: won=%v err=%v", won, err)
		}
		failedIDs = append(failedIDs, job.ID)
	}

	count, err := store.RetryFailed(ctx, failedIDs[0])
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 job retried, got %d", count)
	}

	count, err = store.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed all failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 jobs retried, got %d", count)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[queue.StatusCreated] != 3 {
		t.Fatalf("expected 3 created jobs, got %#v", stats)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 3 || health.Created != 3 {
		t.Fatalf("unexpected health summary: %#v", health)
	}
}

func TestClearTerminalRetainsActiveJobs(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	active := mustCreateJob(t, store, 50)
	done := mustCreateJob(t, store, 51)
	if _, won, err := store.Transition(ctx, done.ID,
		[]queue.Status{queue.StatusCreated}, queue.StatusPublished); err != nil || !won {
		t.Fatalf("setup transition failed: won=%v err=%v", won, err)
	}

	removed, err := store.ClearTerminal(ctx)
	if err != nil {
		t.Fatalf("ClearTerminal failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 job cleared, got %d", removed)
	}

	remaining, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != active.ID {
		t.Fatalf("expected only the active job to remain, got %#v", remaining)
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := queue.ParseStatus(" Processing "); !ok || status != queue.StatusProcessing {
		t.Fatalf("unexpected parse result: %v %v", status, ok)
	}
	if _, ok := queue.ParseStatus("bogus"); ok {
		t.Fatal("expected unknown status to fail parsing")
	}
}
