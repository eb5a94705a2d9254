package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clipforge/internal/events"
)

// NewJob registers an event fingerprint and inserts its job in a single
// transaction. Registration and job creation commit together, so no crash
// or error path can leave a registered key with no job behind it. When the
// key is already known no job is created and created is false; the caller
// reads the existing record via GetRecord.
func (s *Store) NewJob(ctx context.Context, sourceEventKey string, event events.Event) (*Job, bool, error) {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return nil, false, fmt.Errorf("marshal event: %w", err)
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	id := uuid.NewString()

	created := false
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		created = false
		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO idempotency_keys (key, first_seen_at) VALUES (?, ?)
             ON CONFLICT(key) DO NOTHING`,
			sourceEventKey,
			timestamp,
		)
		if err != nil {
			return fmt.Errorf("register idempotency key: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return nil
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO jobs (
                id, subject_id, source_event_key, event_json, status,
                attempt, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id,
			event.SubjectID,
			sourceEventKey,
			string(eventJSON),
			StatusCreated,
			0,
			timestamp,
			timestamp,
		); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE idempotency_keys SET job_id = ? WHERE key = ?`,
			id,
			sourceEventKey,
		); err != nil {
			return fmt.Errorf("link idempotency key: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !created {
		return nil, false, nil
	}

	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// GetByID fetches a job by identifier. A missing job returns (nil, nil).
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetBySourceKey returns the job created for an event fingerprint.
func (s *Store) GetBySourceKey(ctx context.Context, key string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE source_event_key = ?`, key)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job by source key: %w", err)
	}
	return job, nil
}

// Event unmarshals the retained event payload.
func (j *Job) Event() (events.Event, error) {
	var event events.Event
	if err := json.Unmarshal([]byte(j.EventJSON), &event); err != nil {
		return events.Event{}, fmt.Errorf("unmarshal job event: %w", err)
	}
	return event, nil
}

// List returns jobs filtered by status set (or all jobs when no status is
// provided), oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// NextForStatuses returns the oldest job matching any of the provided statuses.
func (s *Store) NextForStatuses(ctx context.Context, statuses ...Status) (*Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := makePlaceholders(len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status IN (` + placeholders + `) ORDER BY created_at LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, args...)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// NextDuePublishRetry returns the oldest publish-failed job whose backoff
// deadline has passed.
func (s *Store) NextDuePublishRetry(ctx context.Context, now time.Time) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
        WHERE status = ? AND next_publish_at IS NOT NULL AND next_publish_at <= ?
        ORDER BY next_publish_at LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, StatusPublishFailed, now.UTC().Format(time.RFC3339Nano))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// JobMutation adjusts job fields inside a winning transition.
type JobMutation func(*Job)

// Transition performs a conditional compare-and-set move of a job from one
// of the expected statuses to the target status, applying mutations only
// when the job still holds an expected status. It returns the resulting job
// and whether this caller won the transition. Losing a transition is not an
// error; it means a concurrent caller already moved the job.
func (s *Store) Transition(ctx context.Context, id string, from []Status, to Status, mutations ...JobMutation) (*Job, bool, error) {
	if len(from) == 0 {
		return nil, false, errors.New("transition requires at least one expected status")
	}

	var (
		result *Job
		won    bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
		job, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("transition: job %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("transition read: %w", err)
		}

		eligible := false
		for _, status := range from {
			if job.Status == status {
				eligible = true
				break
			}
		}
		if !eligible {
			result = job
			won = false
			return nil
		}

		job.Status = to
		for _, mutate := range mutations {
			mutate(job)
		}
		job.UpdatedAt = time.Now().UTC()

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, attempt = ?, provider = ?, output_ref = ?,
                 publish_ref = ?, publish_retries = ?, next_publish_at = ?,
                 error_message = ?, updated_at = ?
             WHERE id = ?`,
			job.Status,
			job.Attempt,
			nullableString(job.Provider),
			nullableString(job.OutputRef),
			nullableString(job.PublishRef),
			job.PublishRetries,
			nullableTime(job.NextPublishAt),
			nullableString(job.ErrorMessage),
			job.UpdatedAt.Format(time.RFC3339Nano),
			job.ID,
		); err != nil {
			return fmt.Errorf("transition write: %w", err)
		}

		result = job
		won = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, won, nil
}
