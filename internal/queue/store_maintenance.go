package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SweepStale fails jobs stuck in an in-flight status past the cutoff and
// returns the jobs this sweep moved. The status condition is re-checked
// inside the transaction, so a legitimate callback racing the sweep loses at
// most one of the two transitions and the other becomes a no-op.
func (s *Store) SweepStale(ctx context.Context, statuses []Status, cutoff time.Time) ([]*Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	var swept []*Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, 0, len(statuses)+1)
		for _, status := range statuses {
			args = append(args, status)
		}
		args = append(args, cutoff.UTC().Format(time.RFC3339Nano))

		rows, err := tx.QueryContext(
			ctx,
			`SELECT `+jobColumns+` FROM jobs
             WHERE status IN (`+placeholders+`) AND updated_at < ?
             ORDER BY updated_at`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("query stale jobs: %w", err)
		}
		defer rows.Close()

		var stale []*Job
		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				return err
			}
			stale = append(stale, job)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, job := range stale {
			res, err := tx.ExecContext(
				ctx,
				`UPDATE jobs SET status = ?, error_message = ?, updated_at = ?
                 WHERE id = ? AND status = ?`,
				StatusFailed,
				SweepStopReason,
				now.Format(time.RFC3339Nano),
				job.ID,
				job.Status,
			)
			if err != nil {
				return fmt.Errorf("sweep job %s: %w", job.ID, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if affected == 0 {
				continue
			}
			job.Status = StatusFailed
			job.ErrorMessage = SweepStopReason
			job.UpdatedAt = now
			swept = append(swept, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return swept, nil
}

// RetryFailed moves failed jobs back to created for reprocessing, clearing
// the prior attempt bookkeeping.
func (s *Store) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if len(ids) == 0 {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE jobs
             SET status = ?, attempt = 0, provider = NULL, publish_retries = 0,
                 next_publish_at = NULL, error_message = NULL, updated_at = ?
             WHERE status = ?`,
			StatusCreated,
			now,
			StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed jobs: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+2)
	args = append(args, StatusCreated, now)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE jobs
        SET status = ?, attempt = 0, provider = NULL, publish_retries = 0,
            next_publish_at = NULL, error_message = NULL, updated_at = ?
        WHERE id IN (` + placeholders + `) AND status = '` + string(StatusFailed) + `'`
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected jobs: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch {
		case status == StatusCreated:
			health.Created += count
		case status == StatusPublished:
			health.Published += count
		case status == StatusFailed:
			health.Failed += count
		case status.IsInFlight() || status == StatusProcessed || status == StatusProcessingFailed || status == StatusPublishFailed:
			health.InFlight += count
		}
	}
	return health, nil
}

// ClearTerminal removes published and failed jobs, retaining active work.
func (s *Store) ClearTerminal(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM jobs WHERE status IN (?, ?)`,
		StatusPublished,
		StatusFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("clear terminal jobs: %w", err)
	}
	return res.RowsAffected()
}
