package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateProviderRequest records an outstanding submission to a provider. The
// partial unique index on (job_id) rejects a second outstanding request for
// the same job, so a racing duplicate dispatch surfaces as an error here
// instead of a second provider call going unaccounted.
func (s *Store) CreateProviderRequest(ctx context.Context, jobID, provider, externalRef string) (*ProviderRequest, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO provider_requests (job_id, provider, external_ref, submitted_at)
         VALUES (?, ?, ?, ?)`,
		jobID,
		provider,
		externalRef,
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert provider request: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &ProviderRequest{
		ID:          id,
		JobID:       jobID,
		Provider:    provider,
		ExternalRef: externalRef,
		SubmittedAt: now,
	}, nil
}

// FindRequestByExternalRef resolves a provider correlation reference. The
// unique index on external_ref keeps this a point lookup.
func (s *Store) FindRequestByExternalRef(ctx context.Context, externalRef string) (*ProviderRequest, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, job_id, provider, external_ref, submitted_at, resolved_at
         FROM provider_requests WHERE external_ref = ?`,
		externalRef,
	)
	return scanRequest(row)
}

// ResolveRequest marks a request resolved. Only the first caller for a given
// reference wins; the bool result reports whether this call performed the
// resolution.
func (s *Store) ResolveRequest(ctx context.Context, externalRef string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE provider_requests SET resolved_at = ? WHERE external_ref = ? AND resolved_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano),
		externalRef,
	)
	if err != nil {
		return false, fmt.Errorf("resolve provider request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ResolveOutstandingForJob resolves whatever request is still open for a job.
// Used when the sweep fails a stuck job so a later provider callback finds
// nothing to act on.
func (s *Store) ResolveOutstandingForJob(ctx context.Context, jobID string) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE provider_requests SET resolved_at = ? WHERE job_id = ? AND resolved_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID,
	)
	if err != nil {
		return 0, fmt.Errorf("resolve outstanding requests: %w", err)
	}
	return res.RowsAffected()
}

func scanRequest(row *sql.Row) (*ProviderRequest, error) {
	var (
		id          int64
		jobID       string
		provider    string
		externalRef string
		submittedAt string
		resolvedAt  sql.NullString
	)
	err := row.Scan(&id, &jobID, &provider, &externalRef, &submittedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan provider request: %w", err)
	}

	request := &ProviderRequest{
		ID:          id,
		JobID:       jobID,
		Provider:    provider,
		ExternalRef: externalRef,
	}
	if submitted, err := parseTimeString(submittedAt); err == nil {
		request.SubmittedAt = submitted
	}
	if resolvedAt.Valid {
		if resolved, err := parseTimeString(resolvedAt.String); err == nil {
			request.ResolvedAt = &resolved
		}
	}
	return request, nil
}
