package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// GetRecord fetches the idempotency record for a fingerprint.
func (s *Store) GetRecord(ctx context.Context, key string) (*IdempotencyRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT key, job_id, first_seen_at, result_json FROM idempotency_keys WHERE key = ?`,
		key,
	)

	var (
		storedKey  string
		jobID      sql.NullString
		seenRaw    string
		resultJSON sql.NullString
	)
	err := row.Scan(&storedKey, &jobID, &seenRaw, &resultJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}

	record := &IdempotencyRecord{Key: storedKey, JobID: jobID.String}
	if seen, err := parseTimeString(seenRaw); err == nil {
		record.FirstSeenAt = seen
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var summary ResultSummary
		if err := json.Unmarshal([]byte(resultJSON.String), &summary); err != nil {
			return nil, fmt.Errorf("unmarshal stored result: %w", err)
		}
		record.Result = &summary
	}
	return record, nil
}

// RecordResult stores the terminal outcome against a fingerprint. The write
// is conditional on no result being present; later calls for the same key
// are no-ops, which keeps the record immutable after its single late write.
func (s *Store) RecordResult(ctx context.Context, key string, summary ResultSummary) error {
	encoded, err := summary.marshal()
	if err != nil {
		return fmt.Errorf("marshal result summary: %w", err)
	}
	_, err = s.execWithRetry(
		ctx,
		`UPDATE idempotency_keys SET result_json = ? WHERE key = ? AND result_json IS NULL`,
		encoded,
		key,
	)
	if err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	return nil
}
