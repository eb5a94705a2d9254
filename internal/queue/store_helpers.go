package queue

import (
	"database/sql"
	"errors"
	"time"
)

const jobColumns = "id, subject_id, source_event_key, event_json, status, attempt, provider, output_ref, publish_ref, publish_retries, next_publish_at, error_message, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id            string
		subjectID     string
		sourceKey     string
		eventJSON     string
		statusStr     string
		attempt       int
		provider      sql.NullString
		outputRef     sql.NullString
		publishRef    sql.NullString
		retries       int
		nextPublish   sql.NullString
		errorMessage  sql.NullString
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&subjectID,
		&sourceKey,
		&eventJSON,
		&statusStr,
		&attempt,
		&provider,
		&outputRef,
		&publishRef,
		&retries,
		&nextPublish,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:             id,
		SubjectID:      subjectID,
		SourceEventKey: sourceKey,
		EventJSON:      eventJSON,
		Status:         Status(statusStr),
		Attempt:        attempt,
		Provider:       provider.String,
		OutputRef:      outputRef.String,
		PublishRef:     publishRef.String,
		PublishRetries: retries,
		ErrorMessage:   errorMessage.String,
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if nextPublish.Valid {
		if at, err := parseTimeString(nextPublish.String); err == nil {
			job.NextPublishAt = &at
		}
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
