// Package ratelimit implements a durable fixed-window counter that admits
// or rejects an outbound call per key.
//
// Counters live in their own SQLite database so limiter state survives a
// restart. Each evaluation is a single transaction performing the
// read-reset-increment-write sequence, which is the component's core
// correctness requirement: no lost updates under concurrent callers for the
// same key.
package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"clipforge/internal/config"
)

// Decision is the verdict for one evaluation.
type Decision struct {
	Allowed   bool
	Remaining int
	Reset     time.Duration
}

// Limiter evaluates fixed-window limits against durable per-key counters.
type Limiter struct {
	db   *sql.DB
	path string
}

const counterSchema = `
CREATE TABLE IF NOT EXISTS rate_limit_counters (
    key TEXT PRIMARY KEY,
    window_start TEXT NOT NULL,
    count INTEGER NOT NULL
);
`

// Open initializes or connects to the limiter database.
func Open(cfg *config.Config) (*Limiter, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "ratelimit.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open ratelimit db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(counterSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create counter schema: %w", err)
	}

	return &Limiter{db: db, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (l *Limiter) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Evaluate performs one atomic read-increment-write against the counter for
// key. When now has crossed the stored window boundary the counter resets
// before incrementing. The count advances even for rejected calls so
// operators can see pressure beyond the limit; callers must treat
// Allowed=false as "do not proceed".
func (l *Limiter) Evaluate(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Decision{}, errors.New("ratelimit: key must not be empty")
	}
	if limit <= 0 {
		return Decision{}, fmt.Errorf("ratelimit: limit must be positive (got %d)", limit)
	}
	if window <= 0 {
		return Decision{}, fmt.Errorf("ratelimit: window must be positive (got %s)", window)
	}
	now = now.UTC()

	var decision Decision
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		var (
			windowRaw string
			count     int
		)
		windowStart := now
		err := tx.QueryRowContext(ctx,
			`SELECT window_start, count FROM rate_limit_counters WHERE key = ?`, key,
		).Scan(&windowRaw, &count)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			count = 0
		case err != nil:
			return fmt.Errorf("read counter: %w", err)
		default:
			parsed, parseErr := time.Parse(time.RFC3339Nano, windowRaw)
			if parseErr != nil {
				return fmt.Errorf("parse window start: %w", parseErr)
			}
			if now.Sub(parsed) >= window {
				count = 0
			} else {
				windowStart = parsed
			}
		}

		count++
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rate_limit_counters (key, window_start, count) VALUES (?, ?, ?)
             ON CONFLICT(key) DO UPDATE SET window_start = excluded.window_start, count = excluded.count`,
			key,
			windowStart.Format(time.RFC3339Nano),
			count,
		); err != nil {
			return fmt.Errorf("write counter: %w", err)
		}

		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		decision = Decision{
			Allowed:   count <= limit,
			Remaining: remaining,
			Reset:     windowStart.Add(window).Sub(now),
		}
		return nil
	})
	if err != nil {
		return Decision{}, err
	}
	return decision, nil
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withTx runs fn inside a transaction, retrying the whole unit on
// SQLITE_BUSY. Evaluate is a read-then-write sequence, so concurrent
// callers racing the snapshot upgrade must re-run the whole evaluation
// rather than lose the update.
func (l *Limiter) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = l.runTx(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (l *Limiter) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
