// Package queue persists pending activity uploads and drains them to the
// cloud backend with retry and backoff.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"example.com/fitsync/internal/domain"
)

// State is the queue-entry lifecycle: pending -> inFlight -> synced,
// retryPending or failed. Entries are never silently dropped; failed ones
// stay visible until dismissed.
type State string

const (
	StatePending      State = "pending"
	StateInFlight     State = "in_flight"
	StateRetryPending State = "retry_pending"
	StateSynced       State = "synced"
	StateFailed       State = "failed"
)

// Entry wraps one activity awaiting upload.
type Entry struct {
	Activity    domain.Activity
	State       State
	Attempts    int
	NextRetryAt time.Time
	LastError   string
	EnqueuedAt  time.Time
}

// Store is the SQLite-backed queue table.
type Store struct {
	conn *sql.DB
}

// NewStore wraps the shared database connection.
func NewStore(conn *sql.DB) *Store {
	return &Store{conn: conn}
}

// Enqueue inserts act as a pending entry. It is idempotent by activity ID:
// re-enqueuing an already-queued or already-synced activity is a no-op.
// The returned bool reports whether a new entry was created.
func (s *Store) Enqueue(ctx context.Context, act domain.Activity, now time.Time) (bool, error) {
	payload, err := json.Marshal(act)
	if err != nil {
		return false, err
	}
	res, err := s.conn.ExecContext(ctx,
		`INSERT INTO sync_queue (activity_id, state, payload, enqueued_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(activity_id) DO NOTHING`,
		act.ID, string(StatePending), string(payload), now.Unix(), now.Unix())
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", act.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClaimDue moves up to limit due entries to inFlight and returns them.
// Due means pending, or retryPending whose next retry time has passed.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT activity_id, state, attempts, next_retry_at, last_error, payload, enqueued_at
		 FROM sync_queue
		 WHERE state IN (?, ?) AND next_retry_at <= ?
		 ORDER BY enqueued_at
		 LIMIT ?`,
		string(StatePending), string(StateRetryPending), now.Unix(), limit)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range entries {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sync_queue SET state = ?, updated_at = ? WHERE activity_id = ?`,
			string(StateInFlight), now.Unix(), entries[i].Activity.ID); err != nil {
			return nil, err
		}
		entries[i].State = StateInFlight
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entries, nil
}

// MarkSynced records a confirmed backend acknowledgment. attempts is the
// total number of save attempts including the successful one.
func (s *Store) MarkSynced(ctx context.Context, activityID string, attempts int, now time.Time) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE sync_queue
		 SET state = ?, attempts = ?, last_error = '', updated_at = ?
		 WHERE activity_id = ?`,
		string(StateSynced), attempts, now.Unix(), activityID)
	return err
}

// MarkRetry schedules the next attempt after a transient failure.
func (s *Store) MarkRetry(ctx context.Context, activityID string, attempts int, nextRetry time.Time, lastErr string, now time.Time) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE sync_queue
		 SET state = ?, attempts = ?, next_retry_at = ?, last_error = ?, updated_at = ?
		 WHERE activity_id = ?`,
		string(StateRetryPending), attempts, nextRetry.Unix(), lastErr, now.Unix(), activityID)
	return err
}

// MarkFailed parks an entry after a non-retryable error. It stays queryable
// until dismissed.
func (s *Store) MarkFailed(ctx context.Context, activityID string, attempts int, lastErr string, now time.Time) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE sync_queue
		 SET state = ?, attempts = ?, last_error = ?, updated_at = ?
		 WHERE activity_id = ?`,
		string(StateFailed), attempts, lastErr, now.Unix(), activityID)
	return err
}

// Release reverts an inFlight entry to pending. Used when an upload outcome
// is ambiguous (cancellation, shutdown): ambiguity always resolves to retry.
func (s *Store) Release(ctx context.Context, activityID string, now time.Time) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE sync_queue SET state = ?, next_retry_at = 0, updated_at = ? WHERE activity_id = ?`,
		string(StatePending), now.Unix(), activityID)
	return err
}

// RequeueInFlight reverts every inFlight entry to pending. Called once at
// startup so entries orphaned by a crash are retried rather than lost.
func (s *Store) RequeueInFlight(ctx context.Context, now time.Time) (int, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE sync_queue SET state = ?, updated_at = ? WHERE state = ?`,
		string(StatePending), now.Unix(), string(StateInFlight))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Counts returns the number of entries per state, excluding dismissed ones.
func (s *Store) Counts(ctx context.Context) (map[State]int, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM sync_queue WHERE dismissed = 0 GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[State]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[State(state)] = n
	}
	return counts, rows.Err()
}

// Failures lists permanently failed entries that have not been dismissed.
func (s *Store) Failures(ctx context.Context) ([]Entry, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT activity_id, state, attempts, next_retry_at, last_error, payload, enqueued_at
		 FROM sync_queue WHERE state = ? AND dismissed = 0 ORDER BY enqueued_at`,
		string(StateFailed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Dismiss acknowledges a failed entry so it stops surfacing in status.
func (s *Store) Dismiss(ctx context.Context, activityID string, now time.Time) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE sync_queue SET dismissed = 1, updated_at = ? WHERE activity_id = ? AND state = ?`,
		now.Unix(), activityID, string(StateFailed))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no failed entry for activity %s", activityID)
	}
	return nil
}

// Get returns the entry for activityID, or nil.
func (s *Store) Get(ctx context.Context, activityID string) (*Entry, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT activity_id, state, attempts, next_retry_at, last_error, payload, enqueued_at
		 FROM sync_queue WHERE activity_id = ?`, activityID)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e          Entry
		id         string
		state      string
		nextRetry  int64
		payload    string
		enqueuedAt int64
	)
	if err := row.Scan(&id, &state, &e.Attempts, &nextRetry, &e.LastError, &payload, &enqueuedAt); err != nil {
		return Entry{}, err
	}
	if err := json.Unmarshal([]byte(payload), &e.Activity); err != nil {
		return Entry{}, fmt.Errorf("decode payload for %s: %w", id, err)
	}
	e.State = State(state)
	e.NextRetryAt = time.Unix(nextRetry, 0).UTC()
	e.EnqueuedAt = time.Unix(enqueuedAt, 0).UTC()
	return e, nil
}
