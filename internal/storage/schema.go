package storage

import (
	"database/sql"
	"fmt"
)

// migrations are applied in order; user_version records the last applied
// index. Statements must stay append-only.
var migrations = []string{
	`CREATE TABLE sync_queue (
		activity_id   TEXT PRIMARY KEY,
		state         TEXT NOT NULL DEFAULT 'pending',
		attempts      INTEGER NOT NULL DEFAULT 0,
		next_retry_at INTEGER NOT NULL DEFAULT 0,
		last_error    TEXT NOT NULL DEFAULT '',
		dismissed     INTEGER NOT NULL DEFAULT 0,
		payload       TEXT NOT NULL,
		enqueued_at   INTEGER NOT NULL,
		updated_at    INTEGER NOT NULL
	)`,
	`CREATE INDEX idx_sync_queue_state ON sync_queue(state, next_retry_at)`,
	`CREATE TABLE reward_ledger (
		transaction_id TEXT NOT NULL UNIQUE,
		activity_id    TEXT PRIMARY KEY,
		base_value     REAL NOT NULL,
		final_value    REAL NOT NULL,
		factors        TEXT NOT NULL,
		corrects       TEXT NOT NULL DEFAULT '',
		created_at     INTEGER NOT NULL
	)`,
	`CREATE TABLE cursors (
		stream     TEXT PRIMARY KEY,
		token      TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE subscriptions (
		record_type TEXT PRIMARY KEY,
		zone        TEXT NOT NULL DEFAULT '',
		change_tag  TEXT NOT NULL DEFAULT '',
		registered  INTEGER NOT NULL DEFAULT 0,
		updated_at  INTEGER NOT NULL
	)`,
}

func migrate(conn *sql.DB) error {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		if _, err := conn.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version=%d", i+1)); err != nil {
			return fmt.Errorf("bump schema version: %w", err)
		}
	}
	return nil
}
