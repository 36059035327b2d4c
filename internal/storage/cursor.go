package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Stream names for the independent event sources.
const (
	StreamHealthStore = "health_store"
)

// CursorOption configures optional CursorStore behaviour.
type CursorOption func(*CursorStore)

// WithClock overrides the clock used for updated_at stamps.
func WithClock(now func() time.Time) CursorOption {
	return func(s *CursorStore) { s.now = now }
}

// CursorStore persists the opaque per-stream cursor tokens. A cursor only
// advances after its batch has been durably handed downstream, so Save is
// never called on partial failure.
type CursorStore struct {
	conn *sql.DB
	now  func() time.Time
}

// NewCursorStore wraps the shared database connection.
func NewCursorStore(conn *sql.DB, opts ...CursorOption) *CursorStore {
	s := &CursorStore{conn: conn, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the stored token for stream, or "" when the stream has never
// been polled.
func (s *CursorStore) Load(ctx context.Context, stream string) (string, error) {
	var token string
	err := s.conn.QueryRowContext(ctx,
		`SELECT token FROM cursors WHERE stream = ?`, stream).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

// Save records token as the durably-processed point of stream.
func (s *CursorStore) Save(ctx context.Context, stream, token string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO cursors (stream, token, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(stream) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
		stream, token, s.now().Unix())
	return err
}
