// Package subscription keeps thin change-notification subscriptions
// registered with the cloud backend and exposes the delta feed behind them.
package subscription

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"example.com/fitsync/internal/domain"
)

// StoreOption configures optional Store behaviour.
type StoreOption func(*Store)

// WithStoreClock overrides the clock used for updated_at stamps.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// Store persists subscription tokens so registrations survive restarts.
type Store struct {
	conn *sql.DB
	now  func() time.Time
}

// NewStore wraps the shared database connection.
func NewStore(conn *sql.DB, opts ...StoreOption) *Store {
	s := &Store{conn: conn, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the stored token for recordType, or nil.
func (s *Store) Load(ctx context.Context, recordType string) (*domain.SubscriptionToken, error) {
	var (
		tok        domain.SubscriptionToken
		registered int
	)
	err := s.conn.QueryRowContext(ctx,
		`SELECT record_type, zone, change_tag, registered FROM subscriptions WHERE record_type = ?`,
		recordType).Scan(&tok.RecordType, &tok.Zone, &tok.ChangeTag, &registered)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tok.Registered = registered == 1
	return &tok, nil
}

// Save upserts the token.
func (s *Store) Save(ctx context.Context, tok domain.SubscriptionToken) error {
	registered := 0
	if tok.Registered {
		registered = 1
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO subscriptions (record_type, zone, change_tag, registered, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(record_type) DO UPDATE SET
			zone = excluded.zone,
			change_tag = excluded.change_tag,
			registered = excluded.registered,
			updated_at = excluded.updated_at`,
		tok.RecordType, tok.Zone, tok.ChangeTag, registered, s.now().Unix())
	return err
}

// Delete removes the token for recordType.
func (s *Store) Delete(ctx context.Context, recordType string) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE record_type = ?`, recordType)
	return err
}
