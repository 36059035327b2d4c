// Package ledger is the append-only store of reward transactions, one per
// activity, used for audit and breakdown display.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/fitsync/internal/domain"
)

// Option configures optional Store behaviour.
type Option func(*Store)

// WithClock overrides the clock used for CreatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store persists reward transactions. Appends are idempotent by activity ID:
// the unique primary key enforces at most one transaction per activity, and
// a replay returns the stored transaction unchanged.
type Store struct {
	conn *sql.DB
	now  func() time.Time
}

// NewStore wraps the shared database connection.
func NewStore(conn *sql.DB, opts ...Option) *Store {
	s := &Store{conn: conn, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append records tx, assigning its transaction ID and creation timestamp.
// When a transaction already exists for the activity, the existing one is
// returned with replay=true and nothing is written.
func (s *Store) Append(ctx context.Context, tx domain.RewardTransaction) (domain.RewardTransaction, bool, error) {
	if existing, err := s.Get(ctx, tx.ActivityID); err != nil {
		return domain.RewardTransaction{}, false, err
	} else if existing != nil {
		return *existing, true, nil
	}

	tx.TransactionID = uuid.NewString()
	tx.CreatedAt = s.now()

	factors, err := json.Marshal(tx.Factors)
	if err != nil {
		return domain.RewardTransaction{}, false, err
	}

	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO reward_ledger (transaction_id, activity_id, base_value, final_value, factors, corrects, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.TransactionID, tx.ActivityID, tx.BaseValue, tx.FinalValue, string(factors), tx.Corrects, tx.CreatedAt.Unix())
	if err != nil {
		// Two concurrent appends can both miss the pre-check; the primary
		// key settles the race in favour of the first writer.
		if isUniqueViolation(err) {
			existing, getErr := s.Get(ctx, tx.ActivityID)
			if getErr != nil {
				return domain.RewardTransaction{}, false, getErr
			}
			if existing != nil {
				return *existing, true, nil
			}
		}
		return domain.RewardTransaction{}, false, fmt.Errorf("append reward transaction: %w", err)
	}
	return tx, false, nil
}

// Get returns the transaction for activityID, or nil when none exists.
func (s *Store) Get(ctx context.Context, activityID string) (*domain.RewardTransaction, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT transaction_id, activity_id, base_value, final_value, factors, corrects, created_at
		 FROM reward_ledger WHERE activity_id = ?`, activityID)
	return scanTransaction(row)
}

// Balance returns the running sum of final values.
func (s *Store) Balance(ctx context.Context) (float64, error) {
	var balance float64
	err := s.conn.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(final_value), 0) FROM reward_ledger`).Scan(&balance)
	return balance, err
}

// DayTotal is the reward earned on one UTC day.
type DayTotal struct {
	Day   string  `json:"day"`
	Total float64 `json:"total"`
}

// DailyTotals returns per-day reward sums for the most recent limit days,
// newest first.
func (s *Store) DailyTotals(ctx context.Context, limit int) ([]DayTotal, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT date(created_at, 'unixepoch') AS day, SUM(final_value)
		 FROM reward_ledger GROUP BY day ORDER BY day DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DayTotal
	for rows.Next() {
		var dt DayTotal
		if err := rows.Scan(&dt.Day, &dt.Total); err != nil {
			return nil, err
		}
		out = append(out, dt)
	}
	return out, rows.Err()
}

// ListRecent returns up to limit transactions, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]domain.RewardTransaction, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT transaction_id, activity_id, base_value, final_value, factors, corrects, created_at
		 FROM reward_ledger ORDER BY created_at DESC, transaction_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RewardTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.RewardTransaction, error) {
	var (
		tx        domain.RewardTransaction
		factors   string
		createdAt int64
	)
	err := row.Scan(&tx.TransactionID, &tx.ActivityID, &tx.BaseValue, &tx.FinalValue, &factors, &tx.Corrects, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(factors), &tx.Factors); err != nil {
		return nil, fmt.Errorf("decode factors for %s: %w", tx.ActivityID, err)
	}
	tx.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &tx, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
