package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewStore(conn, WithClock(func() time.Time {
		return time.Unix(1_700_000_000, 0).UTC()
	}))
}

func rewardTx(activityID string, final float64) domain.RewardTransaction {
	return domain.RewardTransaction{
		ActivityID: activityID,
		BaseValue:  60,
		FinalValue: final,
		Factors: []domain.AdjustmentFactor{
			{Name: domain.FactorBaseRate, Magnitude: 2.0},
			{Name: domain.FactorTrust, Magnitude: 0.8},
		},
	}
}

func TestAppendAssignsIdentityAndTimestamp(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tx, replay, err := store.Append(ctx, rewardTx("act-1", 48))
	require.NoError(t, err)
	require.False(t, replay)
	require.NotEmpty(t, tx.TransactionID)
	require.Equal(t, time.Unix(1_700_000_000, 0).UTC(), tx.CreatedAt)
}

func TestAppendReplayReturnsStoredTransaction(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, _, err := store.Append(ctx, rewardTx("act-1", 48))
	require.NoError(t, err)

	// A replay with a different computed value must not overwrite the
	// stored transaction.
	again, replay, err := store.Append(ctx, rewardTx("act-1", 999))
	require.NoError(t, err)
	require.True(t, replay)
	require.Equal(t, first.TransactionID, again.TransactionID)
	require.InDelta(t, 48.0, again.FinalValue, 1e-9)

	txs, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
}

func TestGetRoundTripsFactors(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, _, err := store.Append(ctx, rewardTx("act-1", 48))
	require.NoError(t, err)

	got, err := store.Get(ctx, "act-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Factors, 2)
	require.Equal(t, domain.FactorBaseRate, got.Factors[0].Name)
	require.InDelta(t, 2.0, got.Factors[0].Magnitude, 1e-9)

	missing, err := store.Get(ctx, "act-2")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestBalanceSumsFinalValues(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	balance, err := store.Balance(ctx)
	require.NoError(t, err)
	require.Zero(t, balance)

	_, _, err = store.Append(ctx, rewardTx("act-1", 48))
	require.NoError(t, err)
	_, _, err = store.Append(ctx, rewardTx("act-2", 30))
	require.NoError(t, err)

	balance, err = store.Balance(ctx)
	require.NoError(t, err)
	require.InDelta(t, 78.0, balance, 1e-9)
}

func TestDailyTotalsGroupByDay(t *testing.T) {
	conn, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	clock := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	store := NewStore(conn, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	_, _, err = store.Append(ctx, rewardTx("act-1", 48))
	require.NoError(t, err)
	clock = clock.Add(2 * time.Hour)
	_, _, err = store.Append(ctx, rewardTx("act-2", 30))
	require.NoError(t, err)
	clock = clock.Add(24 * time.Hour)
	_, _, err = store.Append(ctx, rewardTx("act-3", 20))
	require.NoError(t, err)

	days, err := store.DailyTotals(ctx, 30)
	require.NoError(t, err)
	require.Len(t, days, 2)
	require.Equal(t, "2025-06-02", days[0].Day)
	require.InDelta(t, 20.0, days[0].Total, 1e-9)
	require.Equal(t, "2025-06-01", days[1].Day)
	require.InDelta(t, 78.0, days[1].Total, 1e-9)
}

func TestCorrectionLinksOriginalTransaction(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	orig, _, err := store.Append(ctx, rewardTx("act-1", 48))
	require.NoError(t, err)

	correction := rewardTx("act-1-correction", -48)
	correction.Corrects = orig.TransactionID
	_, _, err = store.Append(ctx, correction)
	require.NoError(t, err)

	got, err := store.Get(ctx, "act-1-correction")
	require.NoError(t, err)
	require.Equal(t, orig.TransactionID, got.Corrects)

	balance, err := store.Balance(ctx)
	require.NoError(t, err)
	require.Zero(t, balance)
}
