package queue

import (
	"context"
	"log"
	"path/filepath"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"example.com/fitsync/internal/backend"
	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := storage.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewStore(conn)
}

func testActivity(id string) domain.Activity {
	start := time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC)
	return domain.Activity{
		ID:        id,
		Type:      "running",
		StartedAt: start,
		EndedAt:   start.Add(30 * time.Minute),
		Duration:  30 * time.Minute,
		Source:    domain.SourceLocal,
		State:     domain.SyncStatePending,
	}
}

func TestEnqueueIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()

	created, err := store.Enqueue(ctx, testActivity("a1"), now)
	require.NoError(t, err)
	require.True(t, created)

	created, err = store.Enqueue(ctx, testActivity("a1"), now)
	require.NoError(t, err)
	require.False(t, created)

	// Re-enqueueing an already-synced entry is also a no-op.
	require.NoError(t, store.MarkSynced(ctx, "a1", 1, now))
	created, err = store.Enqueue(ctx, testActivity("a1"), now)
	require.NoError(t, err)
	require.False(t, created)

	entry, err := store.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, StateSynced, entry.State)
}

func TestClaimDueSkipsFutureRetries(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()

	_, err := store.Enqueue(ctx, testActivity("a1"), now)
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, testActivity("a2"), now)
	require.NoError(t, err)
	require.NoError(t, store.MarkRetry(ctx, "a2", 1, now.Add(time.Hour), "busy", now))

	entries, err := store.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a1", entries[0].Activity.ID)
	require.Equal(t, StateInFlight, entries[0].State)

	// Claimed entries are not re-claimed.
	entries, err = store.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Empty(t, entries)

	// Past the retry time, a2 becomes due.
	entries, err = store.ClaimDue(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a2", entries[0].Activity.ID)
}

func TestRequeueInFlight(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()

	_, err := store.Enqueue(ctx, testActivity("a1"), now)
	require.NoError(t, err)
	_, err = store.ClaimDue(ctx, now, 10)
	require.NoError(t, err)

	n, err := store.RequeueInFlight(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	entry, err := store.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, StatePending, entry.State)
}

func TestDismissOnlyFailedEntries(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()

	_, err := store.Enqueue(ctx, testActivity("a1"), now)
	require.NoError(t, err)
	require.Error(t, store.Dismiss(ctx, "a1", now))

	require.NoError(t, store.MarkFailed(ctx, "a1", 2, "quota exceeded", now))
	failures, err := store.Failures(ctx)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	require.Equal(t, "quota exceeded", failures[0].LastError)

	require.NoError(t, store.Dismiss(ctx, "a1", now))
	failures, err = store.Failures(ctx)
	require.NoError(t, err)
	require.Empty(t, failures)
}

// fakeBackend scripts Save outcomes per call.
type fakeBackend struct {
	errs  []error
	calls int
	saved []string
}

func (f *fakeBackend) Save(_ context.Context, act domain.Activity) error {
	f.calls++
	if f.calls <= len(f.errs) && f.errs[f.calls-1] != nil {
		return f.errs[f.calls-1]
	}
	f.saved = append(f.saved, act.ID)
	return nil
}

func (f *fakeBackend) Subscribe(context.Context, string) (domain.SubscriptionToken, error) {
	panic("not used")
}

func (f *fakeBackend) FetchChanges(context.Context, domain.SubscriptionToken) ([]backend.Delta, domain.SubscriptionToken, error) {
	panic("not used")
}

func TestDrainTransientFailuresThenSuccess(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	clock := time.Unix(1_700_000_000, 0).UTC()
	now := func() time.Time { return clock }

	be := &fakeBackend{errs: []error{
		&domain.TransientError{Op: "save record", Err: context.DeadlineExceeded},
		&domain.TransientError{Op: "save record", Err: context.DeadlineExceeded},
		&domain.TransientError{Op: "save record", Err: context.DeadlineExceeded},
	}}

	d := NewDrainer(store, be, time.Second, time.Minute, 10,
		WithClock(now),
		WithJitter(func() float64 { return 0 }),
		WithDrainerLogger(log.New(testWriter{t}, "", 0)))

	_, err := store.Enqueue(ctx, testActivity("a1"), clock)
	require.NoError(t, err)

	// Three transient failures, each rescheduling the entry; the fourth
	// attempt succeeds within the backoff cap.
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Drain(ctx))
		entry, err := store.Get(ctx, "a1")
		require.NoError(t, err)
		require.Equal(t, StateRetryPending, entry.State)
		require.Equal(t, i+1, entry.Attempts)
		clock = entry.NextRetryAt.Add(time.Second)
	}

	require.NoError(t, d.Drain(ctx))

	entry, err := store.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, StateSynced, entry.State)
	require.Equal(t, 4, entry.Attempts)
	require.Equal(t, []string{"a1"}, be.saved) // exactly one record created
}

func TestDrainConflictTreatedAsSuccess(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	clock := time.Unix(1_700_000_000, 0).UTC()

	be := &fakeBackend{errs: []error{domain.ErrConflict}}
	d := NewDrainer(store, be, time.Second, time.Minute, 10,
		WithClock(func() time.Time { return clock }),
		WithDrainerLogger(log.New(testWriter{t}, "", 0)))

	_, err := store.Enqueue(ctx, testActivity("a1"), clock)
	require.NoError(t, err)
	require.NoError(t, d.Drain(ctx))

	entry, err := store.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, StateSynced, entry.State)
	require.Empty(t, be.saved)
}

func TestDrainNonRetryableParksEntry(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	clock := time.Unix(1_700_000_000, 0).UTC()

	be := &fakeBackend{errs: []error{
		&domain.QuotaOrPermissionError{Op: "save record", Err: context.DeadlineExceeded},
	}}
	d := NewDrainer(store, be, time.Second, time.Minute, 10,
		WithClock(func() time.Time { return clock }),
		WithDrainerLogger(log.New(testWriter{t}, "", 0)))

	_, err := store.Enqueue(ctx, testActivity("a1"), clock)
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, testActivity("a2"), clock)
	require.NoError(t, err)

	require.NoError(t, d.Drain(ctx))

	// a1 is parked, a2 still uploads: per-item failure, not a global crash.
	entry, err := store.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, StateFailed, entry.State)
	require.Equal(t, []string{"a2"}, be.saved)

	m := &dto.Metric{}
	require.NoError(t, drainDuration.Write(m))
	require.Greater(t, m.GetHistogram().GetSampleCount(), uint64(0))
}

func TestDrainAuthorizationLossReleasesWholeBatch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	clock := time.Unix(1_700_000_000, 0).UTC()

	be := &fakeBackend{errs: []error{domain.ErrAuthorization}}
	d := NewDrainer(store, be, time.Second, time.Minute, 10,
		WithClock(func() time.Time { return clock }),
		WithDrainerLogger(log.New(testWriter{t}, "", 0)))

	_, err := store.Enqueue(ctx, testActivity("a1"), clock)
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, testActivity("a2"), clock)
	require.NoError(t, err)

	require.ErrorIs(t, d.Drain(ctx), domain.ErrAuthorization)

	// Nothing stays claimed: the failing entry and the unprocessed tail of
	// the batch both revert to pending.
	for _, id := range []string{"a1", "a2"} {
		entry, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, StatePending, entry.State, id)
	}

	// Once access is back the same entries drain without a restart.
	require.NoError(t, d.Drain(ctx))
	require.Equal(t, []string{"a1", "a2"}, be.saved)
}

// cancelingBackend cancels the drain context during Save, as a shutdown
// racing an upload would.
type cancelingBackend struct {
	cancel context.CancelFunc
}

func (b *cancelingBackend) Save(ctx context.Context, _ domain.Activity) error {
	b.cancel()
	return &domain.TransientError{Op: "save record", Err: ctx.Err()}
}

func (b *cancelingBackend) Subscribe(context.Context, string) (domain.SubscriptionToken, error) {
	panic("not used")
}

func (b *cancelingBackend) FetchChanges(context.Context, domain.SubscriptionToken) ([]backend.Delta, domain.SubscriptionToken, error) {
	panic("not used")
}

func TestDrainCancellationReleasesEntry(t *testing.T) {
	store := openTestStore(t)
	clock := time.Unix(1_700_000_000, 0).UTC()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := NewDrainer(store, &cancelingBackend{cancel: cancel}, time.Second, time.Minute, 10,
		WithClock(func() time.Time { return clock }),
		WithDrainerLogger(log.New(testWriter{t}, "", 0)))

	_, err := store.Enqueue(context.Background(), testActivity("a1"), clock)
	require.NoError(t, err)
	require.Error(t, d.Drain(ctx))

	// Ambiguous outcome resolves toward retry, not a backoff slot.
	entry, err := store.Get(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, StatePending, entry.State)
	require.Zero(t, entry.Attempts)
}

func TestBackoffMonotonicUpToCap(t *testing.T) {
	d := NewDrainer(nil, nil, time.Second, time.Minute, 10,
		WithJitter(func() float64 { return 0.99 }))

	prev := time.Duration(0)
	for attempt := 1; attempt <= 12; attempt++ {
		delay := d.backoffDelay(attempt)
		require.GreaterOrEqual(t, delay, prev, "attempt %d", attempt)
		require.LessOrEqual(t, delay, time.Minute)
		prev = delay
	}
	require.Equal(t, time.Minute, prev)
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}
