package queue

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"example.com/fitsync/internal/backend"
	"example.com/fitsync/internal/domain"
)

// ErrDrainActive is returned when another drain is already running. Exactly
// one drain worker is active at a time; concurrent triggers simply yield.
var ErrDrainActive = errors.New("drain already in progress")

// DrainerOption configures optional Drainer behaviour.
type DrainerOption func(*Drainer)

// WithClock overrides the clock, enabling deterministic backoff tests.
func WithClock(now func() time.Time) DrainerOption {
	return func(d *Drainer) { d.now = now }
}

// WithJitter overrides the jitter source with a deterministic one.
func WithJitter(jitter func() float64) DrainerOption {
	return func(d *Drainer) { d.jitter = jitter }
}

// WithDrainerLogger overrides the logger.
func WithDrainerLogger(logger *log.Logger) DrainerOption {
	return func(d *Drainer) { d.logger = logger }
}

// Drainer uploads due queue entries to the backend. Transient failures are
// absorbed by capped exponential backoff with jitter and never surfaced
// per-attempt; non-retryable failures park the entry as failed and move on.
type Drainer struct {
	store     *Store
	client    backend.Client
	baseDelay time.Duration
	maxDelay  time.Duration
	batchSize int
	now       func() time.Time
	jitter    func() float64
	logger    *log.Logger

	mu sync.Mutex
}

// NewDrainer constructs a Drainer.
func NewDrainer(store *Store, client backend.Client, baseDelay, maxDelay time.Duration, batchSize int, opts ...DrainerOption) *Drainer {
	d := &Drainer{
		store:     store,
		client:    client,
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
		jitter:    rand.Float64,
		logger:    log.New(log.Writer(), "[queue] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Drain claims and uploads every currently-due entry. Returns ErrDrainActive
// when another drain holds the worker slot, and domain.ErrAuthorization when
// the backend revokes access, which halts the whole pipeline.
func (d *Drainer) Drain(ctx context.Context) error {
	if !d.mu.TryLock() {
		return ErrDrainActive
	}
	defer d.mu.Unlock()

	start := time.Now()
	defer func() { drainDuration.Observe(time.Since(start).Seconds()) }()

	for {
		entries, err := d.store.ClaimDue(ctx, d.now(), d.batchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			d.updateDepth(ctx)
			return nil
		}
		for i, entry := range entries {
			if err := d.upload(ctx, entry); err != nil {
				d.releaseRest(ctx, entries[i+1:])
				return err
			}
		}
	}
}

// Start runs Drain on a fixed interval until ctx is cancelled. It should be
// called in a goroutine.
func (d *Drainer) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := d.Drain(ctx); err != nil &&
			!errors.Is(err, context.Canceled) && !errors.Is(err, ErrDrainActive) {
			d.logger.Printf("drain error: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// releaseRest reverts still-claimed entries to pending when a drain aborts
// mid-batch. Without this the tail of the batch would stay inFlight until
// the next process restart.
func (d *Drainer) releaseRest(ctx context.Context, entries []Entry) {
	ctx = context.WithoutCancel(ctx)
	for _, entry := range entries {
		if err := d.store.Release(ctx, entry.Activity.ID, d.now()); err != nil {
			d.logger.Printf("release after aborted drain failed (id=%s): %v", entry.Activity.ID, err)
		}
	}
}

// updateDepth refreshes the per-state queue gauge after a drain settles.
func (d *Drainer) updateDepth(ctx context.Context) {
	counts, err := d.store.Counts(ctx)
	if err != nil {
		return
	}
	for _, state := range []State{StatePending, StateInFlight, StateRetryPending, StateSynced, StateFailed} {
		depthGauge.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

// upload performs one save attempt and records the outcome. Only context
// cancellation and authorization loss propagate; everything else is settled
// per entry.
func (d *Drainer) upload(ctx context.Context, entry Entry) error {
	attempts := entry.Attempts + 1
	err := d.client.Save(ctx, entry.Activity)

	switch {
	case err == nil:
		syncedCounter.Inc()
		return d.store.MarkSynced(ctx, entry.Activity.ID, attempts, d.now())

	case errors.Is(err, domain.ErrConflict):
		// The record is already on the backend; reconcile as success.
		conflictCounter.Inc()
		return d.store.MarkSynced(ctx, entry.Activity.ID, attempts, d.now())

	case ctx.Err() != nil:
		// The drain's own context ended, so the save outcome is unknown;
		// revert to pending so the entry is retried, never assumed synced.
		// The save error's unwrap chain is deliberately not consulted here: a
		// backend timeout wraps context.DeadlineExceeded too, and that one
		// must go through backoff, not release.
		if relErr := d.store.Release(context.WithoutCancel(ctx), entry.Activity.ID, d.now()); relErr != nil {
			d.logger.Printf("release after cancellation failed (id=%s): %v", entry.Activity.ID, relErr)
		}
		return err

	case errors.Is(err, domain.ErrAuthorization):
		if relErr := d.store.Release(ctx, entry.Activity.ID, d.now()); relErr != nil {
			return relErr
		}
		return err

	case domain.IsNonRetryable(err):
		failedCounter.Inc()
		d.logger.Printf("permanent failure (id=%s): %v", entry.Activity.ID, err)
		return d.store.MarkFailed(ctx, entry.Activity.ID, attempts, err.Error(), d.now())

	default:
		// Transient, including anything unclassified.
		retriedCounter.Inc()
		delay := d.backoffDelay(attempts)
		d.logger.Printf("transient failure (id=%s, attempt=%d, retry in %s): %v",
			entry.Activity.ID, attempts, delay, err)
		return d.store.MarkRetry(ctx, entry.Activity.ID, attempts, d.now().Add(delay), err.Error(), d.now())
	}
}

// backoffDelay doubles from baseDelay per attempt with up to 10% jitter.
// Successive delays are monotonically non-decreasing until they pin at
// maxDelay: the next step's minimum (2x) always exceeds the previous step's
// jittered maximum (1.1x).
func (d *Drainer) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := d.baseDelay
	for i := 1; i < attempt && delay < d.maxDelay; i++ {
		delay *= 2
	}
	if delay >= d.maxDelay {
		return d.maxDelay
	}
	withJitter := delay + time.Duration(d.jitter()*0.1*float64(delay))
	if withJitter > d.maxDelay {
		return d.maxDelay
	}
	return withJitter
}
