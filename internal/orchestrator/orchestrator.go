// Package orchestrator ties the event source, reward processor, ledger and
// sync queue into one re-entrant sync pass.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/ledger"
	"example.com/fitsync/internal/processor"
	"example.com/fitsync/internal/queue"
	"example.com/fitsync/internal/storage"
)

// ErrPassInProgress reports that another sync pass holds the slot. The
// overlapping caller's work is covered by the running pass; every trigger
// retries on its own cadence.
var ErrPassInProgress = errors.New("sync pass already in progress")

// EventSource is the adapter contract the orchestrator polls.
type EventSource interface {
	Poll(ctx context.Context, cursor string) (domain.Batch, error)
	AckCompanion(n int)
	EnsureAuthorized(ctx context.Context) (bool, error)
}

// Drainer drains the sync queue after a pass enqueues new work.
type Drainer interface {
	Drain(ctx context.Context) error
}

// StatsProvider supplies and maintains the per-user processor inputs.
type StatsProvider interface {
	StatsFor(ev domain.RawEvent) domain.UserStats
	Record(ev domain.RawEvent, tx domain.RewardTransaction)
	Penalize(ev domain.RawEvent)
}

// PassResult summarizes one sync pass.
type PassResult struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Discovered int       `json:"discovered"`
	Processed  int       `json:"processed"`
	Replayed   int       `json:"replayed"`
	Rejected   int       `json:"rejected"`
	Enqueued   int       `json:"enqueued"`
	Deleted    int       `json:"deleted"`
}

// Status is the queryable pipeline state.
type Status struct {
	Paused   bool               `json:"paused"`
	Counts   map[queue.State]int `json:"counts"`
	LastPass *PassResult        `json:"last_pass,omitempty"`
}

// Option configures optional Orchestrator behaviour.
type Option func(*Orchestrator)

// WithClock overrides the clock used for enqueue timestamps and pass summaries.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// Orchestrator runs the poll -> process -> ledger -> enqueue -> drain pass.
// The cursor only advances once the whole batch is durably enqueued, so a
// failure mid-batch means the next pass rediscovers exactly the same events.
type Orchestrator struct {
	source  EventSource
	proc    *processor.Processor
	stats   StatsProvider
	ledger  *ledger.Store
	queue   *queue.Store
	drainer Drainer
	cursors *storage.CursorStore
	now     func() time.Time
	logger  *log.Logger

	mu       sync.Mutex
	paused   atomic.Bool
	lastPass atomic.Pointer[PassResult]
}

// New constructs an Orchestrator.
func New(source EventSource, proc *processor.Processor, stats StatsProvider, ldg *ledger.Store, q *queue.Store, drainer Drainer, cursors *storage.CursorStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:  source,
		proc:    proc,
		stats:   stats,
		ledger:  ldg,
		queue:   q,
		drainer: drainer,
		cursors: cursors,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  log.New(log.Writer(), "[orchestrator] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunSyncPass executes one sync pass. It is safe to invoke concurrently from
// any trigger: an overlapping call returns ErrPassInProgress and does no
// work. Authorization loss pauses the pipeline; subsequent passes re-request
// consent before touching the store.
func (o *Orchestrator) RunSyncPass(ctx context.Context) (PassResult, error) {
	if !o.mu.TryLock() {
		skippedPasses.Inc()
		return PassResult{}, ErrPassInProgress
	}
	defer o.mu.Unlock()

	res := PassResult{StartedAt: o.now()}

	if o.paused.Load() {
		granted, err := o.source.EnsureAuthorized(ctx)
		if err != nil {
			return res, err
		}
		if !granted {
			return res, domain.ErrAuthorization
		}
		o.paused.Store(false)
		o.logger.Printf("authorization re-granted, pipeline resumed")
	}

	cursor, err := o.cursors.Load(ctx, storage.StreamHealthStore)
	if err != nil {
		return res, err
	}

	batch, err := o.source.Poll(ctx, cursor)
	if err != nil {
		if errors.Is(err, domain.ErrAuthorization) {
			o.paused.Store(true)
			o.logger.Printf("authorization revoked, pipeline paused")
		}
		return res, fmt.Errorf("poll event source: %w", err)
	}

	res.Discovered = len(batch.Events)
	res.Deleted = len(batch.DeletedIDs)
	for _, id := range batch.DeletedIDs {
		// Activities are never deleted locally; a source-side deletion is
		// only logged for audit.
		o.logger.Printf("source reported deletion (id=%s), keeping local record", id)
	}

	for _, ev := range batch.Events {
		if err := o.handleEvent(ctx, ev, &res); err != nil {
			// Cursor untouched: the retry rediscovers this batch.
			return res, err
		}
	}

	if batch.NextCursor != "" && batch.NextCursor != cursor {
		if err := o.cursors.Save(ctx, storage.StreamHealthStore, batch.NextCursor); err != nil {
			return res, err
		}
	}
	o.source.AckCompanion(batch.CompanionCount)

	res.FinishedAt = o.now()
	o.lastPass.Store(&res)
	passCounter.Inc()
	eventsProcessed.Add(float64(res.Processed))

	if err := o.drainer.Drain(ctx); err != nil && !errors.Is(err, queue.ErrDrainActive) {
		if errors.Is(err, domain.ErrAuthorization) {
			o.paused.Store(true)
		}
		return res, err
	}
	return res, nil
}

// handleEvent processes one event end to end. Validation failures are
// terminal for the event (counted, no ledger or queue entry) but do not fail
// the batch; every other error aborts the pass before the cursor moves.
func (o *Orchestrator) handleEvent(ctx context.Context, ev domain.RawEvent, res *PassResult) error {
	tx, err := o.proc.Process(ev, o.stats.StatsFor(ev))
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			res.Rejected++
			rejectedCounter.Inc()
			o.stats.Penalize(ev)
			o.logger.Printf("event rejected: %v", verr)
			return nil
		}
		return err
	}

	stored, replay, err := o.ledger.Append(ctx, tx)
	if err != nil {
		return fmt.Errorf("ledger append for %s: %w", ev.ID, err)
	}
	if replay {
		res.Replayed++
	} else {
		res.Processed++
		o.stats.Record(ev, stored)
	}

	created, err := o.queue.Enqueue(ctx, activityFrom(ev, stored.FinalValue), o.now())
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", ev.ID, err)
	}
	if created {
		res.Enqueued++
	}
	return nil
}

// Status reports the queryable aggregate state.
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	counts, err := o.queue.Counts(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Paused:   o.paused.Load(),
		Counts:   counts,
		LastPass: o.lastPass.Load(),
	}, nil
}

// Paused reports whether the pipeline is halted on authorization.
func (o *Orchestrator) Paused() bool { return o.paused.Load() }

func activityFrom(ev domain.RawEvent, reward float64) domain.Activity {
	return domain.Activity{
		ID:           ev.ID,
		Type:         ev.Type,
		StartedAt:    ev.StartedAt,
		EndedAt:      ev.EndedAt,
		Duration:     ev.Duration,
		EnergyKcal:   ev.EnergyKcal,
		DistanceM:    ev.DistanceM,
		AvgIntensity: ev.AvgIntensity,
		Source:       ev.Source,
		State:        domain.SyncStatePending,
		RewardValue:  reward,
	}
}
