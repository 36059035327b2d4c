// Package source adapts the local health-data store and the companion-device
// channel into a single incremental event stream.
package source

import (
	"context"
	"log"
	"sync"
	"time"

	"example.com/fitsync/internal/domain"
)

// HealthStore is the device health-data collaborator.
type HealthStore interface {
	// RequestAuthorization asks for read consent on the given sample types.
	RequestAuthorization(ctx context.Context, types []string) (bool, error)
	// IncrementalQuery returns events changed since cursor. It must be safe
	// to call repeatedly with the same cursor.
	IncrementalQuery(ctx context.Context, cursor string) (QueryResult, error)
}

// QueryResult is one incremental query response.
type QueryResult struct {
	Events     []domain.RawEvent
	DeletedIDs []string
	NextCursor string
}

// CompanionMessage is an inbound wearable message. Timestamp marks the end of
// the activity.
type CompanionMessage struct {
	ActivityID string
	Type       string
	Duration   time.Duration
	EnergyKcal float64
	DistanceM  float64
	Timestamp  time.Time
}

// Option configures optional Adapter behaviour.
type Option func(*Adapter)

// WithLogger overrides the logger used to report buffered companion events.
func WithLogger(logger *log.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// WithSampleTypes sets the sample types authorization is requested for.
func WithSampleTypes(types []string) Option {
	return func(a *Adapter) { a.types = types }
}

// Adapter merges the health store's incremental query with a buffer of
// companion messages. Companion events are normalized into the same shape and
// are indistinguishable downstream. Buffered messages survive a failed poll:
// they are only dropped by AckCompanion after the batch containing them has
// been durably handed off.
type Adapter struct {
	store  HealthStore
	types  []string
	logger *log.Logger

	mu        sync.Mutex
	companion []domain.RawEvent
}

// NewAdapter constructs an Adapter over the given health store.
func NewAdapter(store HealthStore, opts ...Option) *Adapter {
	a := &Adapter{
		store:  store,
		types:  []string{"workout"},
		logger: log.New(log.Writer(), "[source] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// EnsureAuthorized asks the health store for read consent on the configured
// sample types.
func (a *Adapter) EnsureAuthorized(ctx context.Context) (bool, error) {
	return a.store.RequestAuthorization(ctx, a.types)
}

// EnqueueCompanion normalizes an inbound wearable message and buffers it for
// the next poll.
func (a *Adapter) EnqueueCompanion(msg CompanionMessage) {
	ev := domain.RawEvent{
		ID:         msg.ActivityID,
		Type:       msg.Type,
		StartedAt:  msg.Timestamp.Add(-msg.Duration),
		EndedAt:    msg.Timestamp,
		Duration:   msg.Duration,
		EnergyKcal: msg.EnergyKcal,
		DistanceM:  msg.DistanceM,
		Source:     domain.SourceCompanion,
	}

	a.mu.Lock()
	a.companion = append(a.companion, ev)
	n := len(a.companion)
	a.mu.Unlock()

	a.logger.Printf("companion event buffered (id=%s, pending=%d)", msg.ActivityID, n)
}

// Poll returns all pending events since cursor: buffered companion messages
// first, then health-store changes. It mutates nothing; on error the caller
// must not advance any state.
func (a *Adapter) Poll(ctx context.Context, cursor string) (domain.Batch, error) {
	a.mu.Lock()
	buffered := make([]domain.RawEvent, len(a.companion))
	copy(buffered, a.companion)
	a.mu.Unlock()

	res, err := a.store.IncrementalQuery(ctx, cursor)
	if err != nil {
		return domain.Batch{}, err
	}

	events := make([]domain.RawEvent, 0, len(buffered)+len(res.Events))
	events = append(events, buffered...)
	for _, ev := range res.Events {
		if ev.Source == "" {
			ev.Source = domain.SourceLocal
		}
		events = append(events, ev)
	}

	return domain.Batch{
		Events:         events,
		DeletedIDs:     res.DeletedIDs,
		NextCursor:     res.NextCursor,
		CompanionCount: len(buffered),
	}, nil
}

// AckCompanion drops the first n buffered companion events, called once the
// batch containing them is durably enqueued.
func (a *Adapter) AckCompanion(n int) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	if n > len(a.companion) {
		n = len(a.companion)
	}
	a.companion = a.companion[n:]
	a.mu.Unlock()
}
