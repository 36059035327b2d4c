// Package coordinator routes metadata-only change notifications to the
// domain handlers registered for each record type. Bursts coalesce into a
// single fetch; no two fetches for the same channel run concurrently;
// channels are otherwise independent.
package coordinator

import (
	"context"
	"log"
	"sync"
	"time"
)

// Handler consumes the changed record IDs for one record type.
type Handler interface {
	HandleChange(ctx context.Context, recordType string, ids []string) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, recordType string, ids []string) error

// HandleChange calls f.
func (f HandlerFunc) HandleChange(ctx context.Context, recordType string, ids []string) error {
	return f(ctx, recordType, ids)
}

// Fetcher resolves a notification into the changed record IDs. Notifications
// carry no payload by backend contract, so the coordinator always fetches
// before routing.
type Fetcher interface {
	Fetch(ctx context.Context, recordType string) ([]string, error)
}

// Option configures optional Coordinator behaviour.
type Option func(*Coordinator)

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// channel is the per-record-type state machine: idle -> notified (timer
// armed) -> fetching -> idle. pending is a flag, not a queue: notifications
// arriving mid-fetch schedule at most one follow-up fetch.
type channel struct {
	mu       sync.Mutex
	armed    bool
	fetching bool
	pending  bool
}

// Coordinator owns the record-type -> handler registry and the per-channel
// coalescing state.
type Coordinator struct {
	fetcher Fetcher
	window  time.Duration
	logger  *log.Logger

	mu sync.Mutex
	// ctx is the lifecycle context installed by Start. Fetches triggered by
	// a Notify before Start run under context.Background and are bounded
	// only by Wait; callers wanting cancellable fetches must Start first.
	ctx      context.Context
	handlers map[string][]Handler
	channels map[string]*channel
	wg       sync.WaitGroup
}

// New constructs a Coordinator with the given coalescing window.
func New(fetcher Fetcher, window time.Duration, opts ...Option) *Coordinator {
	c := &Coordinator{
		fetcher:  fetcher,
		window:   window,
		logger:   log.New(log.Writer(), "[coordinator] ", log.LstdFlags),
		ctx:      context.Background(),
		handlers: make(map[string][]Handler),
		channels: make(map[string]*channel),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a handler for recordType. Multiple handlers per type are
// invoked in registration order.
func (c *Coordinator) Register(recordType string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[recordType] = append(c.handlers[recordType], h)
	if _, ok := c.channels[recordType]; !ok {
		c.channels[recordType] = &channel{}
	}
}

// Notify signals that something changed for recordType. Notifications within
// the coalescing window collapse into one fetch; one arriving mid-fetch sets
// the pending flag instead of stacking.
func (c *Coordinator) Notify(recordType string) {
	notificationsTotal.WithLabelValues(recordType).Inc()
	ch := c.channel(recordType)

	ch.mu.Lock()
	defer ch.mu.Unlock()

	switch {
	case ch.fetching:
		if ch.pending {
			coalescedTotal.WithLabelValues(recordType).Inc()
		}
		ch.pending = true
	case ch.armed:
		coalescedTotal.WithLabelValues(recordType).Inc()
	default:
		ch.armed = true
		time.AfterFunc(c.window, func() { c.fire(recordType) })
	}
}

// Start installs ctx as the lifecycle context for subsequent fetches and
// runs the fallback poll: a periodic Notify for every registered record
// type, guarding against missed pushes. It blocks until ctx is done.
func (c *Coordinator) Start(ctx context.Context, fallbackInterval time.Duration) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	ticker := time.NewTicker(fallbackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, recordType := range c.registered() {
				c.Notify(recordType)
			}
		}
	}
}

// Wait blocks until all in-flight fetches finish.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// fire transitions notified -> fetching, or defers when a fetch is already
// running.
func (c *Coordinator) fire(recordType string) {
	ch := c.channel(recordType)

	ch.mu.Lock()
	ch.armed = false
	if ch.fetching {
		ch.pending = true
		ch.mu.Unlock()
		return
	}
	ch.fetching = true
	ch.mu.Unlock()

	c.wg.Add(1)
	go c.fetch(recordType, ch)
}

// fetch resolves the deltas and routes them. Errors are isolated to this
// channel; other channels keep running.
func (c *Coordinator) fetch(recordType string, ch *channel) {
	defer c.wg.Done()

	c.mu.Lock()
	ctx := c.ctx
	handlers := make([]Handler, len(c.handlers[recordType]))
	copy(handlers, c.handlers[recordType])
	c.mu.Unlock()

	ids, err := c.fetcher.Fetch(ctx, recordType)
	if err != nil {
		fetchErrors.WithLabelValues(recordType).Inc()
		c.logger.Printf("fetch failed (record_type=%s): %v", recordType, err)
	} else {
		fetchesTotal.WithLabelValues(recordType).Inc()
		if len(ids) > 0 {
			for _, h := range handlers {
				if err := h.HandleChange(ctx, recordType, ids); err != nil {
					handlerErrors.WithLabelValues(recordType).Inc()
					c.logger.Printf("handler failed (record_type=%s): %v", recordType, err)
				}
			}
		}
	}

	ch.mu.Lock()
	ch.fetching = false
	rearm := ch.pending
	ch.pending = false
	if rearm {
		ch.armed = true
	}
	ch.mu.Unlock()

	if rearm {
		time.AfterFunc(c.window, func() { c.fire(recordType) })
	}
}

func (c *Coordinator) channel(recordType string) *channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[recordType]
	if !ok {
		ch = &channel{}
		c.channels[recordType] = ch
	}
	return ch
}

func (c *Coordinator) registered() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.handlers))
	for recordType := range c.handlers {
		out = append(out, recordType)
	}
	return out
}
