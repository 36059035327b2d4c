package subscription

import (
	"context"
	"fmt"
	"log"
	"sync"

	"example.com/fitsync/internal/backend"
	"example.com/fitsync/internal/domain"
)

// Option configures optional Manager behaviour.
type Option func(*Manager)

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// Manager registers and renews change subscriptions. Ensure is idempotent:
// a valid registration is returned as-is; an expired one is re-created, not
// treated as failure.
type Manager struct {
	client backend.Client
	store  *Store
	logger *log.Logger

	mu sync.Mutex
}

// NewManager constructs a Manager.
func NewManager(client backend.Client, store *Store, opts ...Option) *Manager {
	m := &Manager{
		client: client,
		store:  store,
		logger: log.New(log.Writer(), "[subscription] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ensure returns a registered token for recordType, subscribing only when no
// valid registration exists.
func (m *Manager) Ensure(ctx context.Context, recordType string) (domain.SubscriptionToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureLocked(ctx, recordType)
}

// Recreate discards any stored registration and subscribes afresh. Used on
// an expired/missing-zone signal from the backend.
func (m *Manager) Recreate(ctx context.Context, recordType string) (domain.SubscriptionToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Delete(ctx, recordType); err != nil {
		return domain.SubscriptionToken{}, err
	}
	m.logger.Printf("re-creating expired subscription (record_type=%s)", recordType)
	return m.ensureLocked(ctx, recordType)
}

// Advance persists the change tag a delta fetch moved the token to.
func (m *Manager) Advance(ctx context.Context, tok domain.SubscriptionToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Save(ctx, tok)
}

func (m *Manager) ensureLocked(ctx context.Context, recordType string) (domain.SubscriptionToken, error) {
	existing, err := m.store.Load(ctx, recordType)
	if err != nil {
		return domain.SubscriptionToken{}, err
	}
	if existing != nil && existing.Registered {
		return *existing, nil
	}

	tok, err := m.client.Subscribe(ctx, recordType)
	if err != nil {
		return domain.SubscriptionToken{}, fmt.Errorf("subscribe %s: %w", recordType, err)
	}
	if err := m.store.Save(ctx, tok); err != nil {
		return domain.SubscriptionToken{}, err
	}
	m.logger.Printf("subscription registered (record_type=%s, zone=%s)", recordType, tok.Zone)
	return tok, nil
}
