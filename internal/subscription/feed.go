package subscription

import (
	"context"
	"errors"

	"example.com/fitsync/internal/backend"
	"example.com/fitsync/internal/domain"
)

// ChangeFeed resolves a metadata-only notification into the actual changed
// record IDs. Notifications carry no payload, so the feed always
// fetches-then-routes rather than inferring content.
type ChangeFeed struct {
	manager *Manager
	client  backend.Client
}

// NewChangeFeed constructs a ChangeFeed.
func NewChangeFeed(manager *Manager, client backend.Client) *ChangeFeed {
	return &ChangeFeed{manager: manager, client: client}
}

// Fetch returns the IDs changed since the stored token and advances it.
// An expired subscription is re-created and the fetch retried once.
func (f *ChangeFeed) Fetch(ctx context.Context, recordType string) ([]string, error) {
	tok, err := f.manager.Ensure(ctx, recordType)
	if err != nil {
		return nil, err
	}

	deltas, next, err := f.client.FetchChanges(ctx, tok)
	if errors.Is(err, domain.ErrSubscriptionExpired) {
		tok, err = f.manager.Recreate(ctx, recordType)
		if err != nil {
			return nil, err
		}
		deltas, next, err = f.client.FetchChanges(ctx, tok)
	}
	if err != nil {
		return nil, err
	}

	if err := f.manager.Advance(ctx, next); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(deltas))
	for _, d := range deltas {
		ids = append(ids, d.ID)
	}
	return ids, nil
}
