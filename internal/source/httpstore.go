package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"example.com/fitsync/internal/domain"
)

// HTTPStore talks to the local health-data bridge over loopback HTTP. It is
// the production HealthStore implementation; tests substitute stubs.
type HTTPStore struct {
	client *http.Client
	base   string
}

// NewHTTPStore constructs a client for the bridge at base.
func NewHTTPStore(base string, timeout time.Duration) *HTTPStore {
	return &HTTPStore{
		client: &http.Client{Timeout: timeout},
		base:   strings.TrimRight(base, "/"),
	}
}

type authorizationRequest struct {
	Types []string `json:"types"`
}

type authorizationResponse struct {
	Granted bool `json:"granted"`
}

// RequestAuthorization asks the bridge for read consent.
func (s *HTTPStore) RequestAuthorization(ctx context.Context, types []string) (bool, error) {
	body, err := json.Marshal(authorizationRequest{Types: types})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/v1/authorize", strings.NewReader(string(body)))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return false, &domain.TransientError{Op: "authorize", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return false, fmt.Errorf("%w: bridge returned %d", domain.ErrAuthorization, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return false, &domain.TransientError{Op: "authorize", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var out authorizationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, err
	}
	return out.Granted, nil
}

type queryResponse struct {
	Events     []bridgeEvent `json:"events"`
	DeletedIDs []string      `json:"deleted_ids"`
	NextCursor string        `json:"next_cursor"`
}

type bridgeEvent struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	EnergyKcal   float64   `json:"energy_kcal"`
	DistanceM    float64   `json:"distance_m"`
	AvgIntensity float64   `json:"avg_intensity"`
}

// IncrementalQuery fetches changes since cursor. Authorization loss maps to
// domain.ErrAuthorization; transport failures are transient.
func (s *HTTPStore) IncrementalQuery(ctx context.Context, cursor string) (QueryResult, error) {
	endpoint := s.base + "/v1/events"
	if cursor != "" {
		endpoint += "?cursor=" + url.QueryEscape(cursor)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return QueryResult{}, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return QueryResult{}, &domain.TransientError{Op: "incremental query", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return QueryResult{}, fmt.Errorf("%w: bridge returned %d", domain.ErrAuthorization, resp.StatusCode)
	case resp.StatusCode >= 400:
		return QueryResult{}, &domain.TransientError{Op: "incremental query", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return QueryResult{}, err
	}

	res := QueryResult{
		DeletedIDs: out.DeletedIDs,
		NextCursor: out.NextCursor,
	}
	for _, ev := range out.Events {
		res.Events = append(res.Events, domain.RawEvent{
			ID:           ev.ID,
			Type:         ev.Type,
			StartedAt:    ev.StartedAt,
			EndedAt:      ev.EndedAt,
			Duration:     ev.EndedAt.Sub(ev.StartedAt),
			EnergyKcal:   ev.EnergyKcal,
			DistanceM:    ev.DistanceM,
			AvgIntensity: ev.AvgIntensity,
			Source:       domain.SourceLocal,
		})
	}
	return res, nil
}
