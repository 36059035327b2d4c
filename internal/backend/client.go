// Package backend is the cloud collaborator: record saves, thin
// change-notification subscriptions, and delta fetches.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"example.com/fitsync/internal/domain"
)

// Delta is one changed record reported by a fetch.
type Delta struct {
	RecordType string `json:"record_type"`
	ID         string `json:"id"`
}

// Client is the backend contract the queue, subscription manager and
// coordinator depend on.
type Client interface {
	// Save uploads one activity. domain.ErrConflict means the record is
	// already there and callers treat it as success.
	Save(ctx context.Context, act domain.Activity) error
	// Subscribe registers a change-notification subscription.
	Subscribe(ctx context.Context, recordType string) (domain.SubscriptionToken, error)
	// FetchChanges returns deltas since token and the advanced token.
	// domain.ErrSubscriptionExpired demands re-registration.
	FetchChanges(ctx context.Context, token domain.SubscriptionToken) ([]Delta, domain.SubscriptionToken, error)
}

// HTTPClient implements Client against the backend's REST surface.
type HTTPClient struct {
	client *http.Client
	base   string
	token  string
}

// NewHTTPClient constructs a client for the backend at base.
func NewHTTPClient(base, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{Timeout: timeout},
		base:   strings.TrimRight(base, "/"),
		token:  token,
	}
}

type saveRequest struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	DurationSec  float64   `json:"duration_sec"`
	EnergyKcal   float64   `json:"energy_kcal"`
	DistanceM    float64   `json:"distance_m"`
	AvgIntensity float64   `json:"avg_intensity"`
	Source       string    `json:"source"`
	RewardValue  float64   `json:"reward_value"`
}

// Save uploads the activity, mapping HTTP status to the error taxonomy.
func (c *HTTPClient) Save(ctx context.Context, act domain.Activity) error {
	body, err := json.Marshal(saveRequest{
		ID:           act.ID,
		Type:         act.Type,
		StartedAt:    act.StartedAt,
		EndedAt:      act.EndedAt,
		DurationSec:  act.Duration.Seconds(),
		EnergyKcal:   act.EnergyKcal,
		DistanceM:    act.DistanceM,
		AvgIntensity: act.AvgIntensity,
		Source:       act.Source,
		RewardValue:  act.RewardValue,
	})
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPost, "/v1/records", body)
	if err != nil {
		return &domain.TransientError{Op: "save record", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return domain.ErrConflict
	case resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusPaymentRequired,
		resp.StatusCode == http.StatusInsufficientStorage:
		return &domain.QuotaOrPermissionError{Op: "save record", Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &domain.TransientError{Op: "save record", Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return &domain.QuotaOrPermissionError{Op: "save record", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return nil
}

type subscribeRequest struct {
	RecordType string `json:"record_type"`
}

type subscribeResponse struct {
	Zone      string `json:"zone"`
	ChangeTag string `json:"change_tag"`
}

// Subscribe registers a metadata-only change subscription for recordType.
func (c *HTTPClient) Subscribe(ctx context.Context, recordType string) (domain.SubscriptionToken, error) {
	body, err := json.Marshal(subscribeRequest{RecordType: recordType})
	if err != nil {
		return domain.SubscriptionToken{}, err
	}

	resp, err := c.do(ctx, http.MethodPost, "/v1/subscriptions", body)
	if err != nil {
		return domain.SubscriptionToken{}, &domain.TransientError{Op: "subscribe", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return domain.SubscriptionToken{}, &domain.TransientError{Op: "subscribe", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var out subscribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.SubscriptionToken{}, err
	}
	return domain.SubscriptionToken{
		RecordType: recordType,
		Zone:       out.Zone,
		ChangeTag:  out.ChangeTag,
		Registered: true,
	}, nil
}

type changesResponse struct {
	Deltas    []Delta `json:"deltas"`
	ChangeTag string  `json:"change_tag"`
}

// FetchChanges retrieves the deltas behind a notification. 410 means the
// subscription (or its zone) is gone and must be re-created.
func (c *HTTPClient) FetchChanges(ctx context.Context, token domain.SubscriptionToken) ([]Delta, domain.SubscriptionToken, error) {
	endpoint := fmt.Sprintf("/v1/changes?record_type=%s&zone=%s&change_tag=%s",
		url.QueryEscape(token.RecordType), url.QueryEscape(token.Zone), url.QueryEscape(token.ChangeTag))

	resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, token, &domain.TransientError{Op: "fetch changes", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		return nil, token, domain.ErrSubscriptionExpired
	case resp.StatusCode >= 400:
		return nil, token, &domain.TransientError{Op: "fetch changes", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var out changesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, token, err
	}

	next := token
	next.ChangeTag = out.ChangeTag
	return out.Deltas, next, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.client.Do(req)
}
