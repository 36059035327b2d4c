// Package api exposes the status, trigger and reward endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"example.com/fitsync/internal/coordinator"
	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/ledger"
	"example.com/fitsync/internal/orchestrator"
	"example.com/fitsync/internal/queue"
	"example.com/fitsync/internal/source"
)

// Handler coordinates HTTP requests with the pipeline services.
type Handler struct {
	orch    *orchestrator.Orchestrator
	queue   *queue.Store
	ledger  *ledger.Store
	adapter *source.Adapter
	coord   *coordinator.Coordinator
}

// NewHandler builds a Handler.
func NewHandler(orch *orchestrator.Orchestrator, q *queue.Store, ldg *ledger.Store, adapter *source.Adapter, coord *coordinator.Coordinator) *Handler {
	return &Handler{orch: orch, queue: q, ledger: ldg, adapter: adapter, coord: coord}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", healthz)
	mux.HandleFunc("/v1/sync/status", h.syncStatus)
	mux.HandleFunc("/v1/sync/run", h.runSync)
	mux.HandleFunc("/v1/sync/failures", h.failures)
	mux.HandleFunc("/v1/sync/failures/", h.dismissFailure)
	mux.HandleFunc("/v1/rewards/balance", h.balance)
	mux.HandleFunc("/v1/rewards/daily", h.dailyTotals)
	mux.HandleFunc("/v1/rewards/activities/", h.rewardByActivity)
	mux.HandleFunc("/v1/companion/events", h.companionEvent)
	mux.HandleFunc("/v1/notifications", h.notification)
}

// healthz reports a simple OK status for process health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	status, err := h.orch.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// runSync is the manual trigger. It runs the same re-entrant pass as the
// automatic triggers; an overlapping pass reports already_running.
func (h *Handler) runSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	res, err := h.orch.RunSyncPass(r.Context())
	switch {
	case errors.Is(err, orchestrator.ErrPassInProgress):
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "already_running"})
	case errors.Is(err, domain.ErrAuthorization):
		writeError(w, http.StatusConflict, "authorization_required", "health store authorization missing; pipeline paused")
	case err != nil:
		writeError(w, http.StatusBadGateway, "sync_failed", err.Error())
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *Handler) failures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	entries, err := h.queue.Failures(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	out := make([]failureResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, failureResponse{
			ActivityID: e.Activity.ID,
			Type:       e.Activity.Type,
			Attempts:   e.Attempts,
			LastError:  e.LastError,
			EnqueuedAt: e.EnqueuedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": out})
}

func (h *Handler) dismissFailure(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/sync/failures/")
	id, ok := strings.CutSuffix(rest, "/dismiss")
	if !ok || id == "" || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
		return
	}
	if err := h.queue.Dismiss(r.Context(), id, time.Now().UTC()); err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "dismissed"})
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	balance, err := h.ledger.Balance(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"balance": balance})
}

func (h *Handler) dailyTotals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	days, err := h.ledger.DailyTotals(r.Context(), 30)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days})
}

func (h *Handler) rewardByActivity(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/rewards/activities/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity id")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	tx, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "not_found", "no reward transaction for activity")
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

type companionEventRequest struct {
	ActivityID  string    `json:"activity_id"`
	Type        string    `json:"type"`
	DurationSec float64   `json:"duration_sec"`
	EnergyKcal  float64   `json:"energy_kcal"`
	DistanceM   float64   `json:"distance_m"`
	Timestamp   time.Time `json:"timestamp"`
}

// companionEvent ingests a wearable message and kicks a sync pass so it is
// processed promptly.
func (h *Handler) companionEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	var req companionEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if req.ActivityID == "" || req.Type == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "activity_id and type are required")
		return
	}

	h.adapter.EnqueueCompanion(source.CompanionMessage{
		ActivityID: req.ActivityID,
		Type:       req.Type,
		Duration:   time.Duration(req.DurationSec * float64(time.Second)),
		EnergyKcal: req.EnergyKcal,
		DistanceM:  req.DistanceM,
		Timestamp:  req.Timestamp,
	})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		// The pass is re-entrant; overlap with another trigger is fine.
		_, _ = h.orch.RunSyncPass(ctx)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type notificationRequest struct {
	RecordType string `json:"record_type"`
	Zone       string `json:"zone"`
	ChangeTag  string `json:"change_tag"`
}

// notification is the push intake: metadata only, never a payload.
func (h *Handler) notification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	var req notificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if req.RecordType == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "record_type is required")
		return
	}
	h.coord.Notify(req.RecordType)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type failureResponse struct {
	ActivityID string    `json:"activity_id"`
	Type       string    `json:"type"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
