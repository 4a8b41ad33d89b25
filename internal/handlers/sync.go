package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"activity-provider-sync/internal/config"
	"activity-provider-sync/internal/database"
	"activity-provider-sync/internal/metrics"
	"activity-provider-sync/internal/middleware"
	"activity-provider-sync/internal/provider"
	"activity-provider-sync/internal/syncer"
)

// SyncHandler exposes the sync engine over the internal API
type SyncHandler struct {
	engine  *syncer.Engine
	manager *provider.Manager
	config  *config.Config
	logger  *slog.Logger
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(engine *syncer.Engine, manager *provider.Manager, cfg *config.Config) *SyncHandler {
	return &SyncHandler{
		engine:  engine,
		manager: manager,
		config:  cfg,
		logger:  slog.Default(),
	}
}

// Register adds the sync routes to mux
func (h *SyncHandler) Register(mux *http.ServeMux) {
	mux.Handle("POST /sync/{provider}", middleware.WrapHandler(metrics.EndpointSync, h.HandleSync))
	mux.Handle("POST /sync/{provider}/gears", middleware.WrapHandler(metrics.EndpointSyncGears, h.HandleSyncGears))
	mux.Handle("POST /sync/{provider}/activities/{id}", middleware.WrapHandler(metrics.EndpointSyncActivity, h.HandleSyncActivity))
	mux.Handle("GET /runs", middleware.WrapHandler(metrics.EndpointRuns, h.HandleRuns))
}

// ReconnectedHeader is set on responses whose provider session was renewed
// after the first attempt was rejected
const ReconnectedHeader = "X-Provider-Reconnected"

type itemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type syncResponse struct {
	Provider  provider.ID `json:"provider"`
	RunID     int64       `json:"run_id"`
	Fetched   int         `json:"fetched"`
	Processed int         `json:"processed"`
	Skipped   int         `json:"skipped"`
	Failed    int         `json:"failed"`
	Errors    []itemError `json:"errors"`
}

type runResponse struct {
	ID         int64   `json:"id"`
	Provider   string  `json:"provider"`
	StartedAt  int64   `json:"started_at"`
	FinishedAt int64   `json:"finished_at"`
	Checkpoint *string `json:"checkpoint,omitempty"`
	Fetched    int     `json:"fetched"`
	Processed  int     `json:"processed"`
	Skipped    int     `json:"skipped"`
	Failed     int     `json:"failed"`
	Error      *string `json:"error,omitempty"`
}

// HandleSync handles POST /sync/{provider}, an incremental sync from the
// last stored checkpoint
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var result *syncer.Result
	err := h.withReconnect(r.Context(), w, id, func() error {
		var err error
		result, err = h.engine.Sync(r.Context(), id)
		return err
	})
	if err != nil {
		h.writeError(w, id, err)
		return
	}

	resp := syncResponse{
		Provider:  result.Provider,
		RunID:     result.RunID,
		Fetched:   result.Fetched,
		Processed: result.Processed,
		Skipped:   result.Skipped,
		Failed:    len(result.Errors),
		Errors:    []itemError{},
	}
	for _, e := range result.Errors {
		resp.Errors = append(resp.Errors, itemError{ID: e.ID, Error: e.Err.Error()})
	}
	h.writeJSON(w, resp)
}

// HandleSyncActivity handles POST /sync/{provider}/activities/{id}
func (h *SyncHandler) HandleSyncActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}
	providerActivityID := r.PathValue("id")

	var result *database.InsertResult
	err := h.withReconnect(r.Context(), w, id, func() error {
		var err error
		result, err = h.engine.SyncActivity(r.Context(), id, providerActivityID)
		return err
	})
	if err != nil {
		h.writeError(w, id, err)
		return
	}

	gearIDs := result.GearIDs
	if gearIDs == nil {
		gearIDs = []string{}
	}
	h.writeJSON(w, map[string]any{
		"activity_id": result.ActivityID,
		"created":     result.Created,
		"gear_ids":    gearIDs,
	})
}

// HandleSyncGears handles POST /sync/{provider}/gears
func (h *SyncHandler) HandleSyncGears(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var gearIDs []string
	err := h.withReconnect(r.Context(), w, id, func() error {
		var err error
		gearIDs, err = h.engine.SyncGears(r.Context(), id)
		return err
	})
	if err != nil {
		h.writeError(w, id, err)
		return
	}

	if gearIDs == nil {
		gearIDs = []string{}
	}
	h.writeJSON(w, map[string]any{"gear_ids": gearIDs})
}

// HandleRuns handles GET /runs
// Query parameters:
//   - provider: restrict to one provider (default: all)
//   - limit: maximum runs to return (default: 20, max: 100)
func (h *SyncHandler) HandleRuns(w http.ResponseWriter, r *http.Request) {
	if !h.authenticated(w, r) {
		return
	}

	query := r.URL.Query()

	var id provider.ID
	if s := query.Get("provider"); s != "" {
		var err error
		if id, err = provider.ParseID(s); err != nil {
			http.Error(w, "Unknown provider", http.StatusNotFound)
			return
		}
	}

	limit := 20
	if limitStr := query.Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		if limit < 1 || limit > 100 {
			http.Error(w, "Limit must be between 1 and 100", http.StatusBadRequest)
			return
		}
	}

	runs, err := h.engine.ListRuns(r.Context(), id, limit)
	if err != nil {
		h.logger.Error("Failed to list sync runs", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, runResponse{
			ID:         run.ID,
			Provider:   run.Provider,
			StartedAt:  run.StartedAt.Unix(),
			FinishedAt: run.FinishedAt.Unix(),
			Checkpoint: run.Checkpoint,
			Fetched:    run.Fetched,
			Processed:  run.Processed,
			Skipped:    run.Skipped,
			Failed:     run.Failed,
			Error:      run.Error,
		})
	}
	h.writeJSON(w, map[string]any{"runs": resp})
}

func (h *SyncHandler) authenticated(w http.ResponseWriter, r *http.Request) bool {
	authHeader := r.Header.Get("Authorization")
	if h.config.InternalAPIKey == "" || authHeader != "Bearer "+h.config.InternalAPIKey {
		h.logger.Warn("Unauthorized sync request", "path", r.URL.Path, "has_auth", authHeader != "")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// authorize checks the API key and resolves the {provider} path segment
func (h *SyncHandler) authorize(w http.ResponseWriter, r *http.Request) (provider.ID, bool) {
	if !h.authenticated(w, r) {
		return "", false
	}
	id, err := provider.ParseID(r.PathValue("provider"))
	if err != nil {
		http.Error(w, "Unknown provider", http.StatusNotFound)
		return "", false
	}
	return id, true
}

// withReconnect runs fn, and after an authentication failure opens a new
// provider session and runs it once more. The retry is flagged to the
// caller through ReconnectedHeader.
func (h *SyncHandler) withReconnect(ctx context.Context, w http.ResponseWriter, id provider.ID, fn func() error) error {
	err := fn()
	if !errors.Is(err, provider.ErrAuthentication) {
		return err
	}

	h.logger.Warn("Provider session rejected, reconnecting", "provider", id, "error", err)
	if rerr := h.manager.Reconnect(ctx, id, h.config.Credentials[id]); rerr != nil {
		h.logger.Error("Failed to reconnect provider", "provider", id, "error", rerr)
		return err
	}
	w.Header().Set(ReconnectedHeader, "true")
	return fn()
}

func (h *SyncHandler) writeError(w http.ResponseWriter, id provider.ID, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, provider.ErrNotInitialized):
		status = http.StatusNotFound
	case errors.Is(err, provider.ErrAuthentication):
		status = http.StatusBadGateway
	case errors.Is(err, provider.ErrMapping):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, provider.ErrNotSupported):
		status = http.StatusNotImplemented
	}

	h.logger.Error("Sync request failed", "provider", id, "status", status, "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (h *SyncHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}
