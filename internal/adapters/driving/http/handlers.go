package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/custodia-labs/carequeue-sync/internal/core/domain"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// ComponentHealth is the health of one dependency
type ComponentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResponse is returned by /healthz
type HealthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version"`
	Components map[string]ComponentHealth `json:"components"`
}

// QueueResponse lists the offline queue and the dead-letter list
type QueueResponse struct {
	Pending     []domain.PendingAction `json:"pending"`
	DeadLetters []domain.PendingAction `json:"deadLetters"`
}

// Health endpoints

// handleHealth always answers 200 while the process is up; components
// report what is degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "healthy",
		Version:    s.version,
		Components: map[string]ComponentHealth{"server": {Status: "healthy"}},
	}

	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Components["store"] = ComponentHealth{Status: "unhealthy", Error: err.Error()}
		} else {
			resp.Components["store"] = ComponentHealth{Status: "healthy"}
		}
	}

	if s.connectivity != nil {
		if s.connectivity.IsNetworkConnected() {
			resp.Components["backend"] = ComponentHealth{Status: "online"}
		} else {
			resp.Status = "degraded"
			resp.Components["backend"] = ComponentHealth{Status: "offline"}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleReady reports whether storage is usable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// Sync endpoints

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.syncService.Status(r.Context()))
}

// handleSync is the "Sync Now" button.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	report, err := s.syncService.SyncOfflineActions(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case errors.Is(err, domain.ErrSyncInProgress):
		writeError(w, http.StatusConflict, "sync already in progress")
	case errors.Is(err, domain.ErrOffline):
		writeError(w, http.StatusServiceUnavailable, "device is offline")
	case domain.IsAuthError(err):
		// Partial results are still useful to the dashboard
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":  "sync paused: sign in again",
			"report": report,
		})
	default:
		s.logger.Error("manual sync failed", "error", err)
		writeError(w, http.StatusInternalServerError, "sync failed")
	}
}

// Queue endpoints

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	resp := QueueResponse{
		Pending:     s.syncService.ListPendingActions(r.Context()),
		DeadLetters: s.syncService.ListDeadLetters(r.Context()),
	}
	if resp.Pending == nil {
		resp.Pending = []domain.PendingAction{}
	}
	if resp.DeadLetters == nil {
		resp.DeadLetters = []domain.PendingAction{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDiscardAction(w http.ResponseWriter, r *http.Request) {
	actionID := r.PathValue("actionId")
	if actionID == "" {
		writeError(w, http.StatusBadRequest, "missing action id")
		return
	}

	err := s.syncService.DiscardAction(r.Context(), actionID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "action not found")
	default:
		s.logger.Error("discard failed", "action_id", actionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to discard action")
	}
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if s.queueStatus == nil {
		writeError(w, http.StatusNotFound, "queue status not available")
		return
	}
	status, ok := s.queueStatus.GetQueueStatus(r.Context(), r.PathValue("departmentId"))
	if !ok {
		writeError(w, http.StatusNotFound, "no queue status cached for department")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
