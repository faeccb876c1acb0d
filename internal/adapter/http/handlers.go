package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tribunal-dev/tribunal/internal/service"
)

const maxBodyBytes = 1 << 20

// Handlers holds the dependencies for the HTTP surface.
type Handlers struct {
	Runner  *service.Runner
	RunsDir string

	// Collaborator status reported by /health.
	QueueConnected func() bool
	StoreEnabled   bool
}

// runRequest is the body of POST /v1/runs.
type runRequest struct {
	Inputs map[string]any `json:"inputs"`
	Mode   string         `json:"mode"`
}

// handleRun triggers one orchestration run and returns the report.
func (h *Handlers) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mode, err := service.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.Runner.Run(r.Context(), req.Inputs, mode)
	if err != nil {
		// Only configuration errors reach here; per-agent failures are rows
		// in the report.
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if _, err := report.WriteArtifacts(h.RunsDir); err != nil {
		slog.Warn("write run artifacts failed", "session_id", report.SessionID, "error", err)
	}

	writeJSON(w, http.StatusOK, report)
}

// handleHealth reports core liveness and optional collaborator status.
func (h *Handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	bus := "disabled"
	if h.QueueConnected != nil {
		bus = "disconnected"
		if h.QueueConnected() {
			bus = "connected"
		}
	}
	store := "disabled"
	if h.StoreEnabled {
		store = "enabled"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":       "ok",
		"event_bus":    bus,
		"result_store": store,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
