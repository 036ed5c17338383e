package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/wagerpool/internal/domain"
)

// StatusFunc reports the node status.
type StatusFunc func() domain.ServiceStatus

// HealthHandler serves liveness and status endpoints.
type HealthHandler struct {
	status StatusFunc
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. status may be nil.
func NewHealthHandler(status StatusFunc, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{status: status, logger: logger}
}

// HealthCheck reports that the server is alive.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Status returns the node summary.
// GET /api/status
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		writeError(w, http.StatusServiceUnavailable, "status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}
