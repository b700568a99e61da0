package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sandboxlabs/keygate/utils"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Checks        map[string]string `json:"checks,omitempty"`
	PendingEvents *int              `json:"pending_rotation_events,omitempty"`
}

// PendingCounter reports the number of undelivered rotation events. The
// count is surfaced on readiness so operators can alert on a stuck
// dispatcher.
type PendingCounter interface {
	PendingCount(ctx context.Context) (int, error)
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db      *sql.DB
	pending PendingCounter
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db *sql.DB, pending PendingCounter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:      db,
		pending: pending,
		logger:  logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Readiness check - validates that all dependencies are available
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if err := h.checkDatabase(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		allHealthy = false
	} else {
		checks["database"] = "healthy"
	}

	var pendingEvents *int
	if h.pending != nil {
		if count, err := h.pending.PendingCount(ctx); err != nil {
			h.logger.Warn("pending event count failed", zap.Error(err))
			checks["dispatcher"] = "unknown"
		} else {
			checks["dispatcher"] = "healthy"
			pendingEvents = &count
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:        status,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Checks:        checks,
		PendingEvents: pendingEvents,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if h.db == nil {
		return nil // No database configured
	}

	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return err
	}

	return nil
}
