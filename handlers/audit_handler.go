package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sandboxlabs/keygate/middleware"
	"github.com/sandboxlabs/keygate/models"
	"github.com/sandboxlabs/keygate/services/rls"
	"github.com/sandboxlabs/keygate/utils"
)

// RecordEventRequest represents a request to append a ledger event
type RecordEventRequest struct {
	Namespace *string         `json:"namespace,omitempty"`
	Actor     *string         `json:"actor,omitempty"`
	EventType string          `json:"event_type" validate:"required"`
	Payload   json.RawMessage `json:"payload" validate:"required"`
}

// AuditService defines the ledger operations the handler depends on
type AuditService interface {
	Record(ctx context.Context, event *models.AuditEvent) error
	List(ctx context.Context, claims rls.Claims, filter models.AuditFilter) ([]*models.AuditEvent, error)
}

// AuditHandler handles audit ledger HTTP requests
type AuditHandler struct {
	audit  AuditService
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(audit AuditService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		logger: logger,
	}
}

// HandleListEvents handles GET /api/v1/audit/events
func (h *AuditHandler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	claims, ok := middleware.GetClaimsFromContext(ctx)
	if !ok {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	filter, err := parseAuditFilter(r)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	events, err := h.audit.List(ctx, claims, filter)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Debug("listed audit events",
		zap.String("request_id", requestID),
		zap.Int("count", len(events)))

	_ = utils.WriteOK(w, events)
}

// HandleRecordEvent handles POST /api/v1/audit/events
func (h *AuditHandler) HandleRecordEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req RecordEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	event := models.NewAuditEvent(req.EventType, req.Payload)
	if req.Namespace != nil {
		event = event.WithNamespace(*req.Namespace)
	}
	if req.Actor != nil {
		event = event.WithActor(*req.Actor)
	}

	if err := h.audit.Record(ctx, event); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("recorded audit event",
		zap.String("request_id", requestID),
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.EventType))

	_ = utils.WriteCreated(w, event)
}

// parseAuditFilter builds an AuditFilter from list query parameters.
// Timestamps are RFC3339; a malformed one fails the request instead of
// being silently ignored.
func parseAuditFilter(r *http.Request) (models.AuditFilter, error) {
	var filter models.AuditFilter
	query := r.URL.Query()

	if ns := query.Get("namespace"); ns != "" {
		filter.Namespace = &ns
	}
	if actor := query.Get("actor"); actor != "" {
		filter.Actor = &actor
	}
	if eventType := query.Get("event_type"); eventType != "" {
		filter.EventType = &eventType
	}

	since, err := parseTimeParam(query.Get("since"))
	if err != nil {
		return filter, err
	}
	filter.Since = since

	until, err := parseTimeParam(query.Get("until"))
	if err != nil {
		return filter, err
	}
	filter.Until = until

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, &timeParamError{param: "limit", value: raw}
		}
		filter.Limit = limit
	}

	return filter, nil
}

func parseTimeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, &timeParamError{param: "timestamp", value: raw}
	}
	return &parsed, nil
}

type timeParamError struct {
	param string
	value string
}

func (e *timeParamError) Error() string {
	return "invalid " + e.param + " parameter: " + e.value
}
