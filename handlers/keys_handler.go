package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sandboxlabs/keygate/middleware"
	"github.com/sandboxlabs/keygate/models"
	"github.com/sandboxlabs/keygate/services/issuer"
	"github.com/sandboxlabs/keygate/services/rls"
	"github.com/sandboxlabs/keygate/services/rotation"
	"github.com/sandboxlabs/keygate/services/webhook"
	"github.com/sandboxlabs/keygate/utils"
)

// maxDeliveryBody bounds the rotation delivery endpoint body size.
const maxDeliveryBody = 1 << 20

// IssueKeyRequest represents a request to issue an API key
type IssueKeyRequest struct {
	Scope     models.KeyScope `json:"scope" validate:"required"`
	RateLimit int             `json:"rate_limit" validate:"required,gt=0"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// RotateKeyRequest represents a request to rotate an API key. The optional
// fields adjust the successor; omitted fields inherit from the rotated key.
type RotateKeyRequest struct {
	KeyID        uuid.UUID `json:"key_id" validate:"required"`
	NewRateLimit *int      `json:"new_rate_limit,omitempty" validate:"omitempty,gt=0"`
	TTLSeconds   *int64    `json:"ttl_seconds,omitempty" validate:"omitempty,gt=0"`
}

// IssuedKeyResponse carries a freshly issued key. Secret appears here and
// nowhere else.
type IssuedKeyResponse struct {
	Secret string         `json:"secret"`
	Key    *models.ApiKey `json:"key"`
}

// RotatedKeyResponse carries the outcome of a rotation
type RotatedKeyResponse struct {
	Secret    string         `json:"secret"`
	Key       *models.ApiKey `json:"key"`
	Previous  *models.ApiKey `json:"previous"`
	EventID   uuid.UUID      `json:"event_id"`
	Signature string         `json:"signature"`
}

// DeliveryResponse acknowledges a rotation delivery
type DeliveryResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// KeyService defines the issuer operations the handler depends on
type KeyService interface {
	Issue(ctx context.Context, scope models.KeyScope, rateLimit int, expiresAt *time.Time) (*issuer.IssuedKey, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, claims rls.Claims, id uuid.UUID) (*models.ApiKey, error)
	List(ctx context.Context, claims rls.Claims) ([]*models.ApiKey, error)
}

// RotationService defines the rotation operation the handler depends on
type RotationService interface {
	Rotate(ctx context.Context, id uuid.UUID, overrides rotation.Overrides) (*rotation.RotatedKey, error)
}

// DeliveryReceiver defines the webhook receiver contract
type DeliveryReceiver interface {
	HandleDelivery(ctx context.Context, eventID uuid.UUID, payload []byte, signature string) (*models.RotationPayload, bool, error)
}

// KeysHandler handles API key lifecycle HTTP requests
type KeysHandler struct {
	keys     KeyService
	rotator  RotationService
	receiver DeliveryReceiver
	logger   *zap.Logger
}

// NewKeysHandler creates a new KeysHandler
func NewKeysHandler(keys KeyService, rotator RotationService, receiver DeliveryReceiver, logger *zap.Logger) *KeysHandler {
	return &KeysHandler{
		keys:     keys,
		rotator:  rotator,
		receiver: receiver,
		logger:   logger,
	}
}

// HandleIssueKey handles POST /api/v1/auth/keys
func (h *KeysHandler) HandleIssueKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req IssueKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	issued, err := h.keys.Issue(ctx, req.Scope, req.RateLimit, req.ExpiresAt)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("issued api key",
		zap.String("request_id", requestID),
		zap.String("key_id", issued.Key.ID.String()),
		zap.String("scope_type", string(issued.Key.Scope.Type)))

	_ = utils.WriteCreated(w, IssuedKeyResponse{Secret: issued.Secret, Key: issued.Key})
}

// HandleListKeys handles GET /api/v1/auth/keys
func (h *KeysHandler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	claims, ok := middleware.GetClaimsFromContext(ctx)
	if !ok {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	keys, err := h.keys.List(ctx, claims)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Debug("listed api keys",
		zap.String("request_id", requestID),
		zap.Int("count", len(keys)))

	_ = utils.WriteOK(w, keys)
}

// HandleGetKey handles GET /api/v1/auth/keys/{id}
func (h *KeysHandler) HandleGetKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, ok := middleware.GetClaimsFromContext(ctx)
	if !ok {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid key ID format", nil)
		return
	}

	key, err := h.keys.Get(ctx, claims, id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, key)
}

// HandleRevokeKey handles DELETE /api/v1/auth/keys/{id}
func (h *KeysHandler) HandleRevokeKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid key ID format", nil)
		return
	}

	if err := h.keys.Revoke(ctx, id); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("revoked api key",
		zap.String("request_id", requestID),
		zap.String("key_id", id.String()))

	utils.WriteNoContent(w)
}

// HandleRotateKey handles POST /api/v1/auth/keys/rotate
func (h *KeysHandler) HandleRotateKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req RotateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if req.KeyID == uuid.Nil {
		_ = utils.WriteBadRequest(w, "key_id is required", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	overrides := rotation.Overrides{RateLimit: req.NewRateLimit}
	if req.TTLSeconds != nil {
		expiresAt := time.Now().UTC().Add(time.Duration(*req.TTLSeconds) * time.Second)
		overrides.ExpiresAt = &expiresAt
	}

	rotated, err := h.rotator.Rotate(ctx, req.KeyID, overrides)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("rotated api key",
		zap.String("request_id", requestID),
		zap.String("previous", rotated.Previous.ID.String()),
		zap.String("successor", rotated.Key.ID.String()))

	_ = utils.WriteOK(w, RotatedKeyResponse{
		Secret:    rotated.Secret,
		Key:       rotated.Key,
		Previous:  rotated.Previous,
		EventID:   rotated.Event.ID,
		Signature: rotated.Event.Signature,
	})
}

// HandleRotatedDelivery handles POST /api/v1/auth/keys/rotated. This is the
// published receiver contract: the dispatcher (or any peer daemon) POSTs the
// signed rotation payload here with the signature and event ID headers.
// Duplicates are acknowledged without reprocessing.
func (h *KeysHandler) HandleRotatedDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	signature := r.Header.Get(webhook.SignatureHeader)
	if signature == "" {
		_ = utils.WriteBadRequest(w, "Missing signature header", nil)
		return
	}

	eventID, err := uuid.Parse(r.Header.Get(webhook.EventIDHeader))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Missing or invalid event ID header", nil)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxDeliveryBody))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Failed to read request body", nil)
		return
	}

	payload, fresh, err := h.receiver.HandleDelivery(ctx, eventID, body, signature)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("accepted rotation delivery",
		zap.String("request_id", requestID),
		zap.String("event_id", eventID.String()),
		zap.String("previous_key_id", payload.PreviousKeyID.String()),
		zap.Bool("duplicate", !fresh))

	_ = utils.WriteOK(w, DeliveryResponse{Status: "accepted", Duplicate: !fresh})
}
