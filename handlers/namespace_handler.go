package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sandboxlabs/keygate/middleware"
	"github.com/sandboxlabs/keygate/models"
	"github.com/sandboxlabs/keygate/utils"
)

// CreateNamespaceRequest represents a request to provision a namespace
type CreateNamespaceRequest struct {
	Code        string `json:"code" validate:"required"`
	DisplayName string `json:"display_name,omitempty"`
}

// NamespaceService defines the namespace operations the handler depends on
type NamespaceService interface {
	Create(ctx context.Context, code, displayName string) (*models.Namespace, error)
	Get(ctx context.Context, code string) (*models.Namespace, error)
	List(ctx context.Context) ([]*models.Namespace, error)
}

// NamespaceHandler handles namespace HTTP requests
type NamespaceHandler struct {
	namespaces NamespaceService
	logger     *zap.Logger
}

// NewNamespaceHandler creates a new NamespaceHandler
func NewNamespaceHandler(namespaces NamespaceService, logger *zap.Logger) *NamespaceHandler {
	return &NamespaceHandler{
		namespaces: namespaces,
		logger:     logger,
	}
}

// HandleCreateNamespace handles POST /api/v1/namespaces
func (h *NamespaceHandler) HandleCreateNamespace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req CreateNamespaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	ns, err := h.namespaces.Create(ctx, req.Code, req.DisplayName)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("created namespace",
		zap.String("request_id", requestID),
		zap.String("code", ns.Code))

	_ = utils.WriteCreated(w, ns)
}

// HandleGetNamespace handles GET /api/v1/namespaces/{code}
func (h *NamespaceHandler) HandleGetNamespace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	code := chi.URLParam(r, "code")
	ns, err := h.namespaces.Get(ctx, code)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, ns)
}

// HandleListNamespaces handles GET /api/v1/namespaces
func (h *NamespaceHandler) HandleListNamespaces(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	namespaces, err := h.namespaces.List(ctx)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Debug("listed namespaces",
		zap.String("request_id", requestID),
		zap.Int("count", len(namespaces)))

	_ = utils.WriteOK(w, namespaces)
}
