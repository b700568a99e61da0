package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/sandboxlabs/keygate/middleware"
	"github.com/sandboxlabs/keygate/models"
	"github.com/sandboxlabs/keygate/utils"
)

// UpsertPolicyRequest represents a request to create or replace a policy
type UpsertPolicyRequest struct {
	TableName  string      `json:"table_name" validate:"required"`
	PolicyName string      `json:"policy_name" validate:"required"`
	Expression models.Expr `json:"expression" validate:"required"`
	Permissive bool        `json:"permissive"`
}

// PolicyManager defines the policy administration operations
type PolicyManager interface {
	Upsert(ctx context.Context, table, name string, expression models.Expr, permissive bool) (*models.RlsPolicy, error)
	List(ctx context.Context) ([]*models.RlsPolicy, error)
}

// PolicyHandler handles row policy HTTP requests
type PolicyHandler struct {
	policies PolicyManager
	logger   *zap.Logger
}

// NewPolicyHandler creates a new PolicyHandler
func NewPolicyHandler(policies PolicyManager, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{
		policies: policies,
		logger:   logger,
	}
}

// HandleUpsertPolicy handles PUT /api/v1/rls/policies
func (h *PolicyHandler) HandleUpsertPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req UpsertPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	policy, err := h.policies.Upsert(ctx, req.TableName, req.PolicyName, req.Expression, req.Permissive)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("upserted rls policy",
		zap.String("request_id", requestID),
		zap.String("table", policy.TableName),
		zap.String("policy", policy.PolicyName))

	_ = utils.WriteOK(w, policy)
}

// HandleListPolicies handles GET /api/v1/rls/policies
func (h *PolicyHandler) HandleListPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	policies, err := h.policies.List(ctx)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Debug("listed rls policies",
		zap.String("request_id", requestID),
		zap.Int("count", len(policies)))

	_ = utils.WriteOK(w, policies)
}
