package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/sandboxlabs/keygate/models"
	"github.com/sandboxlabs/keygate/services"
)

// MockPolicyManager is a mock implementation of PolicyManager
type MockPolicyManager struct {
	mock.Mock
}

func (m *MockPolicyManager) Upsert(ctx context.Context, table, name string, expression models.Expr, permissive bool) (*models.RlsPolicy, error) {
	args := m.Called(ctx, table, name, expression, permissive)
	if policy := args.Get(0); policy != nil {
		return policy.(*models.RlsPolicy), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPolicyManager) List(ctx context.Context) ([]*models.RlsPolicy, error) {
	args := m.Called(ctx)
	if policies := args.Get(0); policies != nil {
		return policies.([]*models.RlsPolicy), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestHandleUpsertPolicy(t *testing.T) {
	ownerExpr := models.Expr{
		Eq: &models.EqExpr{Column: "scope_namespace", Claim: models.ClaimNamespace},
	}

	t.Run("stores a policy", func(t *testing.T) {
		manager := new(MockPolicyManager)
		stored := models.NewRlsPolicy("api_keys", "tenant_isolation", ownerExpr)
		manager.On("Upsert", mock.Anything, "api_keys", "tenant_isolation", ownerExpr, false).
			Return(stored, nil)

		h := NewPolicyHandler(manager, zap.NewNop())
		body := `{"table_name":"api_keys","policy_name":"tenant_isolation","expression":{"eq":{"column":"scope_namespace","claim":"namespace"}}}`
		req := httptest.NewRequest(http.MethodPut, "/api/v1/rls/policies", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		h.HandleUpsertPolicy(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		manager.AssertExpectations(t)
	})

	t.Run("invalid expression rejected", func(t *testing.T) {
		manager := new(MockPolicyManager)
		manager.On("Upsert", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, services.NewDomainError(services.ErrorTypeValidation,
				"policy expression must set exactly one of eq/and/or/not, got 0", nil))

		h := NewPolicyHandler(manager, zap.NewNop())
		body := `{"table_name":"api_keys","policy_name":"empty","expression":{"eq":{"column":"id","claim":"subject"}}}`
		req := httptest.NewRequest(http.MethodPut, "/api/v1/rls/policies", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		h.HandleUpsertPolicy(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing table rejected", func(t *testing.T) {
		h := NewPolicyHandler(new(MockPolicyManager), zap.NewNop())
		body := `{"policy_name":"x","expression":{"eq":{"column":"id","claim":"subject"}}}`
		req := httptest.NewRequest(http.MethodPut, "/api/v1/rls/policies", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		h.HandleUpsertPolicy(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleListPolicies(t *testing.T) {
	manager := new(MockPolicyManager)
	manager.On("List", mock.Anything).Return([]*models.RlsPolicy{
		models.NewRlsPolicy("api_keys", "tenant_isolation", models.Expr{
			Eq: &models.EqExpr{Column: "scope_namespace", Claim: models.ClaimNamespace},
		}),
	}, nil)

	h := NewPolicyHandler(manager, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rls/policies", nil)
	w := httptest.NewRecorder()

	h.HandleListPolicies(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
