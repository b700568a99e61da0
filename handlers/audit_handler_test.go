package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sandboxlabs/keygate/models"
	"github.com/sandboxlabs/keygate/services"
	"github.com/sandboxlabs/keygate/services/rls"
)

// MockAuditService is a mock implementation of AuditService
type MockAuditService struct {
	mock.Mock
}

func (m *MockAuditService) Record(ctx context.Context, event *models.AuditEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockAuditService) List(ctx context.Context, claims rls.Claims, filter models.AuditFilter) ([]*models.AuditEvent, error) {
	args := m.Called(ctx, claims, filter)
	if events := args.Get(0); events != nil {
		return events.([]*models.AuditEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestHandleListEvents(t *testing.T) {
	adminClaims := rls.Claims{Admin: true, Subject: "operator:ops"}

	t.Run("lists with filters", func(t *testing.T) {
		audit := new(MockAuditService)
		audit.On("List", mock.Anything, adminClaims, mock.MatchedBy(func(f models.AuditFilter) bool {
			return f.Namespace != nil && *f.Namespace == "namespace:alpha" &&
				f.EventType != nil && *f.EventType == "key_rotated" &&
				f.Since != nil && f.Limit == 25
		})).Return([]*models.AuditEvent{
			models.NewAuditEvent("key_rotated", []byte(`{}`)),
		}, nil)

		h := NewAuditHandler(audit, zap.NewNop())
		req := withClaims(httptest.NewRequest(http.MethodGet,
			"/api/v1/audit/events?namespace=namespace:alpha&event_type=key_rotated&since=2026-08-01T00:00:00Z&limit=25", nil), adminClaims)
		w := httptest.NewRecorder()

		h.HandleListEvents(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		audit.AssertExpectations(t)
	})

	t.Run("malformed since rejected", func(t *testing.T) {
		h := NewAuditHandler(new(MockAuditService), zap.NewNop())
		req := withClaims(httptest.NewRequest(http.MethodGet,
			"/api/v1/audit/events?since=yesterday", nil), adminClaims)
		w := httptest.NewRecorder()

		h.HandleListEvents(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed limit rejected", func(t *testing.T) {
		h := NewAuditHandler(new(MockAuditService), zap.NewNop())
		req := withClaims(httptest.NewRequest(http.MethodGet,
			"/api/v1/audit/events?limit=many", nil), adminClaims)
		w := httptest.NewRecorder()

		h.HandleListEvents(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("cross namespace listing maps to forbidden", func(t *testing.T) {
		claims := rls.Claims{Namespace: "namespace:alpha", Subject: "key:x"}
		audit := new(MockAuditService)
		audit.On("List", mock.Anything, claims, mock.Anything).
			Return(nil, services.NewDomainError(services.ErrorTypePolicyDenied,
				"caller may only list events in its own namespace", nil))

		h := NewAuditHandler(audit, zap.NewNop())
		req := withClaims(httptest.NewRequest(http.MethodGet,
			"/api/v1/audit/events?namespace=namespace:beta", nil), claims)
		w := httptest.NewRecorder()

		h.HandleListEvents(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("missing claims rejected", func(t *testing.T) {
		h := NewAuditHandler(new(MockAuditService), zap.NewNop())
		req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/events", nil)
		w := httptest.NewRecorder()

		h.HandleListEvents(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestHandleRecordEvent(t *testing.T) {
	t.Run("records an event", func(t *testing.T) {
		audit := new(MockAuditService)
		audit.On("Record", mock.Anything, mock.MatchedBy(func(e *models.AuditEvent) bool {
			return e.EventType == "sandbox_started" &&
				e.Namespace != nil && *e.Namespace == "namespace:alpha"
		})).Return(nil)

		h := NewAuditHandler(audit, zap.NewNop())
		body := `{"namespace":"namespace:alpha","actor":"key:abc","event_type":"sandbox_started","payload":{"sandbox":"s1"}}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/audit/events", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		h.HandleRecordEvent(w, req)

		require.Equal(t, http.StatusCreated, w.Code)
		var resp struct {
			Data models.AuditEvent `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "sandbox_started", resp.Data.EventType)
		audit.AssertExpectations(t)
	})

	t.Run("missing event_type rejected", func(t *testing.T) {
		h := NewAuditHandler(new(MockAuditService), zap.NewNop())
		body := `{"payload":{"a":1}}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/audit/events", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		h.HandleRecordEvent(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed body rejected", func(t *testing.T) {
		h := NewAuditHandler(new(MockAuditService), zap.NewNop())
		req := httptest.NewRequest(http.MethodPost, "/api/v1/audit/events", bytes.NewBufferString("{"))
		w := httptest.NewRecorder()

		h.HandleRecordEvent(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
