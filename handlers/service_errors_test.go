package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/sandboxlabs/keygate/services"
)

func TestHandleServiceError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", services.ErrKeyNotFound, http.StatusNotFound},
		{"validation", services.ErrInvalidInput, http.StatusBadRequest},
		{"invalid scope", services.ErrInvalidScope, http.StatusBadRequest},
		{"rate limit range", services.ErrRateLimitOutOfRange, http.StatusBadRequest},
		{"unauthenticated", services.ErrUnauthenticated, http.StatusUnauthorized},
		{"revoked", services.ErrKeyRevoked, http.StatusUnauthorized},
		{"expired", services.ErrKeyExpired, http.StatusUnauthorized},
		{"invalid signature", services.ErrInvalidSignature, http.StatusUnauthorized},
		{"policy denied", services.ErrPolicyDenied, http.StatusForbidden},
		{"already rotated", services.ErrAlreadyRotated, http.StatusConflict},
		{"conflict", services.ErrDuplicateNamespace, http.StatusConflict},
		{"delivery failed", services.ErrDeliveryFailed, http.StatusBadGateway},
		{"internal", services.ErrInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleServiceError(w, tt.err, logger)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}

	t.Run("nil error writes nothing", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleServiceError(w, nil, logger)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Body.String())
	})

	t.Run("internal errors hide the cause", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleServiceError(w, services.WrapInternal("database exploded", assert.AnError), logger)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "exploded")
	})
}
