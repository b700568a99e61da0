package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
)

func TestGetRequestIDFromContext(t *testing.T) {
	t.Run("reads the locally stored ID", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "req-123")
		assert.Equal(t, "req-123", GetRequestIDFromContext(ctx))
	})

	t.Run("falls back to the ID set by chi's RequestID middleware", func(t *testing.T) {
		var got string
		handler := chimiddleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = GetRequestIDFromContext(r.Context())
		}))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, got)
	})

	t.Run("empty when no request ID is present", func(t *testing.T) {
		assert.Empty(t, GetRequestIDFromContext(context.Background()))
	})
}
