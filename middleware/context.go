package middleware

import (
	"context"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sandboxlabs/keygate/models"
	"github.com/sandboxlabs/keygate/services/rls"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// KeyKey is the context key for the authenticated API key
	KeyKey contextKey = "api_key"

	// ClaimsKey is the context key for policy claims
	ClaimsKey contextKey = "claims"
)

// GetRequestIDFromContext retrieves the request ID from context. Falls back
// to the ID stored by chi's RequestID middleware, which uses its own key.
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return chimiddleware.GetReqID(ctx)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetKeyFromContext retrieves the authenticated API key from context.
// Nil for operator sessions, which authenticate without a key.
func GetKeyFromContext(ctx context.Context) *models.ApiKey {
	if val := ctx.Value(KeyKey); val != nil {
		if key, ok := val.(*models.ApiKey); ok {
			return key
		}
	}
	return nil
}

// WithKey adds the authenticated API key to the context
func WithKey(ctx context.Context, key *models.ApiKey) context.Context {
	return context.WithValue(ctx, KeyKey, key)
}

// GetClaimsFromContext retrieves policy claims from context
func GetClaimsFromContext(ctx context.Context) (rls.Claims, bool) {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(rls.Claims); ok {
			return claims, true
		}
	}
	return rls.Claims{}, false
}

// WithClaims adds policy claims to the context
func WithClaims(ctx context.Context, claims rls.Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}
