package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/sandboxlabs/keygate/models"
	"github.com/sandboxlabs/keygate/services"
	"github.com/sandboxlabs/keygate/services/rls"
	"github.com/sandboxlabs/keygate/utils"
)

// Authenticator resolves raw API tokens to keys.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.ApiKey, error)
}

// AuthMiddleware authenticates requests. API key tokens (kg_ prefixed) are
// resolved through the issuer; anything else is tried as an operator
// session JWT when a secret is configured. Operator sessions act with
// admin claims, the same trust an admin key carries.
type AuthMiddleware struct {
	auth      Authenticator
	jwtSecret string
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(auth Authenticator, jwtSecret string, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		auth:      auth,
		jwtSecret: jwtSecret,
		logger:    logger,
	}
}

// operatorClaims is the registered claim set of operator session tokens.
type operatorClaims struct {
	jwt.RegisteredClaims
}

// RequireAuth is a middleware that requires a valid API key or operator
// session token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := extractBearerToken(r)
		if token == "" {
			m.logger.Warn("missing token",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		if strings.HasPrefix(token, "kg_") {
			key, err := m.auth.Authenticate(ctx, token)
			if err != nil {
				m.logger.Warn("api key authentication failed",
					zap.String("request_id", requestID),
					zap.String("error_type", string(services.GetErrorType(err))))
				_ = utils.WriteUnauthorized(w, authFailureMessage(err))
				return
			}

			claims := rls.ClaimsForKey(key)
			ctx = WithKey(ctx, key)
			ctx = WithClaims(ctx, claims)

			m.logger.Debug("api key authenticated",
				zap.String("request_id", requestID),
				zap.String("key_id", key.ID.String()),
				zap.String("scope_type", string(key.Scope.Type)))

			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		subject, err := m.validateOperatorToken(token)
		if err != nil {
			m.logger.Warn("operator token validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx = WithClaims(ctx, rls.Claims{Admin: true, Subject: fmt.Sprintf("operator:%s", subject)})

		m.logger.Debug("operator session authenticated",
			zap.String("request_id", requestID),
			zap.String("subject", subject))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin is a middleware that restricts the route to admin claims.
// Must run after RequireAuth.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		claims, ok := GetClaimsFromContext(ctx)
		if !ok {
			m.logger.Error("claims not found in context",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Authentication required")
			return
		}

		if !claims.Admin {
			m.logger.Warn("admin scope required",
				zap.String("request_id", requestID),
				zap.String("subject", claims.Subject))
			_ = utils.WriteForbidden(w, "Admin scope required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// validateOperatorToken parses and verifies an operator session JWT.
func (m *AuthMiddleware) validateOperatorToken(token string) (string, error) {
	if m.jwtSecret == "" {
		return "", fmt.Errorf("operator sessions are not enabled")
	}

	var claims operatorClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(m.jwtSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse operator token: %w", err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("operator token is invalid")
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("operator token has no subject")
	}
	return claims.Subject, nil
}

// authFailureMessage maps authentication error types to response messages
// without leaking whether a token exists.
func authFailureMessage(err error) string {
	switch services.GetErrorType(err) {
	case services.ErrorTypeRevoked:
		return "API key has been revoked"
	case services.ErrorTypeExpired:
		return "API key has expired"
	default:
		return "Invalid API key"
	}
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
