// Package issuer mints, authenticates, revokes, and lists API keys.
package issuer

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sandboxlabs/keygate/config"
	"github.com/sandboxlabs/keygate/models"
	"github.com/sandboxlabs/keygate/repositories"
	"github.com/sandboxlabs/keygate/services"
	"github.com/sandboxlabs/keygate/services/rls"
	"github.com/sandboxlabs/keygate/services/signing"
)

const (
	tokenPrefixBytes = "kg_"
	// prefixLen is the number of leading token characters stored for
	// display. Enough to identify a key, useless for authentication.
	prefixLen = 12
	// secretBytes is the entropy of a raw token before encoding.
	secretBytes = 32
)

// Recorder appends events to the audit ledger.
type Recorder interface {
	Record(ctx context.Context, event *models.AuditEvent) error
}

// IssuedKey pairs a stored key with its raw secret. The secret exists only
// in this value; it is never persisted and never shown again.
type IssuedKey struct {
	Secret string
	Key    *models.ApiKey
}

// Service mints and authenticates API keys.
type Service struct {
	keys       repositories.KeyRepository
	namespaces repositories.NamespaceRepository
	recorder   Recorder
	policy     *rls.Engine
	security   config.SecurityConfig
	logger     *zap.Logger
}

// NewService creates a new issuer service
func NewService(
	keys repositories.KeyRepository,
	namespaces repositories.NamespaceRepository,
	recorder Recorder,
	policy *rls.Engine,
	security config.SecurityConfig,
	logger *zap.Logger,
) *Service {
	return &Service{
		keys:       keys,
		namespaces: namespaces,
		recorder:   recorder,
		policy:     policy,
		security:   security,
		logger:     logger,
	}
}

// Issue mints a new key. Namespace scopes must reference an existing
// namespace; the rate limit must be positive. The raw secret is returned
// exactly once.
func (s *Service) Issue(ctx context.Context, scope models.KeyScope, rateLimit int, expiresAt *time.Time) (*IssuedKey, error) {
	if err := scope.Validate(); err != nil {
		return nil, services.WrapError(services.ErrorTypeValidation, err.Error(), err)
	}
	if rateLimit <= 0 {
		return nil, services.ErrRateLimitOutOfRange
	}

	if scope.Type == models.ScopeTypeNamespace {
		ns, err := s.namespaces.GetByCode(ctx, scope.Namespace)
		if err != nil {
			return nil, services.WrapInternal("failed to resolve namespace", err)
		}
		if ns == nil {
			return nil, services.NewDomainError(services.ErrorTypeInvalidScope,
				"scope references an unknown namespace", nil).
				WithDetail("namespace", scope.Namespace)
		}
	}

	issued, err := s.Mint(scope, rateLimit, expiresAt)
	if err != nil {
		return nil, err
	}

	if err := s.keys.Insert(ctx, issued.Key); err != nil {
		return nil, services.WrapInternal("failed to persist api key", err)
	}

	if err := s.recordKeyEvent(ctx, models.EventKeyIssued, issued.Key); err != nil {
		return nil, err
	}

	s.logger.Info("api key issued",
		zap.String("id", issued.Key.ID.String()),
		zap.String("prefix", issued.Key.TokenPrefix),
		zap.String("scope_type", string(scope.Type)))

	return issued, nil
}

// Mint generates a secret and its key model without persisting either.
// The rotation engine uses this to build successors inside its own
// transaction.
func (s *Service) Mint(scope models.KeyScope, rateLimit int, expiresAt *time.Time) (*IssuedKey, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, services.WrapInternal("failed to generate key material", err)
	}

	secret := tokenPrefixBytes + base64.RawURLEncoding.EncodeToString(raw)
	hash := signing.KeyedHash(s.security.TokenPepper, secret)
	key := models.NewApiKey(hash, secret[:prefixLen], scope, rateLimit, expiresAt)

	return &IssuedKey{Secret: secret, Key: key}, nil
}

// Authenticate resolves a raw token to its key. Unknown tokens, revoked
// keys, and expired keys are rejected with distinct error types. The
// last-used timestamp is updated best effort off the request path.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.ApiKey, error) {
	if token == "" {
		return nil, services.ErrUnauthenticated
	}

	hash := signing.KeyedHash(s.security.TokenPepper, token)
	key, err := s.keys.GetByTokenHash(ctx, hash)
	if err != nil {
		return nil, services.WrapInternal("failed to look up api key", err)
	}
	if key == nil {
		return nil, services.ErrUnauthenticated
	}
	if subtle.ConstantTimeCompare([]byte(hash), []byte(key.TokenHash)) != 1 {
		return nil, services.ErrUnauthenticated
	}
	if key.Revoked {
		return nil, services.ErrKeyRevoked
	}
	if key.IsExpired(time.Now().UTC()) {
		return nil, services.ErrKeyExpired
	}

	go func(id uuid.UUID) {
		touchCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.keys.TouchLastUsed(touchCtx, id, time.Now().UTC()); err != nil {
			s.logger.Warn("failed to update last_used_at",
				zap.String("id", id.String()),
				zap.Error(err))
		}
	}(key.ID)

	return key, nil
}

// Revoke marks a key revoked. Revoking an already revoked key succeeds
// without a second audit entry.
func (s *Service) Revoke(ctx context.Context, id uuid.UUID) error {
	key, err := s.keys.GetByID(ctx, id)
	if err != nil {
		return services.WrapInternal("failed to look up api key", err)
	}
	if key == nil {
		return services.ErrKeyNotFound
	}

	transitioned, err := s.keys.MarkRevoked(ctx, id, nil)
	if err != nil {
		return services.WrapInternal("failed to revoke api key", err)
	}
	if !transitioned {
		// Already revoked: idempotent success.
		return nil
	}

	if err := s.recordKeyEvent(ctx, models.EventKeyRevoked, key); err != nil {
		return err
	}

	s.logger.Info("api key revoked", zap.String("id", id.String()))
	return nil
}

// Get returns one key, policy checked against the caller's claims.
func (s *Service) Get(ctx context.Context, claims rls.Claims, id uuid.UUID) (*models.ApiKey, error) {
	key, err := s.keys.GetByID(ctx, id)
	if err != nil {
		return nil, services.WrapInternal("failed to look up api key", err)
	}
	if key == nil {
		return nil, services.ErrKeyNotFound
	}
	if err := s.policy.Allow(ctx, key.TableName(), claims, keyRow(key)); err != nil {
		return nil, err
	}
	return key, nil
}

// List returns the keys visible to the caller. Admins see everything;
// namespace callers see only keys scoped to their namespace and allowed
// by policy.
func (s *Service) List(ctx context.Context, claims rls.Claims) ([]*models.ApiKey, error) {
	keys, err := s.keys.List(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to list api keys", err)
	}

	if claims.Admin {
		return keys, nil
	}

	visible := make([]*models.ApiKey, 0, len(keys))
	for _, key := range keys {
		if err := s.policy.Allow(ctx, key.TableName(), claims, keyRow(key)); err != nil {
			continue
		}
		visible = append(visible, key)
	}
	return visible, nil
}

// recordKeyEvent appends a key lifecycle event to the ledger. Every key
// mutation must land with its ledger record, so a write failure fails the
// operation that triggered it.
func (s *Service) recordKeyEvent(ctx context.Context, eventType string, key *models.ApiKey) error {
	payload, err := json.Marshal(map[string]interface{}{
		"key_id":       key.ID.String(),
		"token_prefix": key.TokenPrefix,
		"scope":        key.Scope,
		"rate_limit":   key.RateLimit,
	})
	if err != nil {
		return services.WrapInternal("failed to build audit payload", err)
	}

	event := models.NewAuditEvent(eventType, payload).WithActor(fmt.Sprintf("key:%s", key.ID))
	if key.Scope.Type == models.ScopeTypeNamespace {
		event = event.WithNamespace(key.Scope.Namespace)
	}
	if err := s.recorder.Record(ctx, event); err != nil {
		return services.WrapInternal("failed to record key event", err)
	}
	return nil
}

// keyRow projects a key into the column map the policy engine evaluates.
func keyRow(key *models.ApiKey) map[string]interface{} {
	row := map[string]interface{}{
		"id": key.ID.String(),
	}
	if key.Scope.Type == models.ScopeTypeNamespace {
		row["scope_namespace"] = key.Scope.Namespace
	}
	return row
}
