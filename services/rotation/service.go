// Package rotation atomically replaces API keys and queues the signed
// notification event for webhook delivery.
package rotation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sandboxlabs/keygate/config"
	"github.com/sandboxlabs/keygate/models"
	"github.com/sandboxlabs/keygate/repositories"
	"github.com/sandboxlabs/keygate/services"
	"github.com/sandboxlabs/keygate/services/audit"
	"github.com/sandboxlabs/keygate/services/issuer"
	"github.com/sandboxlabs/keygate/services/signing"
)

// Minter generates fresh key material without persisting it.
type Minter interface {
	Mint(scope models.KeyScope, rateLimit int, expiresAt *time.Time) (*issuer.IssuedKey, error)
}

// Recorder appends events to the audit ledger.
type Recorder interface {
	Record(ctx context.Context, event *models.AuditEvent) error
}

// Overrides optionally adjusts the successor's rate limit and expiry.
// Nil fields inherit the rotated key's values.
type Overrides struct {
	RateLimit *int
	ExpiresAt *time.Time
}

// RotatedKey is the result of a successful rotation. Secret is the raw
// successor token, returned exactly once.
type RotatedKey struct {
	Secret   string
	Key      *models.ApiKey
	Previous *models.ApiKey
	Event    *models.RotationEvent
}

// Service performs key rotations. A rotation revokes the old key, mints a
// linked successor, and inserts the signed rotation event, all in one
// transaction: either everything lands or nothing does.
type Service struct {
	txMgr    repositories.TransactionManager
	keys     repositories.KeyRepository
	events   repositories.RotationEventRepository
	minter   Minter
	recorder Recorder
	signer   *signing.Signer
	security config.SecurityConfig
	logger   *zap.Logger
}

// NewService creates a new rotation service
func NewService(
	txMgr repositories.TransactionManager,
	keys repositories.KeyRepository,
	events repositories.RotationEventRepository,
	minter Minter,
	recorder Recorder,
	signer *signing.Signer,
	security config.SecurityConfig,
	logger *zap.Logger,
) *Service {
	return &Service{
		txMgr:    txMgr,
		keys:     keys,
		events:   events,
		minter:   minter,
		recorder: recorder,
		signer:   signer,
		security: security,
		logger:   logger,
	}
}

// Rotate replaces the key identified by id with a fresh successor. The
// successor keeps the old key's scope; rate limit and expiry inherit unless
// overridden. Concurrent rotations of the same key are resolved by the
// guarded revoke: exactly one caller wins, the rest get an already rotated
// error.
func (s *Service) Rotate(ctx context.Context, id uuid.UUID, overrides Overrides) (*RotatedKey, error) {
	if overrides.RateLimit != nil && *overrides.RateLimit <= 0 {
		return nil, services.ErrRateLimitOutOfRange
	}

	var result *RotatedKey

	err := s.txMgr.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		key, err := s.keys.GetByID(txCtx, id)
		if err != nil {
			return services.WrapInternal("failed to look up api key", err)
		}
		if key == nil {
			return services.ErrKeyNotFound
		}
		if key.Revoked {
			return services.ErrAlreadyRotated
		}

		rotatedAt := time.Now().UTC()

		rateLimit := key.RateLimit
		if overrides.RateLimit != nil {
			rateLimit = *overrides.RateLimit
		}
		expiresAt := key.ExpiresAt
		if overrides.ExpiresAt != nil {
			expiresAt = overrides.ExpiresAt
		}

		minted, err := s.minter.Mint(key.Scope, rateLimit, expiresAt)
		if err != nil {
			return err
		}
		minted.Key.WithLineage(key.ID, rotatedAt)

		transitioned, err := s.keys.MarkRevoked(txCtx, key.ID, &rotatedAt)
		if err != nil {
			return services.WrapInternal("failed to revoke predecessor", err)
		}
		if !transitioned {
			return services.ErrAlreadyRotated
		}

		if err := s.keys.Insert(txCtx, minted.Key); err != nil {
			return services.WrapInternal("failed to persist successor key", err)
		}

		payload := models.RotationPayload{
			Event:         models.RotationEventKind,
			NewKeyID:      minted.Key.ID,
			PreviousKeyID: key.ID,
			RotatedAt:     rotatedAt,
			Scope:         key.Scope,
			Owner:         s.security.OwnerLabel,
			TokenPrefix:   minted.Key.TokenPrefix,
		}
		payloadBytes, err := json.Marshal(payload)
		if err != nil {
			return services.WrapInternal("failed to serialize rotation payload", err)
		}
		signature := s.signer.Sign(payloadBytes)

		event := models.NewRotationEvent(minted.Key.ID, key.ID, rotatedAt, payloadBytes, signature)
		if err := s.events.Insert(txCtx, event); err != nil {
			return services.WrapInternal("failed to queue rotation event", err)
		}

		if err := s.recordRotation(txCtx, key, payloadBytes, signature); err != nil {
			return err
		}

		result = &RotatedKey{
			Secret:   minted.Secret,
			Key:      minted.Key,
			Previous: key,
			Event:    event,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("api key rotated",
		zap.String("previous", result.Previous.ID.String()),
		zap.String("successor", result.Key.ID.String()),
		zap.String("event", result.Event.ID.String()))

	return result, nil
}

// recordRotation appends the signed rotation to the ledger inside the
// rotation transaction, so the ledger entry and the rotation commit
// together.
func (s *Service) recordRotation(ctx context.Context, previous *models.ApiKey, payload []byte, signature string) error {
	envelope, err := audit.SignedPayload(payload, signature)
	if err != nil {
		return services.WrapInternal("failed to build rotation audit payload", err)
	}

	event := models.NewAuditEvent(models.EventKeyRotated, envelope).
		WithActor(fmt.Sprintf("key:%s", previous.ID))
	if previous.Scope.Type == models.ScopeTypeNamespace {
		event = event.WithNamespace(previous.Scope.Namespace)
	}

	if err := s.recorder.Record(ctx, event); err != nil {
		return services.WrapInternal("failed to record rotation event", err)
	}
	return nil
}
