// Package audit maintains the append-only signed audit ledger.
package audit

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/sandboxlabs/keygate/models"
	"github.com/sandboxlabs/keygate/repositories"
	"github.com/sandboxlabs/keygate/services"
	"github.com/sandboxlabs/keygate/services/rls"
	"github.com/sandboxlabs/keygate/services/signing"
)

const (
	// DefaultLimit is the page size when the caller does not set one.
	DefaultLimit = 100
	// MaxLimit caps any requested page size.
	MaxLimit = 500
)

// signedEnvelope is the payload shape of signed ledger entries: the inner
// payload bytes are the exact bytes the signature was computed over.
type signedEnvelope struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// SignedPayload wraps exact payload bytes with their signature for the
// ledger.
func SignedPayload(payload json.RawMessage, signature string) (json.RawMessage, error) {
	return json.Marshal(signedEnvelope{Payload: payload, Signature: signature})
}

// Service records and lists ledger events. Events are immutable once
// written; corrections are new events referencing the corrected one.
type Service struct {
	repo   repositories.AuditRepository
	signer *signing.Signer
	policy *rls.Engine
	logger *zap.Logger
}

// NewService creates a new audit service
func NewService(repo repositories.AuditRepository, signer *signing.Signer, policy *rls.Engine, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		signer: signer,
		policy: policy,
		logger: logger,
	}
}

// Record appends one event to the ledger. When the payload is a signed
// envelope the signature is verified eagerly and the verdict stored with
// the row; unsigned payloads get a nil verdict. The verdict is an
// inspection hint computed at write time, not proof of integrity.
func (s *Service) Record(ctx context.Context, event *models.AuditEvent) error {
	event.SignatureValid = s.verdict(event.Payload)

	if err := s.repo.Insert(ctx, event); err != nil {
		s.logger.Error("failed to record audit event",
			zap.String("event_type", event.EventType),
			zap.Error(err))
		return services.WrapInternal("failed to record audit event", err)
	}

	s.logger.Info("audit event recorded",
		zap.String("id", event.ID.String()),
		zap.String("event_type", event.EventType))
	return nil
}

// List returns ledger events visible to the caller, newest first. The
// limit is clamped to MaxLimit; zero or negative means DefaultLimit.
// Namespace callers only ever see events tagged with their namespace.
func (s *Service) List(ctx context.Context, claims rls.Claims, filter models.AuditFilter) ([]*models.AuditEvent, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Limit > MaxLimit {
		filter.Limit = MaxLimit
	}

	ns, err := s.policy.FilterNamespace(claims)
	if err != nil {
		return nil, err
	}
	if ns != nil {
		if filter.Namespace != nil && *filter.Namespace != *ns {
			return nil, services.NewDomainError(services.ErrorTypePolicyDenied,
				"caller may only list events in its own namespace", nil)
		}
		filter.Namespace = ns
	}

	events, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, services.WrapInternal("failed to list audit events", err)
	}

	if claims.Admin {
		return events, nil
	}

	visible := make([]*models.AuditEvent, 0, len(events))
	for _, event := range events {
		row := map[string]interface{}{
			"namespace": event.Namespace,
			"actor":     event.Actor,
		}
		if err := s.policy.Allow(ctx, event.TableName(), claims, row); err != nil {
			continue
		}
		visible = append(visible, event)
	}
	return visible, nil
}

// verdict computes the tri-state signature verdict for a payload.
func (s *Service) verdict(payload json.RawMessage) *bool {
	var envelope signedEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil
	}
	if envelope.Signature == "" || len(envelope.Payload) == 0 {
		return nil
	}
	valid := s.signer.Verify(envelope.Payload, envelope.Signature)
	return &valid
}
