package webhook

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sandboxlabs/keygate/models"
	"github.com/sandboxlabs/keygate/repositories"
	"github.com/sandboxlabs/keygate/services"
	"github.com/sandboxlabs/keygate/services/signing"
)

// seenLimit bounds the dedup window. Event IDs past the limit age out
// oldest first, so a sufficiently late redelivery is treated as fresh.
const seenLimit = 4096

// Receiver consumes rotation deliveries on the subscriber side. Delivery
// is at least once, so duplicates by event ID are acknowledged without
// reprocessing. The dedup window holds the most recent seenLimit event
// IDs. A payload naming an unknown previous key is accepted and logged:
// it usually means this receiver missed an earlier rotation and needs
// reconciliation, not that the delivery is invalid.
type Receiver struct {
	keys   repositories.KeyRepository
	signer *signing.Signer
	logger *zap.Logger
	mu     sync.Mutex
	seen   map[uuid.UUID]struct{}
	order  []uuid.UUID
}

// NewReceiver creates a new webhook receiver
func NewReceiver(keys repositories.KeyRepository, signer *signing.Signer, logger *zap.Logger) *Receiver {
	return &Receiver{
		keys:   keys,
		signer: signer,
		logger: logger,
		seen:   make(map[uuid.UUID]struct{}),
	}
}

// VerifyDelivery checks a delivery signature against the raw body bytes.
func (r *Receiver) VerifyDelivery(payload []byte, signature string) error {
	if !r.signer.Verify(payload, signature) {
		return services.ErrInvalidSignature
	}
	return nil
}

// HandleDelivery verifies and parses one delivery. The second return value
// is false for duplicates, which callers acknowledge without acting on.
func (r *Receiver) HandleDelivery(ctx context.Context, eventID uuid.UUID, payload []byte, signature string) (*models.RotationPayload, bool, error) {
	if err := r.VerifyDelivery(payload, signature); err != nil {
		r.logger.Warn("rejected delivery with bad signature",
			zap.String("event", eventID.String()))
		return nil, false, err
	}

	var parsed models.RotationPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, false, services.WrapError(services.ErrorTypeValidation,
			"malformed rotation payload", err)
	}

	r.mu.Lock()
	if _, dup := r.seen[eventID]; dup {
		r.mu.Unlock()
		r.logger.Debug("duplicate delivery acknowledged",
			zap.String("event", eventID.String()))
		return &parsed, false, nil
	}
	r.seen[eventID] = struct{}{}
	r.order = append(r.order, eventID)
	if len(r.order) > seenLimit {
		delete(r.seen, r.order[0])
		r.order = r.order[1:]
	}
	r.mu.Unlock()

	previous, err := r.keys.GetByID(ctx, parsed.PreviousKeyID)
	if err != nil {
		r.logger.Warn("failed to resolve previous key for delivery",
			zap.String("event", eventID.String()),
			zap.Error(err))
	} else if previous == nil {
		r.logger.Warn("delivery names an unknown previous key, reconciliation needed",
			zap.String("event", eventID.String()),
			zap.String("previous_key_id", parsed.PreviousKeyID.String()))
	}

	return &parsed, true, nil
}
