package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RotationEventKind is the event kind carried in every rotation payload.
const RotationEventKind = "key_rotated"

// RotationEvent is a queued, signed notification that a key rotation
// occurred. It is inserted in the same transaction as the rotation itself,
// so no rotation exists without its event. Delivered transitions false→true
// exactly once and is never reset.
type RotationEvent struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	NewKeyID      uuid.UUID       `json:"new_key_id" db:"new_key_id"`
	PreviousKeyID uuid.UUID       `json:"previous_key_id" db:"previous_key_id"`
	RotatedAt     time.Time       `json:"rotated_at" db:"rotated_at"`
	Payload       json.RawMessage `json:"payload" db:"payload"`
	Signature     string          `json:"signature" db:"signature"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	Delivered     bool            `json:"delivered" db:"delivered"`
	LeaseUntil    *time.Time      `json:"-" db:"lease_until"`
}

// TableName returns the table name for the RotationEvent model
func (RotationEvent) TableName() string {
	return "rotation_events"
}

// NewRotationEvent creates a pending RotationEvent instance.
func NewRotationEvent(newKeyID, previousKeyID uuid.UUID, rotatedAt time.Time, payload json.RawMessage, signature string) *RotationEvent {
	return &RotationEvent{
		ID:            uuid.New(),
		NewKeyID:      newKeyID,
		PreviousKeyID: previousKeyID,
		RotatedAt:     rotatedAt,
		Payload:       payload,
		Signature:     signature,
		CreatedAt:     time.Now().UTC(),
	}
}

// RotationPayload is the canonical notification body signed by the rotation
// engine and delivered to webhook subscribers. It never carries the raw
// secret; the prefix is the only key material included. Field order is
// fixed so the serialized form is deterministic.
type RotationPayload struct {
	Event         string    `json:"event"`
	NewKeyID      uuid.UUID `json:"new_key_id"`
	PreviousKeyID uuid.UUID `json:"previous_key_id"`
	RotatedAt     time.Time `json:"rotated_at"`
	Scope         KeyScope  `json:"scope"`
	Owner         string    `json:"owner"`
	TokenPrefix   string    `json:"token_prefix"`
}
