package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Audit event types recorded by the core.
const (
	EventKeyIssued        = "key_issued"
	EventKeyRevoked       = "key_revoked"
	EventKeyRotated       = "key_rotated"
	EventPolicyUpserted   = "rls_policy_upserted"
	EventNamespaceCreated = "namespace_created"
	EventWebhookDelivered = "webhook_delivered"
)

// AuditEvent is one row of the append-only ledger. SignatureValid is
// tri-state: nil means the payload carried no signature, true/false record
// the verification outcome computed at write time. It is an inspection
// hint; presence in the ledger alone proves nothing.
type AuditEvent struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	Namespace      *string         `json:"namespace,omitempty" db:"namespace"`
	Actor          *string         `json:"actor,omitempty" db:"actor"`
	EventType      string          `json:"event_type" db:"event_type"`
	RecordedAt     time.Time       `json:"recorded_at" db:"recorded_at"`
	Payload        json.RawMessage `json:"payload" db:"payload"`
	SignatureValid *bool           `json:"signature_valid,omitempty" db:"signature_valid"`
}

// TableName returns the table name for the AuditEvent model
func (AuditEvent) TableName() string {
	return "audit_events"
}

// NewAuditEvent creates a new AuditEvent instance
func NewAuditEvent(eventType string, payload json.RawMessage) *AuditEvent {
	return &AuditEvent{
		ID:         uuid.New(),
		EventType:  eventType,
		RecordedAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// WithNamespace tags the event with a namespace code
func (e *AuditEvent) WithNamespace(code string) *AuditEvent {
	e.Namespace = &code
	return e
}

// WithActor tags the event with the acting identity (a key ID or label)
func (e *AuditEvent) WithActor(actor string) *AuditEvent {
	e.Actor = &actor
	return e
}

// AuditFilter narrows a ledger listing. All set fields are combined with
// AND. Limit is clamped by the service; zero means the default page size.
type AuditFilter struct {
	Namespace *string
	Actor     *string
	EventType *string
	Since     *time.Time
	Until     *time.Time
	Limit     int
}
