package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sandboxlabs/keygate/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction.
	// The transaction is stashed in the context passed to fn, so repository
	// calls made with that context execute inside the transaction. Commits
	// if the function succeeds, rolls back on error.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// KeyRepository handles API key persistence. Keys are never deleted;
// revocation is the only terminal mutation.
type KeyRepository interface {
	// Insert persists a new API key row
	Insert(ctx context.Context, key *models.ApiKey) error

	// GetByID retrieves a key by identifier, nil when absent
	GetByID(ctx context.Context, id uuid.UUID) (*models.ApiKey, error)

	// GetByTokenHash retrieves a key by its hashed secret, nil when absent
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.ApiKey, error)

	// List returns all keys ordered by created_at descending
	List(ctx context.Context) ([]*models.ApiKey, error)

	// MarkRevoked sets revoked=true (and rotated_at when provided) guarded
	// by revoked=false. Returns false when the key was already revoked or
	// does not exist, which callers use to detect lost rotation races.
	MarkRevoked(ctx context.Context, id uuid.UUID, rotatedAt *time.Time) (bool, error)

	// TouchLastUsed updates last_used_at after successful authentication
	TouchLastUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error
}

// RotationEventRepository handles the signed rotation event queue.
type RotationEventRepository interface {
	// Insert persists a pending rotation event
	Insert(ctx context.Context, event *models.RotationEvent) error

	// GetByID retrieves an event by identifier, nil when absent
	GetByID(ctx context.Context, id uuid.UUID) (*models.RotationEvent, error)

	// ListPending returns undelivered events whose lease is free, oldest
	// first, capped at limit
	ListPending(ctx context.Context, now time.Time, limit int) ([]*models.RotationEvent, error)

	// Claim atomically leases an undelivered event for a delivery attempt.
	// Returns false when the event is delivered, gone, or already leased.
	Claim(ctx context.Context, id uuid.UUID, now, leaseUntil time.Time) (bool, error)

	// MarkDelivered transitions delivered false→true. Returns false when
	// the event was already delivered (the transition happens once).
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)

	// PendingCount reports how many events await delivery, for operator
	// alerting on perpetually pending events
	PendingCount(ctx context.Context) (int, error)
}

// AuditRepository handles the append-only audit ledger. There is no update
// or delete: corrections are new events referencing the corrected one.
type AuditRepository interface {
	// Insert appends one ledger row
	Insert(ctx context.Context, event *models.AuditEvent) error

	// List returns events matching the filter, recorded_at descending
	List(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error)
}

// PolicyRepository handles RLS policy storage.
type PolicyRepository interface {
	// Upsert creates or replaces the policy identified by
	// (table_name, policy_name)
	Upsert(ctx context.Context, policy *models.RlsPolicy) error

	// GetByTable returns all policies for a table
	GetByTable(ctx context.Context, table string) ([]*models.RlsPolicy, error)

	// List returns all stored policies
	List(ctx context.Context) ([]*models.RlsPolicy, error)
}

// Repositories bundles all repository instances for dependency injection
type Repositories struct {
	Keys           KeyRepository
	RotationEvents RotationEventRepository
	AuditEvents    AuditRepository
	Policies       PolicyRepository
	Namespaces     NamespaceRepository
}

// NamespaceRepository handles namespace provisioning and lookup.
type NamespaceRepository interface {
	// Insert persists a new namespace
	Insert(ctx context.Context, ns *models.Namespace) error

	// GetByCode retrieves a namespace by its stable code, nil when absent
	GetByCode(ctx context.Context, code string) (*models.Namespace, error)

	// List returns all namespaces ordered by code
	List(ctx context.Context) ([]*models.Namespace, error)
}
