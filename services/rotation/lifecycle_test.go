package rotation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sandboxlabs/keygate/config"
	"github.com/sandboxlabs/keygate/models"
	"github.com/sandboxlabs/keygate/services"
	"github.com/sandboxlabs/keygate/services/issuer"
	"github.com/sandboxlabs/keygate/services/rls"
	"github.com/sandboxlabs/keygate/services/signing"
)

// memoryKeys is an in-memory key store for lifecycle tests.
type memoryKeys struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.ApiKey
}

func newMemoryKeys() *memoryKeys {
	return &memoryKeys{rows: make(map[uuid.UUID]*models.ApiKey)}
}

func (s *memoryKeys) Insert(ctx context.Context, key *models.ApiKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *key
	s.rows[key.ID] = &copied
	return nil
}

func (s *memoryKeys) GetByID(ctx context.Context, id uuid.UUID) (*models.ApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key, ok := s.rows[id]; ok {
		copied := *key
		return &copied, nil
	}
	return nil, nil
}

func (s *memoryKeys) GetByTokenHash(ctx context.Context, tokenHash string) (*models.ApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.rows {
		if key.TokenHash == tokenHash {
			copied := *key
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memoryKeys) List(ctx context.Context) ([]*models.ApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]*models.ApiKey, 0, len(s.rows))
	for _, key := range s.rows {
		copied := *key
		keys = append(keys, &copied)
	}
	return keys, nil
}

func (s *memoryKeys) MarkRevoked(ctx context.Context, id uuid.UUID, rotatedAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.rows[id]
	if !ok || key.Revoked {
		return false, nil
	}
	key.Revoked = true
	if rotatedAt != nil {
		key.RotatedAt = rotatedAt
	}
	return true, nil
}

func (s *memoryKeys) TouchLastUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key, ok := s.rows[id]; ok {
		key.LastUsedAt = &usedAt
	}
	return nil
}

// memoryEvents captures queued rotation events.
type memoryEvents struct {
	mu   sync.Mutex
	rows []*models.RotationEvent
}

func (s *memoryEvents) Insert(ctx context.Context, event *models.RotationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *event
	s.rows = append(s.rows, &copied)
	return nil
}

func (s *memoryEvents) GetByID(ctx context.Context, id uuid.UUID) (*models.RotationEvent, error) {
	return nil, nil
}

func (s *memoryEvents) ListPending(ctx context.Context, now time.Time, limit int) ([]*models.RotationEvent, error) {
	return nil, nil
}

func (s *memoryEvents) Claim(ctx context.Context, id uuid.UUID, now, leaseUntil time.Time) (bool, error) {
	return false, nil
}

func (s *memoryEvents) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	return false, nil
}

func (s *memoryEvents) PendingCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows), nil
}

// memoryLedger captures recorded audit events.
type memoryLedger struct {
	mu   sync.Mutex
	rows []*models.AuditEvent
}

func (l *memoryLedger) Record(ctx context.Context, event *models.AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	copied := *event
	l.rows = append(l.rows, &copied)
	return nil
}

func (l *memoryLedger) byType(eventType string) []*models.AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var matched []*models.AuditEvent
	for _, event := range l.rows {
		if event.EventType == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

// memoryNamespaces holds provisioned namespaces.
type memoryNamespaces struct {
	mu   sync.Mutex
	rows map[string]*models.Namespace
}

func (s *memoryNamespaces) Insert(ctx context.Context, ns *models.Namespace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil {
		s.rows = make(map[string]*models.Namespace)
	}
	s.rows[ns.Code] = ns
	return nil
}

func (s *memoryNamespaces) GetByCode(ctx context.Context, code string) (*models.Namespace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[code], nil
}

func (s *memoryNamespaces) List(ctx context.Context) ([]*models.Namespace, error) {
	return nil, nil
}

// emptyPolicies backs the rls engine with no stored policies, leaving only
// the implicit namespace policy in force.
type emptyPolicies struct{}

func (emptyPolicies) Upsert(ctx context.Context, policy *models.RlsPolicy) error { return nil }

func (emptyPolicies) GetByTable(ctx context.Context, table string) ([]*models.RlsPolicy, error) {
	return nil, nil
}

func (emptyPolicies) List(ctx context.Context) ([]*models.RlsPolicy, error) { return nil, nil }

// TestKeyRotationLifecycle strings the issuer and rotation services together
// over shared in-memory storage: issue, authenticate, rotate, verify the old
// key is dead, the successor works, and the ledger saw exactly one rotation.
func TestKeyRotationLifecycle(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	security := config.SecurityConfig{TokenPepper: "pepper", SigningKey: "sign-key", OwnerLabel: "keygate"}
	signer := signing.NewSigner(security.SigningKey)

	keys := newMemoryKeys()
	events := &memoryEvents{}
	ledger := &memoryLedger{}
	namespaces := &memoryNamespaces{}
	require.NoError(t, namespaces.Insert(ctx, models.NewNamespace("namespace:alpha", "Alpha")))

	engine := rls.NewEngine(emptyPolicies{}, logger)
	issuerSvc := issuer.NewService(keys, namespaces, ledger, engine, security, logger)
	rotationSvc := NewService(passthroughTxManager{}, keys, events, issuerSvc, ledger, signer, security, logger)

	issued, err := issuerSvc.Issue(ctx, models.NamespaceScope("namespace:alpha"), 100, nil)
	require.NoError(t, err)

	authed, err := issuerSvc.Authenticate(ctx, issued.Secret)
	require.NoError(t, err)
	assert.Equal(t, issued.Key.ID, authed.ID)

	rotated, err := rotationSvc.Rotate(ctx, issued.Key.ID, Overrides{})
	require.NoError(t, err)
	require.NotNil(t, rotated.Key.RotatedFrom)
	assert.Equal(t, issued.Key.ID, *rotated.Key.RotatedFrom)

	// The rotated-out secret no longer authenticates.
	_, err = issuerSvc.Authenticate(ctx, issued.Secret)
	assert.ErrorIs(t, err, services.ErrKeyRevoked)

	// The successor does.
	successor, err := issuerSvc.Authenticate(ctx, rotated.Secret)
	require.NoError(t, err)
	assert.Equal(t, rotated.Key.ID, successor.ID)

	// Rotating the dead key again conflicts.
	_, err = rotationSvc.Rotate(ctx, issued.Key.ID, Overrides{})
	assert.True(t, services.IsAlreadyRotatedError(err))

	// Exactly one rotation reached the ledger, scoped to the namespace.
	rotatedEntries := ledger.byType(models.EventKeyRotated)
	require.Len(t, rotatedEntries, 1)
	require.NotNil(t, rotatedEntries[0].Namespace)
	assert.Equal(t, "namespace:alpha", *rotatedEntries[0].Namespace)

	// One signed event was queued and its signature verifies.
	require.Len(t, events.rows, 1)
	assert.True(t, signer.Verify(events.rows[0].Payload, events.rows[0].Signature))
	assert.Equal(t, rotated.Key.ID, events.rows[0].NewKeyID)
	assert.Equal(t, issued.Key.ID, events.rows[0].PreviousKeyID)
}
