package rls

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/sandboxlabs/keygate/models"
	"github.com/sandboxlabs/keygate/repositories"
	"github.com/sandboxlabs/keygate/services"
)

// Recorder appends events to the audit ledger.
type Recorder interface {
	Record(ctx context.Context, event *models.AuditEvent) error
}

// Manager administers stored policies. Policy changes are admin-only;
// handlers enforce that before calling in.
type Manager struct {
	repo     repositories.PolicyRepository
	recorder Recorder
	logger   *zap.Logger
}

// NewManager creates a new policy manager
func NewManager(repo repositories.PolicyRepository, recorder Recorder, logger *zap.Logger) *Manager {
	return &Manager{
		repo:     repo,
		recorder: recorder,
		logger:   logger,
	}
}

// Upsert validates and stores a policy, replacing any existing policy with
// the same (table, name). The change lands in the audit ledger.
func (m *Manager) Upsert(ctx context.Context, table, name string, expression models.Expr, permissive bool) (*models.RlsPolicy, error) {
	if table == "" || name == "" {
		return nil, services.NewDomainError(services.ErrorTypeValidation,
			"policy table and name are required", nil)
	}
	if err := expression.Validate(); err != nil {
		return nil, services.WrapError(services.ErrorTypeValidation, err.Error(), err)
	}

	policy := models.NewRlsPolicy(table, name, expression)
	policy.Permissive = permissive

	if err := m.repo.Upsert(ctx, policy); err != nil {
		return nil, services.WrapInternal("failed to store rls policy", err)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"table":      table,
		"policy":     name,
		"permissive": permissive,
		"expression": expression,
	})
	if err == nil {
		event := models.NewAuditEvent(models.EventPolicyUpserted, payload)
		if err := m.recorder.Record(ctx, event); err != nil {
			m.logger.Error("failed to record policy change", zap.Error(err))
		}
	}

	m.logger.Info("rls policy upserted",
		zap.String("table", table),
		zap.String("policy", name),
		zap.Bool("permissive", permissive))

	return policy, nil
}

// List returns all stored policies.
func (m *Manager) List(ctx context.Context) ([]*models.RlsPolicy, error) {
	policies, err := m.repo.List(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to list rls policies", err)
	}
	return policies, nil
}
