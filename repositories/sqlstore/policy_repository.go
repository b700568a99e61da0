package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sandboxlabs/keygate/models"
	"github.com/sandboxlabs/keygate/repositories"
	"go.uber.org/zap"
)

// PolicyRepository implements the repositories.PolicyRepository interface
type PolicyRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *DB, logger *zap.Logger) repositories.PolicyRepository {
	return &PolicyRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert creates or replaces the policy identified by (table_name, policy_name).
// Replacement keeps the existing row id and created_at.
func (r *PolicyRepository) Upsert(ctx context.Context, policy *models.RlsPolicy) error {
	expression, err := json.Marshal(policy.Expression)
	if err != nil {
		return fmt.Errorf("failed to marshal policy expression: %w", err)
	}

	query := r.db.rebind(`
		INSERT INTO rls_policies (
			id, table_name, policy_name, expression, permissive, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (table_name, policy_name) DO UPDATE SET
			expression = EXCLUDED.expression,
			permissive = EXCLUDED.permissive,
			updated_at = EXCLUDED.updated_at
	`)

	executor := GetExecutor(ctx, r.db)
	_, err = executor.ExecContext(ctx, query,
		policy.ID.String(),
		policy.TableName,
		policy.PolicyName,
		string(expression),
		policy.Permissive,
		r.db.encodeTime(policy.CreatedAt),
		r.db.encodeTime(policy.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert rls policy: %w", err)
	}

	r.logger.Debug("rls policy upserted",
		zap.String("table", policy.TableName),
		zap.String("policy", policy.PolicyName))
	return nil
}

// GetByTable returns all policies for a table
func (r *PolicyRepository) GetByTable(ctx context.Context, table string) ([]*models.RlsPolicy, error) {
	query := r.db.rebind(`
		SELECT id, table_name, policy_name, expression, permissive, created_at, updated_at
		FROM rls_policies
		WHERE table_name = ?
		ORDER BY policy_name
	`)

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query rls policies: %w", err)
	}
	defer rows.Close()

	return collectPolicies(rows)
}

// List returns all stored policies
func (r *PolicyRepository) List(ctx context.Context) ([]*models.RlsPolicy, error) {
	query := `
		SELECT id, table_name, policy_name, expression, permissive, created_at, updated_at
		FROM rls_policies
		ORDER BY table_name, policy_name
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rls policies: %w", err)
	}
	defer rows.Close()

	return collectPolicies(rows)
}

func collectPolicies(rows interface {
	rowScanner
	Next() bool
	Err() error
}) ([]*models.RlsPolicy, error) {
	var policies []*models.RlsPolicy
	for rows.Next() {
		policy, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, policy)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rls policy rows: %w", err)
	}
	return policies, nil
}

func scanPolicy(row rowScanner) (*models.RlsPolicy, error) {
	var (
		idStr      string
		expression string
		createdAt  nullTime
		updatedAt  nullTime
		policy     models.RlsPolicy
	)

	err := row.Scan(
		&idStr,
		&policy.TableName,
		&policy.PolicyName,
		&expression,
		&policy.Permissive,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan rls policy: %w", err)
	}

	if policy.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("invalid rls policy id %q: %w", idStr, err)
	}
	if err := json.Unmarshal([]byte(expression), &policy.Expression); err != nil {
		return nil, fmt.Errorf("stored rls policy %s has invalid expression: %w", idStr, err)
	}

	if !createdAt.Valid || !updatedAt.Valid {
		return nil, fmt.Errorf("rls policy %s missing timestamps", idStr)
	}
	policy.CreatedAt = createdAt.Time
	policy.UpdatedAt = updatedAt.Time

	return &policy, nil
}
