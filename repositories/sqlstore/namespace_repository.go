package sqlstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sandboxlabs/keygate/models"
	"github.com/sandboxlabs/keygate/repositories"
	"go.uber.org/zap"
)

// NamespaceRepository implements the repositories.NamespaceRepository interface
type NamespaceRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewNamespaceRepository creates a new namespace repository
func NewNamespaceRepository(db *DB, logger *zap.Logger) repositories.NamespaceRepository {
	return &NamespaceRepository{
		db:     db,
		logger: logger,
	}
}

// Insert persists a new namespace
func (r *NamespaceRepository) Insert(ctx context.Context, ns *models.Namespace) error {
	query := r.db.rebind(`
		INSERT INTO namespaces (id, code, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`)

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		ns.ID.String(),
		ns.Code,
		ns.DisplayName,
		r.db.encodeTime(ns.CreatedAt),
		r.db.encodeTime(ns.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert namespace: %w", err)
	}

	r.logger.Debug("namespace inserted", zap.String("code", ns.Code))
	return nil
}

// GetByCode retrieves a namespace by its stable code, nil when absent
func (r *NamespaceRepository) GetByCode(ctx context.Context, code string) (*models.Namespace, error) {
	query := r.db.rebind(`
		SELECT id, code, display_name, created_at, updated_at
		FROM namespaces WHERE code = ?
	`)

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, code)
	if err != nil {
		return nil, fmt.Errorf("failed to query namespace: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query namespace: %w", err)
		}
		return nil, nil
	}
	return scanNamespace(rows)
}

// List returns all namespaces ordered by code
func (r *NamespaceRepository) List(ctx context.Context) ([]*models.Namespace, error) {
	query := `SELECT id, code, display_name, created_at, updated_at FROM namespaces ORDER BY code`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query namespaces: %w", err)
	}
	defer rows.Close()

	var namespaces []*models.Namespace
	for rows.Next() {
		ns, err := scanNamespace(rows)
		if err != nil {
			return nil, err
		}
		namespaces = append(namespaces, ns)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating namespace rows: %w", err)
	}

	return namespaces, nil
}

func scanNamespace(row rowScanner) (*models.Namespace, error) {
	var (
		idStr     string
		createdAt nullTime
		updatedAt nullTime
		ns        models.Namespace
	)

	err := row.Scan(&idStr, &ns.Code, &ns.DisplayName, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan namespace: %w", err)
	}

	if ns.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("invalid namespace id %q: %w", idStr, err)
	}
	if !createdAt.Valid || !updatedAt.Valid {
		return nil, fmt.Errorf("namespace %s missing timestamps", idStr)
	}
	ns.CreatedAt = createdAt.Time
	ns.UpdatedAt = updatedAt.Time

	return &ns, nil
}
