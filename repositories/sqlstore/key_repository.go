package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sandboxlabs/keygate/models"
	"github.com/sandboxlabs/keygate/repositories"
	"go.uber.org/zap"
)

// KeyRepository implements the repositories.KeyRepository interface
type KeyRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewKeyRepository creates a new key repository
func NewKeyRepository(db *DB, logger *zap.Logger) repositories.KeyRepository {
	return &KeyRepository{
		db:     db,
		logger: logger,
	}
}

const apiKeyColumns = `id, token_hash, token_prefix, scope_type, scope_namespace,
		       rate_limit, created_at, last_used_at, expires_at, revoked,
		       rotated_from, rotated_at`

// Insert persists a new API key row
func (r *KeyRepository) Insert(ctx context.Context, key *models.ApiKey) error {
	query := r.db.rebind(`
		INSERT INTO api_keys (
			id, token_hash, token_prefix, scope_type, scope_namespace,
			rate_limit, created_at, last_used_at, expires_at, revoked,
			rotated_from, rotated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	var scopeNamespace interface{}
	if key.Scope.Type == models.ScopeTypeNamespace {
		scopeNamespace = key.Scope.Namespace
	}
	var rotatedFrom interface{}
	if key.RotatedFrom != nil {
		rotatedFrom = key.RotatedFrom.String()
	}

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		key.ID.String(),
		key.TokenHash,
		key.TokenPrefix,
		string(key.Scope.Type),
		scopeNamespace,
		key.RateLimit,
		r.db.encodeTime(key.CreatedAt),
		r.db.encodeTimePtr(key.LastUsedAt),
		r.db.encodeTimePtr(key.ExpiresAt),
		key.Revoked,
		rotatedFrom,
		r.db.encodeTimePtr(key.RotatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}

	r.logger.Debug("api key inserted",
		zap.String("id", key.ID.String()),
		zap.String("prefix", key.TokenPrefix))
	return nil
}

// GetByID retrieves a key by identifier, nil when absent
func (r *KeyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ApiKey, error) {
	query := r.db.rebind(`SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = ?`)
	return r.queryOne(ctx, query, id.String())
}

// GetByTokenHash retrieves a key by its hashed secret, nil when absent
func (r *KeyRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.ApiKey, error) {
	query := r.db.rebind(`SELECT ` + apiKeyColumns + ` FROM api_keys WHERE token_hash = ?`)
	return r.queryOne(ctx, query, tokenHash)
}

// List returns all keys ordered by created_at descending
func (r *KeyRepository) List(ctx context.Context) ([]*models.ApiKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys ORDER BY created_at DESC`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.ApiKey
	for rows.Next() {
		key, err := scanApiKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating api key rows: %w", err)
	}

	return keys, nil
}

// MarkRevoked sets revoked=true guarded by revoked=false. The guard makes
// concurrent rotations of the same key mutually exclusive: the loser sees
// zero rows affected.
func (r *KeyRepository) MarkRevoked(ctx context.Context, id uuid.UUID, rotatedAt *time.Time) (bool, error) {
	query := r.db.rebind(`
		UPDATE api_keys
		SET revoked = ?, rotated_at = COALESCE(?, rotated_at)
		WHERE id = ? AND revoked = ?
	`)

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		true,
		r.db.encodeTimePtr(rotatedAt),
		id.String(),
		false,
	)
	if err != nil {
		return false, fmt.Errorf("failed to revoke api key: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected > 0, nil
}

// TouchLastUsed updates last_used_at after successful authentication
func (r *KeyRepository) TouchLastUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	query := r.db.rebind(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`)

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, r.db.encodeTime(usedAt), id.String()); err != nil {
		return fmt.Errorf("failed to touch api key usage: %w", err)
	}
	return nil
}

func (r *KeyRepository) queryOne(ctx context.Context, query string, args ...interface{}) (*models.ApiKey, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query api key: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query api key: %w", err)
		}
		return nil, nil
	}
	return scanApiKey(rows)
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApiKey(row rowScanner) (*models.ApiKey, error) {
	var (
		idStr          string
		scopeType      string
		scopeNamespace sql.NullString
		createdAt      nullTime
		lastUsedAt     nullTime
		expiresAt      nullTime
		rotatedFromStr sql.NullString
		rotatedAt      nullTime
		key            models.ApiKey
	)

	err := row.Scan(
		&idStr,
		&key.TokenHash,
		&key.TokenPrefix,
		&scopeType,
		&scopeNamespace,
		&key.RateLimit,
		&createdAt,
		&lastUsedAt,
		&expiresAt,
		&key.Revoked,
		&rotatedFromStr,
		&rotatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan api key: %w", err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid api key id %q: %w", idStr, err)
	}
	key.ID = id

	key.Scope = models.KeyScope{Type: models.KeyScopeType(scopeType)}
	if scopeNamespace.Valid {
		key.Scope.Namespace = scopeNamespace.String
	}
	if err := key.Scope.Validate(); err != nil {
		return nil, fmt.Errorf("stored api key %s has invalid scope: %w", idStr, err)
	}

	if !createdAt.Valid {
		return nil, fmt.Errorf("stored api key %s missing created_at", idStr)
	}
	key.CreatedAt = createdAt.Time
	key.LastUsedAt = lastUsedAt.ptr()
	key.ExpiresAt = expiresAt.ptr()
	key.RotatedAt = rotatedAt.ptr()

	if rotatedFromStr.Valid {
		prev, err := uuid.Parse(rotatedFromStr.String)
		if err != nil {
			return nil, fmt.Errorf("invalid rotated_from %q: %w", rotatedFromStr.String, err)
		}
		key.RotatedFrom = &prev
	}

	return &key, nil
}
