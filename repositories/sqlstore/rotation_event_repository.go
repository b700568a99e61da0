package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sandboxlabs/keygate/models"
	"github.com/sandboxlabs/keygate/repositories"
	"go.uber.org/zap"
)

// RotationEventRepository implements the repositories.RotationEventRepository interface
type RotationEventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRotationEventRepository creates a new rotation event repository
func NewRotationEventRepository(db *DB, logger *zap.Logger) repositories.RotationEventRepository {
	return &RotationEventRepository{
		db:     db,
		logger: logger,
	}
}

const rotationEventColumns = `id, new_key_id, previous_key_id, rotated_at, payload,
		       signature, created_at, delivered, lease_until`

// Insert persists a pending rotation event
func (r *RotationEventRepository) Insert(ctx context.Context, event *models.RotationEvent) error {
	query := r.db.rebind(`
		INSERT INTO rotation_events (
			id, new_key_id, previous_key_id, rotated_at, payload,
			signature, created_at, delivered, lease_until
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		event.ID.String(),
		event.NewKeyID.String(),
		event.PreviousKeyID.String(),
		r.db.encodeTime(event.RotatedAt),
		string(event.Payload),
		event.Signature,
		r.db.encodeTime(event.CreatedAt),
		event.Delivered,
		r.db.encodeTimePtr(event.LeaseUntil),
	)
	if err != nil {
		return fmt.Errorf("failed to insert rotation event: %w", err)
	}

	r.logger.Debug("rotation event inserted", zap.String("id", event.ID.String()))
	return nil
}

// GetByID retrieves an event by identifier, nil when absent
func (r *RotationEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.RotationEvent, error) {
	query := r.db.rebind(`SELECT ` + rotationEventColumns + ` FROM rotation_events WHERE id = ?`)

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query rotation event: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query rotation event: %w", err)
		}
		return nil, nil
	}
	return scanRotationEvent(rows)
}

// ListPending returns undelivered events whose lease is free, oldest first
func (r *RotationEventRepository) ListPending(ctx context.Context, now time.Time, limit int) ([]*models.RotationEvent, error) {
	query := r.db.rebind(`
		SELECT ` + rotationEventColumns + `
		FROM rotation_events
		WHERE delivered = ? AND (lease_until IS NULL OR lease_until < ?)
		ORDER BY created_at ASC
		LIMIT ?
	`)

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, false, r.db.encodeTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending rotation events: %w", err)
	}
	defer rows.Close()

	var events []*models.RotationEvent
	for rows.Next() {
		event, err := scanRotationEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rotation event rows: %w", err)
	}

	return events, nil
}

// Claim atomically leases an undelivered event for a delivery attempt.
// The guarded UPDATE is the claim step that keeps duplicate in-flight
// deliveries rare when multiple workers poll the same queue.
func (r *RotationEventRepository) Claim(ctx context.Context, id uuid.UUID, now, leaseUntil time.Time) (bool, error) {
	query := r.db.rebind(`
		UPDATE rotation_events
		SET lease_until = ?
		WHERE id = ? AND delivered = ? AND (lease_until IS NULL OR lease_until < ?)
	`)

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		r.db.encodeTime(leaseUntil),
		id.String(),
		false,
		r.db.encodeTime(now),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim rotation event: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkDelivered transitions delivered false→true exactly once.
func (r *RotationEventRepository) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	query := r.db.rebind(`
		UPDATE rotation_events
		SET delivered = ?, lease_until = NULL
		WHERE id = ? AND delivered = ?
	`)

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, true, id.String(), false)
	if err != nil {
		return false, fmt.Errorf("failed to mark rotation event delivered: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// PendingCount reports how many events await delivery
func (r *RotationEventRepository) PendingCount(ctx context.Context) (int, error) {
	query := r.db.rebind(`SELECT COUNT(*) FROM rotation_events WHERE delivered = ?`)

	executor := GetExecutor(ctx, r.db)
	var count int
	if err := executor.QueryRowContext(ctx, query, false).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending rotation events: %w", err)
	}
	return count, nil
}

func scanRotationEvent(row rowScanner) (*models.RotationEvent, error) {
	var (
		idStr      string
		newKeyStr  string
		prevKeyStr string
		rotatedAt  nullTime
		payload    string
		createdAt  nullTime
		leaseUntil nullTime
		event      models.RotationEvent
	)

	err := row.Scan(
		&idStr,
		&newKeyStr,
		&prevKeyStr,
		&rotatedAt,
		&payload,
		&event.Signature,
		&createdAt,
		&event.Delivered,
		&leaseUntil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan rotation event: %w", err)
	}

	if event.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("invalid rotation event id %q: %w", idStr, err)
	}
	if event.NewKeyID, err = uuid.Parse(newKeyStr); err != nil {
		return nil, fmt.Errorf("invalid new_key_id %q: %w", newKeyStr, err)
	}
	if event.PreviousKeyID, err = uuid.Parse(prevKeyStr); err != nil {
		return nil, fmt.Errorf("invalid previous_key_id %q: %w", prevKeyStr, err)
	}

	if !rotatedAt.Valid || !createdAt.Valid {
		return nil, fmt.Errorf("rotation event %s missing timestamps", idStr)
	}
	event.RotatedAt = rotatedAt.Time
	event.CreatedAt = createdAt.Time
	event.LeaseUntil = leaseUntil.ptr()
	event.Payload = []byte(payload)

	return &event, nil
}
