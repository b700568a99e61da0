package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sandboxlabs/keygate/models"
	"github.com/sandboxlabs/keygate/repositories"
	"go.uber.org/zap"
)

// AuditRepository implements the repositories.AuditRepository interface.
// The ledger is append-only: the repository exposes no update or delete.
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert appends one ledger row
func (r *AuditRepository) Insert(ctx context.Context, event *models.AuditEvent) error {
	query := r.db.rebind(`
		INSERT INTO audit_events (
			id, namespace, actor, event_type, recorded_at, payload, signature_valid
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		event.ID.String(),
		event.Namespace,
		event.Actor,
		event.EventType,
		r.db.encodeTime(event.RecordedAt),
		string(event.Payload),
		event.SignatureValid,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	r.logger.Debug("audit event recorded",
		zap.String("id", event.ID.String()),
		zap.String("event_type", event.EventType))
	return nil
}

// List returns events matching the filter, recorded_at descending. All set
// filter fields combine with AND; the caller clamps Limit before calling.
func (r *AuditRepository) List(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error) {
	var (
		conditions []string
		args       []interface{}
	)

	if filter.Namespace != nil {
		conditions = append(conditions, "namespace = ?")
		args = append(args, *filter.Namespace)
	}
	if filter.Actor != nil {
		conditions = append(conditions, "actor = ?")
		args = append(args, *filter.Actor)
	}
	if filter.EventType != nil {
		conditions = append(conditions, "event_type = ?")
		args = append(args, *filter.EventType)
	}
	if filter.Since != nil {
		conditions = append(conditions, "recorded_at >= ?")
		args = append(args, r.db.encodeTime(*filter.Since))
	}
	if filter.Until != nil {
		conditions = append(conditions, "recorded_at <= ?")
		args = append(args, r.db.encodeTime(*filter.Until))
	}

	query := `SELECT id, namespace, actor, event_type, recorded_at, payload, signature_valid
		FROM audit_events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY recorded_at DESC LIMIT ?"
	args = append(args, filter.Limit)

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, r.db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		event, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit event rows: %w", err)
	}

	return events, nil
}

func scanAuditEvent(row rowScanner) (*models.AuditEvent, error) {
	var (
		idStr          string
		namespace      sql.NullString
		actor          sql.NullString
		recordedAt     nullTime
		payload        string
		signatureValid sql.NullBool
		event          models.AuditEvent
	)

	err := row.Scan(
		&idStr,
		&namespace,
		&actor,
		&event.EventType,
		&recordedAt,
		&payload,
		&signatureValid,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit event: %w", err)
	}

	if event.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("invalid audit event id %q: %w", idStr, err)
	}

	if namespace.Valid {
		event.Namespace = &namespace.String
	}
	if actor.Valid {
		event.Actor = &actor.String
	}
	if !recordedAt.Valid {
		return nil, fmt.Errorf("audit event %s missing recorded_at", idStr)
	}
	event.RecordedAt = recordedAt.Time
	event.Payload = []byte(payload)
	if signatureValid.Valid {
		event.SignatureValid = &signatureValid.Bool
	}

	return &event, nil
}
