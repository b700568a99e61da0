package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sandboxlabs/keygate/models"
)

func TestAuditRepositoryInsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db, zap.NewNop())

	event := models.NewAuditEvent(models.EventKeyIssued, []byte(`{"key_id":"abc"}`)).
		WithNamespace("namespace:alpha").
		WithActor("operator")

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(
			event.ID.String(), event.Namespace, event.Actor,
			models.EventKeyIssued, sqlmock.AnyArg(), `{"key_id":"abc"}`, nil,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Insert(context.Background(), event)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryList(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db, zap.NewNop())

	ns := "namespace:alpha"
	eventType := models.EventKeyRotated
	since := time.Now().UTC().Add(-time.Hour)

	valid := true
	rows := sqlmock.NewRows([]string{
		"id", "namespace", "actor", "event_type", "recorded_at", "payload", "signature_valid",
	}).AddRow(
		"7e5c9a40-0000-4000-8000-000000000001", ns, "key:abc",
		eventType, time.Now().UTC(), `{"sig":"ok"}`, valid,
	)

	t.Run("applies all set filter fields", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM audit_events WHERE namespace = (.+) AND event_type = (.+) AND recorded_at >=").
			WithArgs(ns, eventType, since, 100).
			WillReturnRows(rows)

		events, err := repo.List(context.Background(), models.AuditFilter{
			Namespace: &ns,
			EventType: &eventType,
			Since:     &since,
			Limit:     100,
		})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, eventType, events[0].EventType)
		require.NotNil(t, events[0].SignatureValid)
		assert.True(t, *events[0].SignatureValid)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unsigned events carry a nil verdict", func(t *testing.T) {
		unsigned := sqlmock.NewRows([]string{
			"id", "namespace", "actor", "event_type", "recorded_at", "payload", "signature_valid",
		}).AddRow(
			"7e5c9a40-0000-4000-8000-000000000002", nil, nil,
			models.EventNamespaceCreated, time.Now().UTC(), `{}`, nil,
		)

		mock.ExpectQuery("SELECT (.+) FROM audit_events").
			WithArgs(100).
			WillReturnRows(unsigned)

		events, err := repo.List(context.Background(), models.AuditFilter{Limit: 100})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Nil(t, events[0].SignatureValid)
		assert.Nil(t, events[0].Namespace)
	})
}
