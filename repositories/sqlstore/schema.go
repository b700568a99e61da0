package sqlstore

import (
	"context"
	"fmt"
)

// The two schema renderings below are semantically equivalent. Postgres
// uses native UUID/TIMESTAMPTZ/JSONB; SQLite stores UUIDs and timestamps
// as TEXT, payloads as TEXT, and booleans as INTEGER.

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS namespaces (
		id UUID PRIMARY KEY,
		code VARCHAR(255) NOT NULL UNIQUE,
		display_name VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS api_keys (
		id UUID PRIMARY KEY,
		token_hash VARCHAR(128) NOT NULL UNIQUE,
		token_prefix VARCHAR(16) NOT NULL,
		scope_type VARCHAR(32) NOT NULL,
		scope_namespace VARCHAR(255),
		rate_limit INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		last_used_at TIMESTAMPTZ,
		expires_at TIMESTAMPTZ,
		revoked BOOLEAN NOT NULL DEFAULT false,
		rotated_from UUID REFERENCES api_keys(id),
		rotated_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS rotation_events (
		id UUID PRIMARY KEY,
		new_key_id UUID NOT NULL REFERENCES api_keys(id) ON DELETE CASCADE,
		previous_key_id UUID NOT NULL REFERENCES api_keys(id) ON DELETE CASCADE,
		rotated_at TIMESTAMPTZ NOT NULL,
		payload JSONB NOT NULL,
		signature TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		delivered BOOLEAN NOT NULL DEFAULT false,
		lease_until TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS audit_events (
		id UUID PRIMARY KEY,
		namespace VARCHAR(255),
		actor VARCHAR(255),
		event_type VARCHAR(100) NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		payload JSONB NOT NULL,
		signature_valid BOOLEAN
	);

	CREATE TABLE IF NOT EXISTS rls_policies (
		id UUID PRIMARY KEY,
		table_name VARCHAR(255) NOT NULL,
		policy_name VARCHAR(255) NOT NULL,
		expression JSONB NOT NULL,
		permissive BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE(table_name, policy_name)
	);

	CREATE INDEX IF NOT EXISTS idx_api_keys_token_hash ON api_keys(token_hash);
	CREATE INDEX IF NOT EXISTS idx_api_keys_scope_namespace ON api_keys(scope_namespace);
	CREATE INDEX IF NOT EXISTS idx_rotation_events_pending ON rotation_events(delivered, created_at);
	CREATE INDEX IF NOT EXISTS idx_audit_events_namespace ON audit_events(namespace);
	CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_events_recorded_at ON audit_events(recorded_at);
	CREATE INDEX IF NOT EXISTS idx_rls_policies_table ON rls_policies(table_name);
`

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS namespaces (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		token_hash TEXT NOT NULL UNIQUE,
		token_prefix TEXT NOT NULL,
		scope_type TEXT NOT NULL,
		scope_namespace TEXT,
		rate_limit INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		last_used_at TEXT,
		expires_at TEXT,
		revoked INTEGER NOT NULL DEFAULT 0,
		rotated_from TEXT REFERENCES api_keys(id),
		rotated_at TEXT
	);

	CREATE TABLE IF NOT EXISTS rotation_events (
		id TEXT PRIMARY KEY,
		new_key_id TEXT NOT NULL REFERENCES api_keys(id) ON DELETE CASCADE,
		previous_key_id TEXT NOT NULL REFERENCES api_keys(id) ON DELETE CASCADE,
		rotated_at TEXT NOT NULL,
		payload TEXT NOT NULL,
		signature TEXT NOT NULL,
		created_at TEXT NOT NULL,
		delivered INTEGER NOT NULL DEFAULT 0,
		lease_until TEXT
	);

	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		namespace TEXT,
		actor TEXT,
		event_type TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		payload TEXT NOT NULL,
		signature_valid INTEGER
	);

	CREATE TABLE IF NOT EXISTS rls_policies (
		id TEXT PRIMARY KEY,
		table_name TEXT NOT NULL,
		policy_name TEXT NOT NULL,
		expression TEXT NOT NULL,
		permissive INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(table_name, policy_name)
	);

	CREATE INDEX IF NOT EXISTS idx_api_keys_token_hash ON api_keys(token_hash);
	CREATE INDEX IF NOT EXISTS idx_api_keys_scope_namespace ON api_keys(scope_namespace);
	CREATE INDEX IF NOT EXISTS idx_rotation_events_pending ON rotation_events(delivered, created_at);
	CREATE INDEX IF NOT EXISTS idx_audit_events_namespace ON audit_events(namespace);
	CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_events_recorded_at ON audit_events(recorded_at);
	CREATE INDEX IF NOT EXISTS idx_rls_policies_table ON rls_policies(table_name);
`

// InitSchema initializes the database schema for the active dialect.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := postgresSchema
	if db.dialect == DialectSQLite {
		schema = sqliteSchema
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
