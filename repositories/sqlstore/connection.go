package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"      // PostgreSQL driver
	_ "modernc.org/sqlite"     // SQLite driver (pure Go)

	"github.com/sandboxlabs/keygate/config"
	"go.uber.org/zap"
)

// Dialect selects between the two semantically equivalent schema
// renderings: native UUID/TIMESTAMPTZ/JSONB on Postgres, TEXT storage on
// SQLite.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// DB wraps the sql.DB connection pool with dialect awareness
type DB struct {
	*sql.DB
	dialect Dialect
	logger  *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	var (
		dialect    Dialect
		driverName string
	)
	switch cfg.Driver {
	case config.DriverPostgres:
		dialect = DialectPostgres
		driverName = "postgres"
	case config.DriverSQLite:
		dialect = DialectSQLite
		driverName = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(driverName, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool. SQLite serializes writers; a single
	// connection avoids SQLITE_BUSY under concurrent transactions.
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:      db,
		dialect: dialect,
		logger:  logger,
	}, nil
}

// Dialect returns the configured dialect for this handle.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// rebind converts canonical `?` placeholders into `$n` for Postgres.
// Queries are written once with `?` and rebound per dialect.
func (db *DB) rebind(query string) string {
	if db.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// encodeTime renders a timestamp for the active dialect: time.Time on
// Postgres, RFC3339Nano text on SQLite.
func (db *DB) encodeTime(t time.Time) interface{} {
	if db.dialect == DialectPostgres {
		return t.UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// encodeTimePtr is encodeTime for optional timestamps; nil stays NULL.
func (db *DB) encodeTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return db.encodeTime(*t)
}

// nullTime scans TIMESTAMPTZ values from Postgres and RFC3339 text from
// SQLite into a single representation.
type nullTime struct {
	Time  time.Time
	Valid bool
}

// Scan implements sql.Scanner.
func (n *nullTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		n.Valid = false
		return nil
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
		return nil
	case string:
		return n.parse(v)
	case []byte:
		return n.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
}

func (n *nullTime) parse(raw string) error {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return fmt.Errorf("invalid stored timestamp %q: %w", raw, err)
	}
	n.Time, n.Valid = t.UTC(), true
	return nil
}

func (n *nullTime) ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
