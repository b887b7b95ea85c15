// Package postgres provides an es.RecordStore on PostgreSQL via lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/codewandler/chronicle-go/adapters/postgres/migrations"
	"github.com/codewandler/chronicle-go/core/es"
	"github.com/codewandler/chronicle-go/internal/sqlstore"
)

// notificationLockKey identifies the advisory lock that serializes
// notification id assignment.
const notificationLockKey = 0x6368726f6e // "chron"

const uniqueViolation = "23505"

type Config struct {
	Log *slog.Logger
	// DSN is a postgres:// URL or a key=value connection string.
	DSN string
}

// Store is a RecordStore on PostgreSQL. Inserts take a transaction-scoped
// advisory lock before reading the next notification id, so concurrent
// appends commit one after the other.
type Store struct {
	*sqlstore.Store
}

var dialect = sqlstore.Dialect{
	Name:              "postgres",
	Numbered:          true,
	LockNotifications: fmt.Sprintf("SELECT pg_advisory_xact_lock(%d)", notificationLockKey),
	IsUniqueViolation: isUniqueViolation,
}

func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}

	connector, err := pq.NewConnector(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(ctx, db, cfg.Log)
}

// New wraps an open database and applies the embedded migrations.
func New(ctx context.Context, db *sql.DB, log *slog.Logger) (*Store, error) {
	if err := sqlstore.Migrate(ctx, db, dialect, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{Store: sqlstore.New(db, dialect, log)}, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == uniqueViolation
}

var _ es.RecordStore = (*Store)(nil)
