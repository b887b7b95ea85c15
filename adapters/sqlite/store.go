// Package sqlite provides an es.RecordStore on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/codewandler/chronicle-go/adapters/sqlite/migrations"
	"github.com/codewandler/chronicle-go/core/es"
	"github.com/codewandler/chronicle-go/internal/sqlstore"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

type Config struct {
	Log *slog.Logger
	// Path of the database file, or MemoryPath.
	Path string
}

// Store is a RecordStore on SQLite. Write transactions are opened with
// BEGIN IMMEDIATE, so there is a single writer and notification ids are
// assigned without gaps.
type Store struct {
	*sqlstore.Store
}

var dialect = sqlstore.Dialect{
	Name:              "sqlite",
	IsUniqueViolation: isConstraintError,
}

func dsn(path string) string {
	params := "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	if path == MemoryPath {
		return "file::memory:?" + params
	}
	return "file:" + filepath.Clean(path) + "?" + params + "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}

// Open opens the database at cfg.Path and applies the embedded migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == MemoryPath {
		// every connection would see its own database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlstore.Migrate(ctx, db, dialect, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log.Debug("sqlite opened", slog.String("path", path))

	return &Store{Store: sqlstore.New(db, dialect, log)}, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3lib.SQLITE_CONSTRAINT || code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
}

var _ es.RecordStore = (*Store)(nil)
