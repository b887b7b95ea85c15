package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

const migrationTable = "schema_migrations"

// Migrate executes the .sql files of fsys in name order, each at most once.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect, fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+migrationTable+` (
		name TEXT PRIMARY KEY,
		applied_at BIGINT NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if err := applyMigration(ctx, db, dialect, file, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, dialect Dialect, name, content string) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if dialect.LockNotifications != "" {
		if _, err = tx.ExecContext(ctx, dialect.LockNotifications); err != nil {
			return err
		}
	}

	var count int
	if err = tx.QueryRowContext(ctx, dialect.rebind(`SELECT COUNT(*) FROM `+migrationTable+` WHERE name = ?`), name).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return tx.Rollback()
	}

	if _, err = tx.ExecContext(ctx, content); err != nil {
		return err
	}
	if _, err = tx.ExecContext(
		ctx,
		dialect.rebind(`INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`),
		name,
		time.Now().UTC().UnixMilli(),
	); err != nil {
		return err
	}
	return tx.Commit()
}
