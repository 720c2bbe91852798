package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

type migration struct {
	version    int
	name       string
	statements []string
}

// migrations are applied in order and never edited once released; add a new
// version instead.
var migrations = []migration{
	{
		version: 1,
		name:    "create holes",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS holes (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				title TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				lat REAL NOT NULL,
				lng REAL NOT NULL,
				created_at TEXT NOT NULL
			)`,
		},
	},
	{
		version: 2,
		name:    "add image, neighborhood and concluded to holes",
		statements: []string{
			`ALTER TABLE holes ADD COLUMN image TEXT`,
			`ALTER TABLE holes ADD COLUMN neighborhood TEXT`,
			`ALTER TABLE holes ADD COLUMN concluded INTEGER NOT NULL DEFAULT 0`,
			`CREATE INDEX IF NOT EXISTS idx_holes_concluded_created ON holes (concluded, created_at DESC)`,
		},
	},
	{
		version: 3,
		name:    "create users and hole ownership",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				username TEXT NOT NULL UNIQUE COLLATE NOCASE,
				password TEXT NOT NULL,
				is_admin INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL
			)`,
			`ALTER TABLE holes ADD COLUMN owner_id INTEGER REFERENCES users(id) ON DELETE SET NULL`,
		},
	},
	{
		version: 4,
		name:    "create sessions",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				token TEXT PRIMARY KEY,
				user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				expires_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions (expires_at)`,
		},
	},
	{
		version: 5,
		name:    "normalize legacy hole rows",
		statements: []string{
			// Rows written before the schema was versioned carry naive ISO
			// timestamps with zero or six fractional digits and may have NULL text.
			`UPDATE holes SET created_at = CASE
				WHEN created_at IS NULL THEN '1970-01-01T00:00:00.000000000Z'
				WHEN length(created_at) = 19 THEN created_at || '.000000000Z'
				WHEN length(created_at) = 26 THEN created_at || '000Z'
				ELSE created_at
			END
			WHERE created_at IS NULL OR created_at NOT LIKE '%Z'`,
			`UPDATE holes SET title = 'Buraco' WHERE title IS NULL OR trim(title) = ''`,
			`UPDATE holes SET description = '' WHERE description IS NULL`,
		},
	},
}

func latestVersion() int {
	return migrations[len(migrations)-1].version
}

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
		slog.Info("applied database migration", "version", m.version, "name", m.name)
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d: failed to begin transaction: %w", m.version, err)
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		m.version, m.name, formatTime(time.Now())); err != nil {
		return fmt.Errorf("migration %d: failed to record version: %w", m.version, err)
	}
	return tx.Commit()
}

func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(version.Int64), nil
}
