package database

import (
	"database/sql"
	"fmt"
)

// Migration is one versioned schema change. Migrations are embedded rather
// than loaded from disk so the binary is self-contained.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// Migrations is the ordered schema history for the chat message store.
var Migrations = []Migration{
	{
		Version:     "001",
		Description: "initial_chat_schema",
		SQL: `
			CREATE TABLE IF NOT EXISTS messages (
				id           TEXT PRIMARY KEY,
				sender_id    TEXT NOT NULL,
				sender_name  TEXT NOT NULL,
				sender_email TEXT NOT NULL DEFAULT '',
				sender_role  TEXT NOT NULL DEFAULT '',
				kind         TEXT NOT NULL CHECK (kind IN ('text','system','location','image','model3d')),
				body         TEXT NOT NULL,
				payload      TEXT,
				is_read      INTEGER NOT NULL DEFAULT 0,
				created_at   DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);
			CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id);
			CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(sender_id, is_read);
		`,
	},
}

// MigrationManager applies pending migrations and tracks applied versions.
type MigrationManager struct {
	db         *sql.DB
	migrations []Migration
}

// NewMigrationManager creates a migration manager over the given connection.
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db, migrations: Migrations}
}

// ApplyMigrations applies all pending migrations, each in its own
// transaction, recording every applied version in schema_migrations.
func (m *MigrationManager) ApplyMigrations() error {
	if err := m.createMigrationTable(); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := m.appliedVersions()
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	for _, migration := range m.migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.apply(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s (%s): %w",
				migration.Version, migration.Description, err)
		}
	}

	return nil
}

func (m *MigrationManager) createMigrationTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func (m *MigrationManager) appliedVersions() (map[string]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (m *MigrationManager) apply(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
		return err
	}
	return tx.Commit()
}
