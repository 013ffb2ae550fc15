package store

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite3
var migrationFiles embed.FS

// supportedVersion is the schema version this build expects. If the database
// is ahead (newer binary required) or behind with no pending migrations to
// apply, startup fails loudly rather than running against an unknown schema.
const supportedVersion uint = 1

func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("store: sqlite3 migration driver: %w", err)
	}

	src, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return fmt.Errorf("store: migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("store: migration setup: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("store: applying migrations: %w", err)
	}

	v, _, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("store: reading schema version: %w", err)
	}

	if v > supportedVersion {
		return fmt.Errorf("store: database schema version %d is newer than supported version %d", v, supportedVersion)
	}
	if v < supportedVersion {
		return fmt.Errorf("store: database schema version %d is older than supported version %d", v, supportedVersion)
	}

	return nil
}
