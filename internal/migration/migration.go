package migration

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// Manager handles database migrations
type Manager struct {
	migrator *migrate.Migrate
	log      *zap.Logger
}

// sourceDir maps a database/sql driver name to its embedded migration set
func sourceDir(driverName string) (string, error) {
	switch driverName {
	case "sqlite3":
		return "migrations/sqlite3", nil
	case "pgx":
		return "migrations/postgres", nil
	default:
		return "", fmt.Errorf("no migrations for driver %q", driverName)
	}
}

// NewManagerWithDB creates a new migration manager using an existing database connection
func NewManagerWithDB(db *sql.DB, driverName string, log *zap.Logger) (*Manager, error) {
	dir, err := sourceDir(driverName)
	if err != nil {
		return nil, err
	}

	var driver database.Driver
	switch driverName {
	case "sqlite3":
		driver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	case "pgx":
		driver, err = pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(MigrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, driverName, driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &Manager{
		migrator: migrator,
		log:      log.Named("migration"),
	}, nil
}

// Up runs all pending migrations
func (m *Manager) Up() error {
	m.log.Info("running database migrations")

	if err := m.FixDirtyState(); err != nil {
		return err
	}

	err := m.migrator.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		m.log.Info("no new migrations to run")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	m.log.Info("migrations completed successfully")
	return nil
}

// Down rolls back the last migration
func (m *Manager) Down() error {
	m.log.Info("rolling back last migration")

	err := m.migrator.Steps(-1)
	if errors.Is(err, migrate.ErrNoChange) {
		m.log.Info("no migrations to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	m.log.Info("migration rollback completed")
	return nil
}

// Force sets the migration version without running migrations
func (m *Manager) Force(version int) error {
	if err := m.migrator.Force(version); err != nil {
		return fmt.Errorf("failed to force migration version: %w", err)
	}

	m.log.Info("migration version forced", zap.Int("version", version))
	return nil
}

// Version returns the current migration version
func (m *Manager) Version() (uint, bool, error) {
	version, dirty, err := m.migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}

	return version, dirty, nil
}

// MigrateToVersion migrates to a specific version
func (m *Manager) MigrateToVersion(targetVersion uint) error {
	err := m.migrator.Migrate(targetVersion)
	if errors.Is(err, migrate.ErrNoChange) {
		m.log.Info("already at version", zap.Uint("version", targetVersion))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to migrate to version %d: %w", targetVersion, err)
	}

	m.log.Info("migrated", zap.Uint("version", targetVersion))
	return nil
}

// FixDirtyState attempts to fix a dirty migration state
func (m *Manager) FixDirtyState() error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}

	if !dirty {
		return nil
	}

	m.log.Warn("database is in dirty state, attempting to fix", zap.Uint("version", version))

	// Forcing the dirty version marks it applied; if that fails fall back one step
	if err := m.migrator.Force(int(version)); err != nil {
		if version == 0 {
			return fmt.Errorf("database is dirty at version 0 and cannot be fixed automatically")
		}
		m.log.Warn("failed to force dirty version, trying previous", zap.Uint("version", version), zap.Error(err))
		if err := m.migrator.Force(int(version - 1)); err != nil {
			return fmt.Errorf("failed to fix dirty database state: %w", err)
		}
	}

	return nil
}

// Close releases the migrator without closing the shared database connection
func (m *Manager) Close() error {
	return nil
}
