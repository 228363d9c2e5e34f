// Package migrate runs database migrations from embedded SQL files using golang-migrate.
package migrate

import (
	"errors"
	"fmt"

	"helpdesk-auth/backend/internal/db"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ErrNoChange is returned when Up/Down has nothing to do (already at target version).
var ErrNoChange = migrate.ErrNoChange

// ErrNoDSN is returned when no database URL was configured.
var ErrNoDSN = errors.New("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")

// Run applies migrations in the given direction using the provided DSN.
// direction must be "up" or "down". Returns nil on success and when already at the
// target version; other errors for DB or I/O failures.
func Run(dsn string, direction string) error {
	if direction != "up" && direction != "down" {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}
	m, err := open(dsn)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Version reports the applied schema version and whether the last migration left it dirty.
// A database with no migrations applied reports version 0.
func Version(dsn string) (uint, bool, error) {
	m, err := open(dsn)
	if err != nil {
		return 0, false, err
	}
	defer func() { _, _ = m.Close() }()
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func open(dsn string) (*migrate.Migrate, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}
	sourceDriver, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return m, nil
}
