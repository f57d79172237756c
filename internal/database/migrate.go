package database

import (
	"embed"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrations embed.FS

// RunMigrations applies all pending migrations to the database at dsn.
func RunMigrations(dsn string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("migration init: %w", err)
	}
	defer m.Close()

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up: %w", err)
	}

	return checkVersion(m)
}

type versioner interface {
	Version() (version uint, dirty bool, err error)
}

// checkVersion reports the schema version left by a migration run. A dirty
// version means a migration failed halfway and needs manual repair.
func checkVersion(m versioner) error {
	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Println("✓ Migrations applied (no versions)")
		return nil
	case err != nil:
		return fmt.Errorf("migration version: %w", err)
	case dirty:
		return fmt.Errorf("migration version %d is dirty", version)
	}
	log.Printf("✓ Migrations applied (version=%d)", version)
	return nil
}
