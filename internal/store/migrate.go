package store

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies all pending up migrations. The migrate instance is not
// closed because its database driver would close the shared *sql.DB.
func (s *Store) Migrate(ctx context.Context) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	var driver database.Driver
	switch s.driver {
	case DriverPostgres:
		conn, err := s.db.Conn(ctx)
		if err != nil {
			return fmt.Errorf("migration connection: %w", err)
		}
		defer conn.Close()
		driver, err = postgres.WithConnection(ctx, conn, &postgres.Config{})
		if err != nil {
			return fmt.Errorf("migration driver: %w", err)
		}
	case DriverSQLite:
		driver, err = sqlite3.WithInstance(s.db, &sqlite3.Config{})
		if err != nil {
			return fmt.Errorf("migration driver: %w", err)
		}
	default:
		return fmt.Errorf("unsupported database driver %q", s.driver)
	}

	m, err := migrate.NewWithInstance("iofs", src, s.driver, driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			s.logger.Info("database schema up to date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, _, _ := m.Version()
	s.logger.Info("database migrations applied", zap.Uint("version", version))
	return nil
}
