// Package store owns the destination database: connection setup, schema
// migrations, full-table replacement and the report queries.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kjstillabower/station-forecast-service/internal/config"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"

	TableLocations = "locations"
	TableForecasts = "forecasts"
)

type Store struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

// Open connects to the configured database, applies pool settings and
// verifies connectivity.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	switch cfg.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	dsn := cfg.ConnectionString()
	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	memory := cfg.Driver == DriverSQLite && isSQLiteMemory(dsn)
	if memory {
		// An in-memory database exists per connection.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	// WAL lets report queries and /health read while a replace transaction
	// is open. The mode is stored in the database file.
	if cfg.Driver == DriverSQLite && !memory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable wal: %w", err)
		}
	}
	return New(db, cfg.Driver, logger), nil
}

func isSQLiteMemory(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// New wraps an already opened database.
func New(db *sql.DB, driver string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, driver: driver, logger: logger}
}

func (s *Store) Driver() string { return s.driver }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
