//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/kjstillabower/station-forecast-service/internal/client"
	"github.com/kjstillabower/station-forecast-service/internal/config"
	"github.com/kjstillabower/station-forecast-service/internal/store"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	ProviderURL      string
	ProviderUser     string
	ProviderPassword string
	DatabaseDriver   string // "sqlite3" (default) or "postgres"
	DatabaseDSN      string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test if provider credentials are not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	user := os.Getenv("PROVIDER_USER")
	password := os.Getenv("PROVIDER_PASSWORD")
	if user == "" || password == "" {
		t.Skip("PROVIDER_USER/PROVIDER_PASSWORD not set, skipping integration test")
	}

	providerURL := os.Getenv("PROVIDER_URL")
	if providerURL == "" {
		providerURL = "https://api.meteomatics.com"
	}

	return IntegrationTestConfig{
		ProviderURL:      providerURL,
		ProviderUser:     user,
		ProviderPassword: password,
		DatabaseDriver:   os.Getenv("DATABASE_DRIVER"),
		DatabaseDSN:      os.Getenv("DATABASE_DSN"),
	}
}

// SetupIntegrationStore opens and migrates a store for integration tests. Without
// DATABASE_DRIVER=postgres it uses a sqlite file in t.TempDir(). The store is closed
// on test cleanup.
func SetupIntegrationStore(t *testing.T, cfg IntegrationTestConfig) *store.Store {
	t.Helper()
	dbCfg := config.DatabaseConfig{
		Driver:       store.DriverSQLite,
		DSN:          "file:" + filepath.Join(t.TempDir(), "integration.db") + "?_foreign_keys=on&_busy_timeout=5000",
		MaxOpenConns: 1,
	}
	if cfg.DatabaseDriver == store.DriverPostgres {
		if cfg.DatabaseDSN == "" {
			t.Skip("DATABASE_DSN not set for postgres, skipping integration test")
		}
		dbCfg = config.DatabaseConfig{Driver: store.DriverPostgres, DSN: cfg.DatabaseDSN, MaxOpenConns: 4}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := store.Open(ctx, dbCfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return s
}

// SetupIntegrationClient creates a provider client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.MeteomaticsClient {
	t.Helper()
	c, err := client.NewMeteomaticsClient(client.Options{
		BaseURL:        cfg.ProviderURL,
		Credentials:    client.Credentials{User: cfg.ProviderUser, Password: cfg.ProviderPassword},
		Timeout:        60 * time.Second,
		RetryAttempts:  3,
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  10 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewMeteomaticsClient() error = %v", err)
	}
	return c
}
