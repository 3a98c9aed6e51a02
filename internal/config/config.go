package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from .env, YAML and env.
type Config struct {
	ServerPort string

	ProviderURL           string
	ProviderUser          string
	ProviderPassword      string
	ProviderTimeout       time.Duration
	ProviderStationSource string
	ProviderParameter     string
	ProviderWindow        string

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerOpenTimeout      time.Duration

	RequestTimeout time.Duration

	IngestBatchSize    int
	IngestOnStartup    bool
	IngestInterval     time.Duration // 0 disables periodic re-ingestion
	IngestExportDir    string
	IngestExportFormat string // "csv" or "parquet"

	CacheBackend          string // "none", "in_memory" or "memcached"
	CacheTTL              time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	Database DatabaseConfig

	ShutdownTimeout time.Duration
}

// DatabaseConfig describes the destination store. DSN, when set, wins over the discrete fields.
type DatabaseConfig struct {
	Driver          string // "postgres" or "sqlite3"
	DSN             string
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ConnectionString returns the driver DSN.
func (d DatabaseConfig) ConnectionString() string {
	if d.DSN != "" {
		return d.DSN
	}
	switch d.Driver {
	case "sqlite3":
		return "file:" + d.Name + "?_foreign_keys=on&_busy_timeout=5000"
	default:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
	}
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Provider struct {
		URL           string `yaml:"url"`
		Timeout       string `yaml:"timeout"`
		StationSource string `yaml:"station_source"`
		Parameter     string `yaml:"parameter"`
		Window        string `yaml:"window"`
	} `yaml:"provider"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`

		CircuitBreakerEnabled          *bool  `yaml:"circuit_breaker_enabled"`
		CircuitBreakerFailureThreshold int    `yaml:"circuit_breaker_failure_threshold"`
		CircuitBreakerOpenTimeout      string `yaml:"circuit_breaker_open_timeout"`
	} `yaml:"reliability"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Ingest struct {
		BatchSize    int    `yaml:"batch_size"`
		OnStartup    *bool  `yaml:"on_startup"`
		Interval     string `yaml:"interval"`
		ExportDir    string `yaml:"export_dir"`
		ExportFormat string `yaml:"export_format"`
	} `yaml:"ingest"`

	Cache struct {
		Backend string `yaml:"backend"`
		TTL     string `yaml:"ttl"`
	} `yaml:"cache"`

	Memcached struct {
		Addrs        string `yaml:"addrs"`
		Timeout      string `yaml:"timeout"`
		MaxIdleConns int    `yaml:"max_idle_conns"`
	} `yaml:"memcached"`

	Database struct {
		Driver          string `yaml:"driver"`
		DSN             string `yaml:"dsn"`
		Host            string `yaml:"host"`
		Port            int    `yaml:"port"`
		Name            string `yaml:"name"`
		User            string `yaml:"user"`
		SSLMode         string `yaml:"sslmode"`
		MaxOpenConns    int    `yaml:"max_open_conns"`
		MaxIdleConns    int    `yaml:"max_idle_conns"`
		ConnMaxLifetime string `yaml:"conn_max_lifetime"`
	} `yaml:"database"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	ProviderUser     string `yaml:"provider_user"`
	ProviderPassword string `yaml:"provider_password"`
	DatabasePassword string `yaml:"database_password"`
}

// Load reads .env (optional), config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// Environment variables override file values. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	var sec secretsFile
	secretsData, err := os.ReadFile(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read secrets file: %w", err)
		}
	} else if err := yaml.Unmarshal(secretsData, &sec); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("SERVER_PORT"), fc.Server.Port, "8080")

	cfg.ProviderURL = strings.TrimRight(firstNonEmpty(os.Getenv("PROVIDER_URL"), fc.Provider.URL, "https://api.meteomatics.com"), "/")
	cfg.ProviderUser = firstNonEmpty(os.Getenv("PROVIDER_USER"), sec.ProviderUser)
	cfg.ProviderPassword = firstNonEmpty(os.Getenv("PROVIDER_PASSWORD"), sec.ProviderPassword)
	if cfg.ProviderUser == "" || cfg.ProviderPassword == "" {
		return nil, fmt.Errorf("PROVIDER_USER and PROVIDER_PASSWORD required (set env or config/secrets.yaml provider_user/provider_password)")
	}
	cfg.ProviderTimeout = parseDurationOrZero(fc.Provider.Timeout, 30*time.Second)
	cfg.ProviderStationSource = firstNonEmpty(fc.Provider.StationSource, "mm-mos")
	cfg.ProviderParameter = firstNonEmpty(fc.Provider.Parameter, "t_2m:C")
	cfg.ProviderWindow = firstNonEmpty(fc.Provider.Window, "nowP7D")

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 500*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 5*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 50
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 100
	}

	cfg.CircuitBreakerEnabled = true
	if fc.Reliability.CircuitBreakerEnabled != nil {
		cfg.CircuitBreakerEnabled = *fc.Reliability.CircuitBreakerEnabled
	}
	cfg.CircuitBreakerFailureThreshold = fc.Reliability.CircuitBreakerFailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerOpenTimeout = parseDuration(fc.Reliability.CircuitBreakerOpenTimeout, 30*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)

	cfg.IngestBatchSize = fc.Ingest.BatchSize
	if v := os.Getenv("INGEST_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid INGEST_BATCH_SIZE %q: %w", v, err)
		}
		cfg.IngestBatchSize = n
	}
	if cfg.IngestBatchSize == 0 {
		cfg.IngestBatchSize = 500
	}
	cfg.IngestOnStartup = true
	if fc.Ingest.OnStartup != nil {
		cfg.IngestOnStartup = *fc.Ingest.OnStartup
	}
	cfg.IngestInterval = parseDurationOrZero(firstNonEmpty(os.Getenv("INGEST_INTERVAL"), fc.Ingest.Interval), 0)
	cfg.IngestExportDir = firstNonEmpty(os.Getenv("INGEST_EXPORT_DIR"), fc.Ingest.ExportDir, "database_data")
	cfg.IngestExportFormat = strings.ToLower(strings.TrimSpace(firstNonEmpty(fc.Ingest.ExportFormat, "csv")))

	cfg.CacheBackend = strings.ToLower(strings.TrimSpace(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, "in_memory")))
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 10*time.Minute)
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	db := &cfg.Database
	db.Driver = strings.ToLower(strings.TrimSpace(firstNonEmpty(os.Getenv("DATABASE_DRIVER"), fc.Database.Driver, "postgres")))
	db.DSN = firstNonEmpty(os.Getenv("DATABASE_DSN"), fc.Database.DSN)
	db.Host = firstNonEmpty(os.Getenv("DATABASE_HOST"), fc.Database.Host, "localhost")
	db.Port = fc.Database.Port
	if v := os.Getenv("DATABASE_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_PORT %q: %w", v, err)
		}
		db.Port = n
	}
	if db.Port <= 0 {
		db.Port = 5432
	}
	db.Name = firstNonEmpty(os.Getenv("DATABASE_NAME"), fc.Database.Name, "weather")
	db.User = firstNonEmpty(os.Getenv("DATABASE_USER"), fc.Database.User, "postgres")
	db.Password = firstNonEmpty(os.Getenv("DATABASE_PASSWORD"), sec.DatabasePassword)
	db.SSLMode = firstNonEmpty(fc.Database.SSLMode, "disable")
	db.MaxOpenConns = fc.Database.MaxOpenConns
	if db.MaxOpenConns <= 0 {
		db.MaxOpenConns = 10
	}
	db.MaxIdleConns = fc.Database.MaxIdleConns
	if db.MaxIdleConns <= 0 {
		db.MaxIdleConns = 2
	}
	db.ConnMaxLifetime = parseDuration(fc.Database.ConnMaxLifetime, 30*time.Minute)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	if cfg.ProviderTimeout <= 0 {
		return fmt.Errorf("provider.timeout must be positive")
	}
	if cfg.IngestBatchSize < 0 {
		return fmt.Errorf("ingest.batch_size must be positive, got %d", cfg.IngestBatchSize)
	}
	if cfg.IngestInterval < 0 {
		return fmt.Errorf("ingest.interval must not be negative")
	}
	switch cfg.IngestExportFormat {
	case "csv", "parquet":
	default:
		return fmt.Errorf("ingest.export_format must be csv or parquet, got %q", cfg.IngestExportFormat)
	}
	switch cfg.CacheBackend {
	case "none", "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be none, in_memory or memcached, got %q", cfg.CacheBackend)
	}
	switch cfg.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite3, got %q", cfg.Database.Driver)
	}
	if cfg.Database.Driver == "sqlite3" {
		// One connection: an in-memory database is private to its connection.
		cfg.Database.MaxOpenConns = 1
	}
	return nil
}
