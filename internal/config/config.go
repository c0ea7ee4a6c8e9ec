// Package config defines the top-level configuration for marketview and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Snapshot backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARKETVIEW_* environment variables.
type Config struct {
	CoinGecko CoinGeckoConfig `toml:"coingecko"`
	Fetch     FetchConfig     `toml:"fetch"`
	Snapshot  SnapshotConfig  `toml:"snapshot"`
	SQLite    SQLiteConfig    `toml:"sqlite"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	List      ListConfig      `toml:"list"`
	Prefetch  PrefetchConfig  `toml:"prefetch"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	LogLevel  string          `toml:"log_level"`
}

// CoinGeckoConfig holds the upstream API endpoint and credentials.
type CoinGeckoConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	UserAgent string `toml:"user_agent"`
}

// FetchConfig holds the retry policy and request pacing applied to every
// upstream call.
type FetchConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	Timeout     duration `toml:"timeout"`
	BackoffBase duration `toml:"backoff_base"`
	Jitter      float64  `toml:"jitter"`
	// RequestsPerMinute caps upstream attempts across the process. Zero
	// disables pacing.
	RequestsPerMinute int `toml:"requests_per_minute"`
	Burst             int `toml:"burst"`
}

// SnapshotConfig selects where snapshots are kept.
type SnapshotConfig struct {
	Backend string `toml:"backend"`
}

// SQLiteConfig holds the local snapshot database location.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters. Redis backs the snapshot
// store when selected, and independently provides prefetch locks, the API
// rate limiter and refresh notifications when enabled.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	KeyPrefix   string   `toml:"key_prefix"`
	SnapshotTTL duration `toml:"snapshot_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ListConfig tunes the market list.
type ListConfig struct {
	TopN int `toml:"top_n"`
	// MinRefresh is how old the list snapshot must be before a request
	// refreshes it live.
	MinRefresh duration `toml:"min_refresh"`
	// RefreshInterval drives the background refresh loop. Zero disables it.
	RefreshInterval duration `toml:"refresh_interval"`
	HistoryDays     int      `toml:"history_days"`
}

// PrefetchConfig tunes the background history prefetch.
type PrefetchConfig struct {
	Enabled bool     `toml:"enabled"`
	Top     int      `toml:"top"`
	Workers int      `toml:"workers"`
	Gap     duration `toml:"gap"`
	LockTTL duration `toml:"lock_ttl"`
}

// ArchiveConfig controls copying snapshots to object storage.
type ArchiveConfig struct {
	Enabled bool   `toml:"enabled"`
	Cron    string `toml:"cron"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit is the per-client request budget per RateWindow. It needs
	// Redis; zero disables it.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		CoinGecko: CoinGeckoConfig{
			BaseURL:   "https://api.coingecko.com/api/v3",
			UserAgent: "marketview/1.0",
		},
		Fetch: FetchConfig{
			MaxAttempts:       3,
			Timeout:           duration{9 * time.Second},
			BackoffBase:       duration{600 * time.Millisecond},
			Jitter:            0,
			RequestsPerMinute: 30,
			Burst:             3,
		},
		Snapshot: SnapshotConfig{
			Backend: BackendSQLite,
		},
		SQLite: SQLiteConfig{
			Path: "marketview.db",
		},
		Redis: RedisConfig{
			Enabled:     false,
			Addr:        "localhost:6379",
			PoolSize:    10,
			MaxRetries:  3,
			KeyPrefix:   "marketview",
			SnapshotTTL: duration{0},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marketview-snapshots",
			ForcePathStyle: true,
		},
		List: ListConfig{
			TopN:            30,
			MinRefresh:      duration{time.Minute},
			RefreshInterval: duration{5 * time.Minute},
			HistoryDays:     7,
		},
		Prefetch: PrefetchConfig{
			Enabled: true,
			Top:     6,
			Workers: 2,
			Gap:     duration{900 * time.Millisecond},
			LockTTL: duration{time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Cron:    "0 * * * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		LogLevel: "info",
	}
}

var validBackends = map[string]bool{
	BackendMemory:   true,
	BackendSQLite:   true,
	BackendRedis:    true,
	BackendPostgres: true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// UsesRedis reports whether a Redis connection is needed.
func (c *Config) UsesRedis() bool {
	return c.Redis.Enabled || strings.EqualFold(c.Snapshot.Backend, BackendRedis)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// CoinGecko
	if !strings.HasPrefix(c.CoinGecko.BaseURL, "http://") && !strings.HasPrefix(c.CoinGecko.BaseURL, "https://") {
		errs = append(errs, fmt.Sprintf("coingecko: base_url must be an http(s) URL, got %q", c.CoinGecko.BaseURL))
	}

	// Fetch
	if c.Fetch.MaxAttempts < 1 {
		errs = append(errs, "fetch: max_attempts must be >= 1")
	}
	if c.Fetch.Timeout.Duration <= 0 {
		errs = append(errs, "fetch: timeout must be > 0")
	}
	if c.Fetch.BackoffBase.Duration < 0 {
		errs = append(errs, "fetch: backoff_base must be >= 0")
	}
	if c.Fetch.Jitter < 0 || c.Fetch.Jitter >= 1 {
		errs = append(errs, "fetch: jitter must be in [0, 1)")
	}
	if c.Fetch.RequestsPerMinute < 0 {
		errs = append(errs, "fetch: requests_per_minute must be >= 0")
	}

	// Snapshot backend
	backend := strings.ToLower(c.Snapshot.Backend)
	if !validBackends[backend] {
		errs = append(errs, fmt.Sprintf("snapshot: unknown backend %q (valid: memory, sqlite, redis, postgres)", c.Snapshot.Backend))
	}
	if backend == BackendSQLite && strings.TrimSpace(c.SQLite.Path) == "" {
		errs = append(errs, "sqlite: path must not be empty")
	}

	// Redis
	if c.UsesRedis() {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if backend == BackendPostgres {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// List
	if c.List.TopN < 1 || c.List.TopN > 250 {
		errs = append(errs, fmt.Sprintf("list: top_n must be 1-250, got %d", c.List.TopN))
	}
	if c.List.HistoryDays < 1 || c.List.HistoryDays > 365 {
		errs = append(errs, fmt.Sprintf("list: history_days must be 1-365, got %d", c.List.HistoryDays))
	}

	// Prefetch
	if c.Prefetch.Enabled {
		if c.Prefetch.Workers < 1 {
			errs = append(errs, "prefetch: workers must be >= 1")
		}
		if c.Prefetch.Top < 0 || c.Prefetch.Top > c.List.TopN {
			errs = append(errs, "prefetch: top must be between 0 and list.top_n")
		}
		if c.Prefetch.Gap.Duration < 0 {
			errs = append(errs, "prefetch: gap must be >= 0")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if _, err := cron.ParseStandard(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: cron %q: %v", c.Archive.Cron, err))
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
