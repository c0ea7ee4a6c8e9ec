package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults().Validate() = %v", err)
	}
	if cfg.Prefetch.Workers != 2 || cfg.Prefetch.Gap.Duration != 900*time.Millisecond {
		t.Errorf("prefetch defaults = %+v", cfg.Prefetch)
	}
	if cfg.Fetch.MaxAttempts != 3 || cfg.Fetch.Timeout.Duration != 9*time.Second {
		t.Errorf("fetch defaults = %+v", cfg.Fetch)
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := writeFile(t, `
log_level = "debug"

[snapshot]
backend = "redis"

[redis]
addr = "cache:6379"
snapshot_ttl = "48h"

[list]
top_n = 50
min_refresh = "30s"
`)
	t.Setenv("MARKETVIEW_REDIS_ADDR", "override:6380")
	t.Setenv("MARKETVIEW_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("MARKETVIEW_COINGECKO_API_KEY", "demo-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.LogLevel != "debug" || cfg.Snapshot.Backend != BackendRedis || !cfg.UsesRedis() {
		t.Errorf("top-level = %q %q", cfg.LogLevel, cfg.Snapshot.Backend)
	}
	if cfg.Redis.Addr != "override:6380" || cfg.Redis.SnapshotTTL.Duration != 48*time.Hour {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if cfg.List.TopN != 50 || cfg.List.MinRefresh.Duration != 30*time.Second || cfg.List.HistoryDays != 7 {
		t.Errorf("list = %+v", cfg.List)
	}
	if strings.Join(cfg.Server.CORSOrigins, "|") != "https://a.example|https://b.example" {
		t.Errorf("cors = %v", cfg.Server.CORSOrigins)
	}
	if cfg.CoinGecko.APIKey != "demo-key" {
		t.Errorf("api key = %q", cfg.CoinGecko.APIKey)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "[list]\ntop = 10\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "list.top") {
		t.Errorf("Load = %v, want unknown key error", err)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Snapshot.Backend != BackendSQLite {
		t.Errorf("backend = %q", cfg.Snapshot.Backend)
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	cfg.Snapshot.Backend = "etcd"
	cfg.Fetch.Jitter = 1
	cfg.List.HistoryDays = 400
	cfg.Archive.Enabled = true
	cfg.Archive.Cron = "hourly"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate succeeded")
	}
	for _, want := range []string{"log_level", "snapshot: unknown backend", "jitter", "history_days", "archive: cron"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.CoinGecko.APIKey = "secret"
	cfg.Postgres.DSN = "postgres://u:p@h/db"
	cfg.S3.SecretKey = "s3secret"

	out := RedactedConfig(&cfg)
	if out.CoinGecko.APIKey != "***" || out.Postgres.DSN != "***" || out.S3.SecretKey != "***" {
		t.Errorf("not redacted: %+v", out)
	}
	if out.S3.AccessKey != "" {
		t.Errorf("empty secret became %q", out.S3.AccessKey)
	}
	out.Server.CORSOrigins[0] = "mutated"
	if cfg.Server.CORSOrigins[0] == "mutated" || cfg.CoinGecko.APIKey != "secret" {
		t.Error("redacted copy aliases the original")
	}
}
