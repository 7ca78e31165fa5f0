package config_test

import (
	"MangoCache/internal/config"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Freshness.DefaultMaxAge != 60 {
		t.Errorf("got default max age %d, want 60", cfg.Freshness.DefaultMaxAge)
	}
	if cfg.Persist.FlushTimeout != 10*time.Millisecond {
		t.Errorf("got flush timeout %v, want 10ms", cfg.Persist.FlushTimeout)
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := writeConfig(t, `
nats:
  url: nats://yaml:4222
persist:
  batch_size: 7
  flush_timeout: 25ms
freshness:
  default_max_age: 30
logging:
  level: debug
  file:
    path: /tmp/cache.log
`)
	t.Setenv("CACHE_NATS_URL", "nats://env:4222")
	t.Setenv("CACHE_DEFAULT_MAX_AGE", "15")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.NATS.URL != "nats://env:4222" {
		t.Errorf("got nats url %q, want env override", cfg.NATS.URL)
	}
	if cfg.Persist.BatchSize != 7 {
		t.Errorf("got batch size %d, want 7", cfg.Persist.BatchSize)
	}
	if cfg.Persist.FlushTimeout != 25*time.Millisecond {
		t.Errorf("got flush timeout %v, want 25ms", cfg.Persist.FlushTimeout)
	}
	if cfg.Freshness.DefaultMaxAge != 15 {
		t.Errorf("got default max age %d, want 15", cfg.Freshness.DefaultMaxAge)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.File.Path != "/tmp/cache.log" {
		t.Errorf("got logging %+v", cfg.Logging)
	}
	// untouched by the file
	if cfg.Server.GRPCAddr != ":9090" {
		t.Errorf("got grpc addr %q, want default", cfg.Server.GRPCAddr)
	}
}

func TestLoad_BadEnvNumber(t *testing.T) {
	t.Setenv("CACHE_PERSIST_BATCH_SIZE", "lots")
	if _, err := config.Load(""); err == nil || !strings.Contains(err.Error(), "CACHE_PERSIST_BATCH_SIZE") {
		t.Errorf("got %v, want error naming CACHE_PERSIST_BATCH_SIZE", err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	path := writeConfig(t, "freshness:\n  default_max_age: 0\n")
	if _, err := config.Load(path); err == nil {
		t.Error("expected validation error for zero max age")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
