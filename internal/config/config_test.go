package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Backend != BackendMemory {
		t.Fatalf("default backend: %q", cfg.Backend)
	}
	if cfg.DefaultBacklogSize != 1000 {
		t.Fatalf("default backlog size: %d", cfg.DefaultBacklogSize)
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.Backend = "etcd"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestLoadJSONOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.json")
	body := `{"backend":"pebble","defaultBacklogSize":50,"longPollTimeoutMs":1000}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != BackendPebble {
		t.Fatalf("backend: %q", cfg.Backend)
	}
	if cfg.DefaultBacklogSize != 50 {
		t.Fatalf("backlog size: %d", cfg.DefaultBacklogSize)
	}
	// untouched fields keep defaults
	if cfg.GlobalBacklogSize != 2000 {
		t.Fatalf("global backlog size: %d", cfg.GlobalBacklogSize)
	}
}

func TestLoadIgnoresFileExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.conf")
	if err := os.WriteFile(path, []byte(`{"backend":"redis"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != BackendRedis {
		t.Fatalf("backend: %q", cfg.Backend)
	}
	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestFromEnvOverlay(t *testing.T) {
	t.Setenv("RELAY_BACKEND", "redis")
	t.Setenv("RELAY_REDIS_ADDR", "10.0.0.5:6379")
	t.Setenv("RELAY_LONG_POLL_TIMEOUT_MS", "1500")
	cfg := Default()
	FromEnv(&cfg)
	if cfg.Backend != BackendRedis {
		t.Fatalf("backend: %q", cfg.Backend)
	}
	if cfg.RedisAddr != "10.0.0.5:6379" {
		t.Fatalf("redis addr: %q", cfg.RedisAddr)
	}
	if cfg.LongPollTimeout().Milliseconds() != 1500 {
		t.Fatalf("timeout: %v", cfg.LongPollTimeout())
	}
}
