package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Backend selects the storage/fan-out implementation behind the bus.
type Backend string

const (
	// BackendMemory keeps backlogs in bounded in-process ring buffers.
	BackendMemory Backend = "memory"
	// BackendPebble persists backlogs and counters in an embedded Pebble store.
	BackendPebble Backend = "pebble"
	// BackendRedis shares backlogs and counters across processes via Redis.
	BackendRedis Backend = "redis"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Backend Backend `json:"backend"`
	DataDir string  `json:"dataDir"`
	// Fsync selects the WAL sync policy for the pebble backend:
	// "always", "interval", or "never".
	Fsync string `json:"fsync"`
	// FsyncIntervalMs is the group-commit window when Fsync is "interval".
	FsyncIntervalMs int `json:"fsyncIntervalMs"`

	RedisAddr     string `json:"redisAddr"`
	RedisPassword string `json:"redisPassword"`
	RedisDB       int    `json:"redisDB"`
	// RedisKeyPrefix namespaces all relay keys in a shared Redis instance.
	RedisKeyPrefix string `json:"redisKeyPrefix"`

	// DefaultBacklogSize bounds the retained per-channel history, oldest
	// evicted first. Channels may override it at registration or publish time.
	DefaultBacklogSize int `json:"defaultBacklogSize"`
	// GlobalBacklogSize bounds the cross-channel backlog kept for global
	// cursor catch-up.
	GlobalBacklogSize int `json:"globalBacklogSize"`

	// LongPollTimeoutMs is how long a poll with no pending messages is held
	// open before returning an empty batch. Kept below typical proxy idle
	// timeouts.
	LongPollTimeoutMs int `json:"longPollTimeoutMs"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Backend:            BackendMemory,
		Fsync:              "always",
		FsyncIntervalMs:    5,
		RedisAddr:          "127.0.0.1:6379",
		RedisKeyPrefix:     "relay",
		DefaultBacklogSize: 1000,
		GlobalBacklogSize:  2000,
		LongPollTimeoutMs:  25000,
	}
}

// LongPollTimeout returns the configured poll timeout as a duration.
func (c Config) LongPollTimeout() time.Duration {
	if c.LongPollTimeoutMs <= 0 {
		return 25 * time.Second
	}
	return time.Duration(c.LongPollTimeoutMs) * time.Millisecond
}

// Validate rejects configurations the runtime cannot honor.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendPebble, BackendRedis:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	switch c.Fsync {
	case "", "always", "interval", "never":
	default:
		return fmt.Errorf("config: unknown fsync mode %q", c.Fsync)
	}
	if c.DefaultBacklogSize <= 0 {
		return fmt.Errorf("config: defaultBacklogSize must be positive, got %d", c.DefaultBacklogSize)
	}
	if c.GlobalBacklogSize <= 0 {
		return fmt.Errorf("config: globalBacklogSize must be positive, got %d", c.GlobalBacklogSize)
	}
	return nil
}

// Load reads configuration from a JSON file. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
