package config

import (
	"os"
	"strconv"
)

// FromEnv overlays RELAY_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("RELAY_BACKEND"); v != "" {
		cfg.Backend = Backend(v)
	}
	if v := os.Getenv("RELAY_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("RELAY_FSYNC"); v != "" {
		cfg.Fsync = v
	}
	if v := os.Getenv("RELAY_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("RELAY_REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("RELAY_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}
	if v := os.Getenv("RELAY_REDIS_KEY_PREFIX"); v != "" {
		cfg.RedisKeyPrefix = v
	}
	if v := os.Getenv("RELAY_DEFAULT_BACKLOG_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DefaultBacklogSize = n
		}
	}
	if v := os.Getenv("RELAY_GLOBAL_BACKLOG_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GlobalBacklogSize = n
		}
	}
	if v := os.Getenv("RELAY_LONG_POLL_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LongPollTimeoutMs = n
		}
	}
}
