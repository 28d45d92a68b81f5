package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relaybus/relay/internal/backend"
	memorybackend "github.com/relaybus/relay/internal/backend/memory"
	pebblebackend "github.com/relaybus/relay/internal/backend/pebble"
	redisbackend "github.com/relaybus/relay/internal/backend/redis"
	"github.com/relaybus/relay/internal/bus"
	cfgpkg "github.com/relaybus/relay/internal/config"
	pebblestore "github.com/relaybus/relay/internal/storage/pebble"
	logpkg "github.com/relaybus/relay/pkg/log"
)

func fsyncMode(s string) pebblestore.FsyncMode {
	switch s {
	case "interval":
		return pebblestore.FsyncModeInterval
	case "never":
		return pebblestore.FsyncModeNever
	default:
		return pebblestore.FsyncModeAlways
	}
}

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger logpkg.Logger
}

// Runtime wires the configured backend and the bus for a single instance.
// It owns both and tears them down in Close.
type Runtime struct {
	be     backend.Backend
	bus    *bus.Bus
	config cfgpkg.Config
}

// Open validates the configuration, opens the selected backend, and starts
// the bus dispatcher.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}

	var be backend.Backend
	switch cfg.Backend {
	case cfgpkg.BackendMemory:
		be = memorybackend.New(memorybackend.Options{
			DefaultBacklogSize: cfg.DefaultBacklogSize,
			GlobalBacklogSize:  cfg.GlobalBacklogSize,
		})
	case cfgpkg.BackendPebble:
		b, err := pebblebackend.Open(pebblebackend.Options{
			DataDir:            cfg.DataDir,
			Fsync:              fsyncMode(cfg.Fsync),
			FsyncInterval:      time.Duration(cfg.FsyncIntervalMs) * time.Millisecond,
			DefaultBacklogSize: cfg.DefaultBacklogSize,
			GlobalBacklogSize:  cfg.GlobalBacklogSize,
		})
		if err != nil {
			return nil, fmt.Errorf("open pebble backend: %w", err)
		}
		be = b
	case cfgpkg.BackendRedis:
		b, err := redisbackend.Open(redisbackend.Options{
			Addr:               cfg.RedisAddr,
			Password:           cfg.RedisPassword,
			DB:                 cfg.RedisDB,
			KeyPrefix:          cfg.RedisKeyPrefix,
			DefaultBacklogSize: cfg.DefaultBacklogSize,
			GlobalBacklogSize:  cfg.GlobalBacklogSize,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis backend: %w", err)
		}
		be = b
	default:
		return nil, fmt.Errorf("runtime: unknown backend %q", cfg.Backend)
	}

	rt := &Runtime{
		be:     be,
		bus:    bus.New(be, logger, bus.Options{PollTimeout: cfg.LongPollTimeout()}),
		config: cfg,
	}
	return rt, nil
}

// Close stops the dispatcher and closes the backend.
func (r *Runtime) Close() error {
	if r.bus != nil {
		r.bus.Close()
	}
	if r.be == nil {
		return nil
	}
	return r.be.Close()
}

// CheckHealth performs a simple health check against the backend.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.be == nil {
		return errors.New("backend not open")
	}
	_, err := r.be.GlobalLastID(ctx)
	return err
}

// Bus returns the message bus facade.
func (r *Runtime) Bus() *bus.Bus { return r.bus }

// Backend exposes the underlying store for advanced operations (internal use only).
func (r *Runtime) Backend() backend.Backend { return r.be }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
