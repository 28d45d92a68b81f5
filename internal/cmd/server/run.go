package serverrun

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cfgpkg "github.com/relaybus/relay/internal/config"
	"github.com/relaybus/relay/internal/runtime"
	httpserver "github.com/relaybus/relay/internal/server/http"
	logpkg "github.com/relaybus/relay/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// environment lookup, swappable in tests
var getenv = func(key string) string { return os.Getenv(key) }

type Options struct {
	HTTPAddr string
	Config   cfgpkg.Config
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	// Be robust to callers that don't pass a signal-aware context. We layer
	// a local signal context over the provided one.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Config.Backend == cfgpkg.BackendPebble && opts.Config.DataDir == "" {
		opts.Config.DataDir = cfgpkg.DefaultDataDir()
	}

	// Build process-wide logger using env/ApplyConfig; defaults: level=info, format=text
	cfg := &logpkg.Config{
		Level:  getenvDefault("RELAY_LOG_LEVEL", "info"),
		Format: getenvDefault("RELAY_LOG_FORMAT", "text"),
	}
	procLogger, err := logpkg.ApplyConfig(cfg)
	if err != nil {
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(cfg.Level); e == nil {
			lvl = l
		}
		procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}

	// Redirect stdlib logs (e.g., Pebble) to our logger
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(runtime.Options{Config: opts.Config, Logger: procLogger})
	if err != nil {
		return err
	}
	defer rt.Close()

	procLogger.Info("Starting relay server",
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("backend", string(opts.Config.Backend)),
		logpkg.Str("level", cfg.Level),
		logpkg.Str("format", cfg.Format),
		logpkg.Int("default_backlog", opts.Config.DefaultBacklogSize),
		logpkg.Dur("poll_timeout", opts.Config.LongPollTimeout()),
	)

	hsrv := httpserver.New(rt, procLogger)
	err = hsrv.ListenAndServe(sctx, opts.HTTPAddr)
	if err != nil && sctx.Err() == nil {
		return err
	}
	procLogger.Info("Server stopped")
	return nil
}
