package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	clientcmd "github.com/relaybus/relay/internal/cmd/client"
	serverrun "github.com/relaybus/relay/internal/cmd/server"
	cfgpkg "github.com/relaybus/relay/internal/config"
	logpkg "github.com/relaybus/relay/pkg/log"
	"github.com/spf13/cobra"
)

func main() {
	// initialize logger for CLI
	// Respect RELAY_LOG_LEVEL for both CLI and server start output
	level := os.Getenv("RELAY_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	// Redirect standard library logs (used by Pebble) to our logger
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay message bus CLI",
		Long:  "Relay is a single-binary message bus. This CLI manages the server and basic operations.",
	}

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start relay server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			httpAddr, _ := cmd.Flags().GetString("http")
			backendName, _ := cmd.Flags().GetString("backend")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			redisAddr, _ := cmd.Flags().GetString("redis")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			backlog, _ := cmd.Flags().GetInt("backlog")
			pollTimeoutMs, _ := cmd.Flags().GetInt("poll-timeout-ms")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfgpkg.FromEnv(&cfg)
			if backendName != "" {
				cfg.Backend = cfgpkg.Backend(backendName)
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if redisAddr != "" {
				cfg.RedisAddr = redisAddr
			}
			if fsyncMode != "" {
				cfg.Fsync = fsyncMode
			}
			if backlog > 0 {
				cfg.DefaultBacklogSize = backlog
			}
			if pollTimeoutMs > 0 {
				cfg.LongPollTimeoutMs = pollTimeoutMs
			}
			if logLevel != "" {
				_ = os.Setenv("RELAY_LOG_LEVEL", logLevel)
			}
			if logFormat != "" {
				_ = os.Setenv("RELAY_LOG_FORMAT", logFormat)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, serverrun.Options{
				HTTPAddr: httpAddr,
				Config:   cfg,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	serverStartCmd.Flags().String("config", "", "Path to JSON config file")
	serverStartCmd.Flags().String("http", ":8080", "HTTP listen address")
	serverStartCmd.Flags().String("backend", "", "Backend: memory|pebble|redis")
	serverStartCmd.Flags().String("data-dir", "", "Data directory for the pebble backend (if not specified, uses OS-specific application data directory)")
	serverStartCmd.Flags().String("redis", "", "Redis address for the redis backend")
	serverStartCmd.Flags().String("fsync", "", "Fsync mode for the pebble backend: always|interval|never")
	serverStartCmd.Flags().Int("backlog", 0, "Default per-channel backlog size")
	serverStartCmd.Flags().Int("poll-timeout-ms", 0, "Long-poll hold time in ms")
	serverStartCmd.Flags().String("log-level", os.Getenv("RELAY_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("RELAY_LOG_FORMAT"), "Log format: text|json (default text)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	// bus commands
	busCmd := clientcmd.NewBusCommand(apiURL)
	rootCmd.AddCommand(busCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func apiURL() string {
	if v := os.Getenv("RELAY_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
