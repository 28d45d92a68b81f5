package serverrun

import (
	"context"
	"os"
	"testing"
	"time"

	cfgpkg "github.com/relaybus/relay/internal/config"
)

func TestGetenvDefault(t *testing.T) {
	_ = os.Setenv("RELAY_TEST_VAR", "env_value")
	t.Cleanup(func() { _ = os.Unsetenv("RELAY_TEST_VAR") })
	if got := getenvDefault("RELAY_TEST_VAR", "default"); got != "env_value" {
		t.Fatalf("set var: %s", got)
	}
	if got := getenvDefault("RELAY_TEST_VAR_UNSET", "default"); got != "default" {
		t.Fatalf("unset var: %s", got)
	}
}

func TestPebbleDataDirFallback(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.Backend = cfgpkg.BackendPebble
	opts := Options{Config: cfg}
	if opts.Config.DataDir == "" {
		opts.Config.DataDir = cfgpkg.DefaultDataDir()
	}
	if opts.Config.DataDir == "" {
		t.Fatal("expected DataDir after fallback")
	}
}

// TestRunIntegration verifies Run starts and shuts down cleanly. Kept minimal
// since it binds a real socket.
func TestRunIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := Run(ctx, Options{HTTPAddr: "127.0.0.1:0", Config: cfgpkg.Default()})
	if err != nil && err != context.DeadlineExceeded && err != context.Canceled {
		t.Errorf("expected clean shutdown, got %v", err)
	}
}
