// Package runtime wires the storage backend, config, and bus into a single
// Relay instance. It exposes Open/Close, basic health checks, and the bus
// facade used by servers and the CLI.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
//	// Health
//	_ = rt.CheckHealth(context.Background())
//	// Publish
//	_, _ = rt.Bus().Publish(context.Background(), "/chat", []byte(`"hello"`), backend.PublishOptions{})
package runtime
