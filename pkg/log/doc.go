// Package log provides relay's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Internally it is backed by Go's
// standard library slog via a custom handler that preserves the
// formatter/output pipeline, so output stays consistent across the codebase
// while remaining interoperable with the slog ecosystem.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("server"))
//	l.Info("server started", log.Str("addr", ":8080"))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config, supporting
// text or JSON formatting. To integrate with libraries expecting the standard
// library logger (Pebble does this), use RedirectStdLog.
package log
