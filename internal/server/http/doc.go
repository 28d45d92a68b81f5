// Package httpserver exposes the bus over HTTP: JSON publish, long-poll,
// an SSE streaming variant of the poll loop, and backlog diagnostics.
// Identity is taken from the X-Relay-User-Id header, which a fronting
// proxy is expected to stamp after authentication.
package httpserver
