// Package client provides the `relay` command-line client.
//
// The CLI talks to the relay HTTP API to publish messages, poll channels,
// and inspect backlogs from a terminal. It is primarily intended for
// developers and operators.
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. When using the standalone binary, it reads
// RELAY_HTTP and defaults to http://127.0.0.1:8080.
//
// Usage
//
//	relay bus publish --channel /chat --data '{"text":"hello"}'
//	relay bus publish --channel /notices --data "maintenance" --user-id 42
//
//	# One long-poll from the beginning of the backlog
//	relay bus poll --channel /chat
//
//	# Follow from now on, Ctrl-C to stop
//	relay bus tail --channel /chat=-1
//
//	relay bus backlog --channel /chat --since 10
//	relay bus last-id --channel /chat
package client
