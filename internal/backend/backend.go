package backend

import (
	"context"
	"errors"
)

// ErrUnavailable reports that the shared store could not be reached.
// Publishers fail fast on it rather than retrying inline; the caller decides
// whether to retry or drop.
var ErrUnavailable = errors.New("backend: store unavailable")

// PublishOptions carries optional per-publish settings.
type PublishOptions struct {
	// ClientIDs restricts delivery to the listed client ids.
	ClientIDs []string
	// UserIDs restricts delivery to the listed user ids.
	UserIDs []int64
	// MaxBacklogSize overrides the channel's retained history bound for this
	// publish. Zero means "use the channel default".
	MaxBacklogSize int
}

// Backend is the pluggable durable/shared storage abstraction underlying the
// bus. Implementations must make Publish atomic with respect to concurrent
// publishers, including publishers in other processes where the store is
// shared.
type Backend interface {
	// Publish reserves the next channel and global ids, stores the message in
	// the channel and global backlogs, trims both to their bounds, and
	// returns the stored message.
	Publish(ctx context.Context, channel string, data []byte, opts PublishOptions) (Message, error)

	// Backlog returns all retained messages in channel with ChannelID >
	// sinceID, oldest first. If sinceID predates the oldest retained message
	// the full retained backlog is returned; callers detect the gap from the
	// first returned ChannelID.
	Backlog(ctx context.Context, channel string, sinceID uint64) ([]Message, error)

	// GlobalBacklog returns retained messages across all channels with
	// GlobalID > sinceID, oldest first.
	GlobalBacklog(ctx context.Context, sinceID uint64) ([]Message, error)

	// LastID returns the latest assigned channel id (0 if never published).
	LastID(ctx context.Context, channel string) (uint64, error)

	// GlobalLastID returns the latest assigned global id.
	GlobalLastID(ctx context.Context) (uint64, error)

	// Notifications returns the stream of published messages used to wake
	// waiting subscribers. For shared stores this includes messages published
	// by other processes. The channel is never closed; consumers stop via
	// their own context.
	Notifications() <-chan Message

	// Reset discards all stored messages and counters. Test/tooling use.
	Reset(ctx context.Context) error

	// Close releases resources. After Close, Publish fails.
	Close() error
}
