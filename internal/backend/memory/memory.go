package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/relaybus/relay/internal/backend"
)

// notifyBuffer bounds the wake-up queue. When full the oldest pending
// notification is dropped; waiters still catch up on their next poll because
// delivery always re-reads the backlog.
const notifyBuffer = 1024

// Options configures the in-memory backend.
type Options struct {
	// DefaultBacklogSize bounds each channel backlog unless a publish
	// overrides it.
	DefaultBacklogSize int
	// GlobalBacklogSize bounds the cross-channel backlog.
	GlobalBacklogSize int
}

type channelLog struct {
	lastID uint64
	msgs   []backend.Message
}

// Backend keeps all state in process memory.
type Backend struct {
	opts Options

	mu       sync.RWMutex
	closed   bool
	globalID uint64
	channels map[string]*channelLog
	global   []backend.Message

	notify chan backend.Message
}

var _ backend.Backend = (*Backend)(nil)

// New returns an empty in-memory backend.
func New(opts Options) *Backend {
	if opts.DefaultBacklogSize <= 0 {
		opts.DefaultBacklogSize = 1000
	}
	if opts.GlobalBacklogSize <= 0 {
		opts.GlobalBacklogSize = 2000
	}
	return &Backend{
		opts:     opts,
		channels: map[string]*channelLog{},
		notify:   make(chan backend.Message, notifyBuffer),
	}
}

// Publish assigns the next channel and global ids, appends to both backlogs,
// trims them, and queues a wake-up notification.
func (b *Backend) Publish(_ context.Context, channel string, data []byte, opts backend.PublishOptions) (backend.Message, error) {
	maxSize := opts.MaxBacklogSize
	if maxSize <= 0 {
		maxSize = b.opts.DefaultBacklogSize
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return backend.Message{}, backend.ErrUnavailable
	}
	cl := b.channels[channel]
	if cl == nil {
		cl = &channelLog{}
		b.channels[channel] = cl
	}
	b.globalID++
	cl.lastID++
	msg := backend.Message{
		GlobalID:  b.globalID,
		ChannelID: cl.lastID,
		Channel:   channel,
		Data:      append([]byte(nil), data...),
		ClientIDs: opts.ClientIDs,
		UserIDs:   opts.UserIDs,
	}
	cl.msgs = append(cl.msgs, msg)
	if len(cl.msgs) > maxSize {
		cl.msgs = append(cl.msgs[:0:0], cl.msgs[len(cl.msgs)-maxSize:]...)
	}
	b.global = append(b.global, msg)
	if len(b.global) > b.opts.GlobalBacklogSize {
		b.global = append(b.global[:0:0], b.global[len(b.global)-b.opts.GlobalBacklogSize:]...)
	}
	b.mu.Unlock()

	select {
	case b.notify <- msg:
	default:
		// Queue full: shed the oldest wake-up, keep the newest.
		select {
		case <-b.notify:
		default:
		}
		select {
		case b.notify <- msg:
		default:
		}
	}
	return msg, nil
}

// Backlog returns retained messages with ChannelID > sinceID, oldest first.
func (b *Backend) Backlog(_ context.Context, channel string, sinceID uint64) ([]backend.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cl := b.channels[channel]
	if cl == nil || len(cl.msgs) == 0 {
		return nil, nil
	}
	// Retained ids are contiguous, so the slice offset is computable.
	first := cl.msgs[0].ChannelID
	if sinceID < first {
		return append([]backend.Message(nil), cl.msgs...), nil
	}
	offset := sinceID - first + 1
	if offset >= uint64(len(cl.msgs)) {
		return nil, nil
	}
	return append([]backend.Message(nil), cl.msgs[offset:]...), nil
}

// GlobalBacklog returns retained messages across channels with GlobalID >
// sinceID, oldest first.
func (b *Backend) GlobalBacklog(_ context.Context, sinceID uint64) ([]backend.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []backend.Message
	for _, m := range b.global {
		if m.GlobalID > sinceID {
			out = append(out, m)
		}
	}
	return out, nil
}

// LastID returns the latest assigned channel id.
func (b *Backend) LastID(_ context.Context, channel string) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if cl := b.channels[channel]; cl != nil {
		return cl.lastID, nil
	}
	return 0, nil
}

// GlobalLastID returns the latest assigned global id.
func (b *Backend) GlobalLastID(_ context.Context) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.globalID, nil
}

// Notifications returns the wake-up stream.
func (b *Backend) Notifications() <-chan backend.Message { return b.notify }

// Reset discards all messages and counters.
func (b *Backend) Reset(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("memory: backend closed")
	}
	b.globalID = 0
	b.channels = map[string]*channelLog{}
	b.global = nil
	return nil
}

// Close marks the backend closed. Subsequent publishes fail.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
