package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/relaybus/relay/internal/backend"
	logpkg "github.com/relaybus/relay/pkg/log"
)

// StatusChannel is a virtual channel: a poll that includes it is answered
// immediately with a message mapping each other requested channel to its
// latest id, letting clients start "from now" without replaying history.
const StatusChannel = "/__status"

// ErrEmptyChannel rejects publishes without a channel name.
var ErrEmptyChannel = errors.New("bus: channel name required")

// Options tunes the bus core.
type Options struct {
	// PollTimeout bounds how long a poll with no pending messages is held
	// open. Kept below typical proxy idle timeouts.
	PollTimeout time.Duration
}

// PollRequest describes one long-poll: who is asking and the last seen id
// per channel.
type PollRequest struct {
	ClientID string
	Ident    Identity
	Channels map[string]uint64
}

// Bus glues the backend, channel registry, subscriber index, and dispatcher
// together. Construct once at process start and share; all methods are safe
// for concurrent use.
type Bus struct {
	be     backend.Backend
	reg    *Registry
	idx    *subscriberIndex
	opts   Options
	logger logpkg.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New starts the dispatcher and returns a ready bus.
func New(be backend.Backend, logger logpkg.Logger, opts Options) *Bus {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 25 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		be:     be,
		reg:    NewRegistry(0),
		idx:    newSubscriberIndex(),
		opts:   opts,
		logger: logger.WithComponent("bus"),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go b.run(ctx)
	return b
}

// Registry exposes channel configuration to the host application.
func (b *Bus) Registry() *Registry { return b.reg }

// Publish stores a message on a channel and wakes matching waiters. The
// channel's configured backlog bound applies unless opts overrides it.
// Backend failures are returned as-is: the caller decides retry-or-drop,
// and the bus never retries inline on the publish path.
func (b *Bus) Publish(ctx context.Context, channel string, data []byte, opts backend.PublishOptions) (backend.Message, error) {
	if channel == "" || channel == StatusChannel {
		return backend.Message{}, ErrEmptyChannel
	}
	if opts.MaxBacklogSize <= 0 {
		opts.MaxBacklogSize = b.reg.BacklogSize(channel)
	}
	msg, err := b.be.Publish(ctx, channel, data, opts)
	if err != nil {
		b.logger.Warn("publish failed", logpkg.Str("channel", channel), logpkg.Err(err))
		return backend.Message{}, err
	}
	return msg, nil
}

// Poll implements the long-poll contract: immediate catch-up when any
// requested channel has permitted messages past the client's cursor,
// otherwise WAITING until a matching publish, the timeout, or disconnect.
// A timeout returns an empty batch; disconnect returns the context error.
func (b *Bus) Poll(ctx context.Context, req PollRequest) ([]backend.Message, error) {
	cursors := make(map[string]uint64, len(req.Channels))
	statusRequested := false
	for ch, since := range req.Channels {
		if ch == StatusChannel {
			statusRequested = true
			continue
		}
		cursors[ch] = since
	}

	s := newSession(req.ClientID, req.Ident, cursors)
	batch, err := b.fill(ctx, s)
	if err != nil {
		// Degrade to an empty response; the client's next poll retries.
		b.logger.Warn("backlog read failed", logpkg.Err(err))
		return []backend.Message{}, nil
	}
	if statusRequested {
		if status, err := b.statusMessage(ctx, cursors); err == nil {
			batch = append(batch, status)
		}
		return batch, nil
	}
	if len(batch) > 0 || len(cursors) == 0 {
		return batch, nil
	}

	s.wait()
	b.idx.add(s)
	defer b.idx.remove(s)

	// A publish between the catch-up read above and the index registration
	// would have found no waiter to wake. Re-read once now that the session
	// is registered; anything that slipped through is delivered here.
	if batch, err := b.fill(ctx, s); err == nil && len(batch) > 0 {
		if s.tryDeliver(batch) {
			return <-s.out, nil
		}
	}

	timer := time.NewTimer(b.opts.PollTimeout)
	defer timer.Stop()

	select {
	case delivered := <-s.out:
		return delivered, nil
	case <-timer.C:
		if s.tryTimeout() {
			return []backend.Message{}, nil
		}
		// A delivery won the race; the slot is already filled.
		return <-s.out, nil
	case <-ctx.Done():
		s.close()
		return nil, ctx.Err()
	}
}

// fill computes the coalesced catch-up batch for every channel the session
// polls, applying permission, filter, and targeting checks. Messages are
// ordered by ascending channel id within each channel; the overall batch is
// sorted by global id for a stable presentation order.
func (b *Bus) fill(ctx context.Context, s *session) ([]backend.Message, error) {
	var batch []backend.Message
	for ch, since := range s.cursors {
		msgs, err := b.be.Backlog(ctx, ch, since)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			if !m.TargetsClient(s.clientID) || !m.TargetsUser(s.ident.UserID, s.ident.HasUser) {
				continue
			}
			if !b.reg.permits(s.ident, m) {
				continue
			}
			batch = append(batch, m)
		}
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].GlobalID < batch[j].GlobalID })
	return batch, nil
}

// statusMessage reports the latest id of every requested channel.
func (b *Bus) statusMessage(ctx context.Context, cursors map[string]uint64) (backend.Message, error) {
	status := make(map[string]uint64, len(cursors))
	for ch := range cursors {
		id, err := b.be.LastID(ctx, ch)
		if err != nil {
			return backend.Message{}, err
		}
		status[ch] = id
	}
	data, err := json.Marshal(status)
	if err != nil {
		return backend.Message{}, err
	}
	return backend.Message{Channel: StatusChannel, Data: data}, nil
}

// run drains the backend notification stream and dispatches wake-ups. The
// stream carries local publishes and, for shared stores, publishes from
// other processes.
func (b *Bus) run(ctx context.Context) {
	defer close(b.done)
	notifications := b.be.Notifications()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-notifications:
			b.dispatch(ctx, msg)
		}
	}
}

// dispatch wakes sessions waiting on the published channel. Delivery
// re-reads the backlog since each session's cursors instead of trusting the
// pushed payload, which makes duplicate wake-ups harmless and batches
// near-simultaneous publishes across a session's channels into one response.
func (b *Bus) dispatch(ctx context.Context, msg backend.Message) {
	for _, s := range b.idx.lookup(msg.Channel) {
		if !s.waiting() {
			continue
		}
		if !msg.TargetsClient(s.clientID) || !msg.TargetsUser(s.ident.UserID, s.ident.HasUser) {
			continue
		}
		if !b.reg.permits(s.ident, msg) {
			continue
		}
		batch, err := b.fill(ctx, s)
		if err != nil || len(batch) == 0 {
			continue
		}
		if s.tryDeliver(batch) {
			b.idx.remove(s)
		}
	}
}

// LastID returns the latest assigned id for a channel.
func (b *Bus) LastID(ctx context.Context, channel string) (uint64, error) {
	return b.be.LastID(ctx, channel)
}

// Backlog exposes a channel's retained history; diagnostics and catch-up
// tooling use it directly.
func (b *Bus) Backlog(ctx context.Context, channel string, sinceID uint64) ([]backend.Message, error) {
	return b.be.Backlog(ctx, channel, sinceID)
}

// GlobalBacklog exposes the cross-channel history ordered by global id.
func (b *Bus) GlobalBacklog(ctx context.Context, sinceID uint64) ([]backend.Message, error) {
	return b.be.GlobalBacklog(ctx, sinceID)
}

// WaitingOn reports how many sessions currently wait on a channel.
func (b *Bus) WaitingOn(channel string) int { return b.idx.count(channel) }

// Close stops the dispatcher. The backend is owned by the caller and closed
// separately.
func (b *Bus) Close() {
	b.cancel()
	<-b.done
}
