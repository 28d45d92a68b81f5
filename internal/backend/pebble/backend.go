package pebble

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	cockroachpebble "github.com/cockroachdb/pebble"

	"github.com/relaybus/relay/internal/backend"
	pebblestore "github.com/relaybus/relay/internal/storage/pebble"
)

const notifyBuffer = 1024

// Options configures the durable backend.
type Options struct {
	// DataDir is the Pebble database directory.
	DataDir string
	// Fsync selects the WAL sync policy.
	Fsync pebblestore.FsyncMode
	// FsyncInterval applies when Fsync is FsyncModeInterval.
	FsyncInterval time.Duration
	// DefaultBacklogSize bounds each channel backlog unless a publish
	// overrides it.
	DefaultBacklogSize int
	// GlobalBacklogSize bounds the cross-channel backlog.
	GlobalBacklogSize int
}

// chanState caches a channel's counters loaded from its meta key.
type chanState struct {
	lastID uint64
	count  uint64
}

// Backend persists counters and backlogs in Pebble.
type Backend struct {
	db   *pebblestore.DB
	opts Options

	mu         sync.Mutex
	closed     bool
	lastGlobal uint64
	globalCnt  uint64
	channels   map[string]*chanState

	notify chan backend.Message
}

var _ backend.Backend = (*Backend)(nil)

// Open opens (or creates) the store and restores the global sequence.
func Open(opts Options) (*Backend, error) {
	if opts.DefaultBacklogSize <= 0 {
		opts.DefaultBacklogSize = 1000
	}
	if opts.GlobalBacklogSize <= 0 {
		opts.GlobalBacklogSize = 2000
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       opts.DataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
	})
	if err != nil {
		return nil, err
	}
	b := &Backend{
		db:       db,
		opts:     opts,
		channels: map[string]*chanState{},
		notify:   make(chan backend.Message, notifyBuffer),
	}
	if meta, err := db.Get(keyGlobalMeta()); err == nil && len(meta) >= 16 {
		b.lastGlobal = binary.BigEndian.Uint64(meta[:8])
		b.globalCnt = binary.BigEndian.Uint64(meta[8:16])
	}
	return b, nil
}

func encodeMeta(lastID, count uint64) []byte {
	var m [16]byte
	binary.BigEndian.PutUint64(m[:8], lastID)
	binary.BigEndian.PutUint64(m[8:], count)
	return m[:]
}

// channelState loads (and caches) a channel's counters. Caller holds b.mu.
func (b *Backend) channelState(channel string) *chanState {
	if cs := b.channels[channel]; cs != nil {
		return cs
	}
	cs := &chanState{}
	if meta, err := b.db.Get(keyChannelMeta(channel)); err == nil && len(meta) >= 16 {
		cs.lastID = binary.BigEndian.Uint64(meta[:8])
		cs.count = binary.BigEndian.Uint64(meta[8:16])
	}
	b.channels[channel] = cs
	return cs
}

// Publish reserves ids, appends to the channel and global backlogs, trims
// both to their bounds, and commits everything as one atomic batch.
func (b *Backend) Publish(ctx context.Context, channel string, data []byte, opts backend.PublishOptions) (backend.Message, error) {
	maxSize := uint64(b.opts.DefaultBacklogSize)
	if opts.MaxBacklogSize > 0 {
		maxSize = uint64(opts.MaxBacklogSize)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return backend.Message{}, backend.ErrUnavailable
	}
	cs := b.channelState(channel)

	batch := b.db.NewBatch()
	defer batch.Close()

	b.lastGlobal++
	cs.lastID++
	cs.count++
	b.globalCnt++
	msg := backend.Message{
		GlobalID:  b.lastGlobal,
		ChannelID: cs.lastID,
		Channel:   channel,
		Data:      append([]byte(nil), data...),
		ClientIDs: opts.ClientIDs,
		UserIDs:   opts.UserIDs,
	}
	rec, err := encodeMessage(msg)
	if err != nil {
		b.invalidate(channel)
		return backend.Message{}, err
	}
	if err := batch.Set(keyChannelEntry(channel, cs.lastID), rec, nil); err != nil {
		b.invalidate(channel)
		return backend.Message{}, err
	}
	if err := batch.Set(keyGlobalEntry(b.lastGlobal), rec, nil); err != nil {
		b.invalidate(channel)
		return backend.Message{}, err
	}

	// Synchronous count-based eviction, oldest first. The new entry lives in
	// the batch, so everything the iterator sees is older.
	if cs.count > maxSize {
		deleted, err := b.trimOldest(batch,
			keyChannelEntry(channel, 0), keyChannelEntry(channel, ^uint64(0)),
			cs.count-maxSize)
		if err != nil {
			b.invalidate(channel)
			return backend.Message{}, err
		}
		cs.count -= deleted
	}
	if b.globalCnt > uint64(b.opts.GlobalBacklogSize) {
		deleted, err := b.trimOldest(batch,
			keyGlobalEntry(0), keyGlobalEntry(^uint64(0)),
			b.globalCnt-uint64(b.opts.GlobalBacklogSize))
		if err != nil {
			b.invalidate(channel)
			return backend.Message{}, err
		}
		b.globalCnt -= deleted
	}

	if err := batch.Set(keyChannelMeta(channel), encodeMeta(cs.lastID, cs.count), nil); err != nil {
		b.invalidate(channel)
		return backend.Message{}, err
	}
	if err := batch.Set(keyGlobalMeta(), encodeMeta(b.lastGlobal, b.globalCnt), nil); err != nil {
		b.invalidate(channel)
		return backend.Message{}, err
	}
	if err := b.db.CommitBatch(ctx, batch); err != nil {
		b.invalidate(channel)
		return backend.Message{}, fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
	}

	select {
	case b.notify <- msg:
	default:
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

// invalidate drops cached counters so the next operation reloads them from
// disk after a failed write. Caller holds b.mu.
func (b *Backend) invalidate(channel string) {
	delete(b.channels, channel)
	if meta, err := b.db.Get(keyGlobalMeta()); err == nil && len(meta) >= 16 {
		b.lastGlobal = binary.BigEndian.Uint64(meta[:8])
		b.globalCnt = binary.BigEndian.Uint64(meta[8:16])
	}
}

// trimOldest stages deletes for the oldest toDelete entries in [low, hi].
func (b *Backend) trimOldest(batch *cockroachpebble.Batch, low, hi []byte, toDelete uint64) (uint64, error) {
	iter, err := b.db.NewIter(&cockroachpebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	var deleted uint64
	for ok := iter.First(); ok && deleted < toDelete; ok = iter.Next() {
		if err := batch.Delete(iter.Key(), nil); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// scanRange reads and decodes all records in [low, hi]. A non-empty channel
// restricts the result to records stamped with that channel, so the scan never
// returns another channel's entries even if key ranges were to overlap.
func (b *Backend) scanRange(low, hi []byte, channel string) ([]backend.Message, error) {
	iter, err := b.db.NewIter(&cockroachpebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []backend.Message
	for ok := iter.First(); ok; ok = iter.Next() {
		m, ok := decodeMessage(iter.Value())
		if !ok {
			continue
		}
		if channel != "" && m.Channel != channel {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Backlog returns retained messages with ChannelID > sinceID, oldest first.
func (b *Backend) Backlog(_ context.Context, channel string, sinceID uint64) ([]backend.Message, error) {
	if sinceID == ^uint64(0) {
		return nil, nil
	}
	return b.scanRange(keyChannelEntry(channel, sinceID+1), keyChannelEntry(channel, ^uint64(0)), channel)
}

// GlobalBacklog returns retained messages across channels with GlobalID >
// sinceID, oldest first.
func (b *Backend) GlobalBacklog(_ context.Context, sinceID uint64) ([]backend.Message, error) {
	if sinceID == ^uint64(0) {
		return nil, nil
	}
	return b.scanRange(keyGlobalEntry(sinceID+1), keyGlobalEntry(^uint64(0)), "")
}

// LastID returns the latest assigned channel id.
func (b *Backend) LastID(_ context.Context, channel string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channelState(channel).lastID, nil
}

// GlobalLastID returns the latest assigned global id.
func (b *Backend) GlobalLastID(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastGlobal, nil
}

// Notifications returns the wake-up stream.
func (b *Backend) Notifications() <-chan backend.Message { return b.notify }

// Reset deletes all keys and zeroes counters.
func (b *Backend) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("pebble: backend closed")
	}
	iter, err := b.db.NewIter(nil)
	if err != nil {
		return err
	}
	batch := b.db.NewBatch()
	defer batch.Close()
	for ok := iter.First(); ok; ok = iter.Next() {
		if err := batch.Delete(iter.Key(), nil); err != nil {
			iter.Close()
			return err
		}
	}
	iter.Close()
	if err := b.db.CommitBatch(ctx, batch); err != nil {
		return err
	}
	b.lastGlobal = 0
	b.globalCnt = 0
	b.channels = map[string]*chanState{}
	return nil
}

// Close releases the underlying store.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}
