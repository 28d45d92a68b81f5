package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/relaybus/relay/internal/backend"
)

const notifyBuffer = 1024

// publishScript atomically reserves ids, appends to both backlogs, trims
// them, and broadcasts the wake-up. KEYS: global id, channel id, channel
// backlog, global backlog. ARGV: message JSON (ids zeroed), channel backlog
// bound, global backlog bound, notify channel name.
var publishScript = goredis.NewScript(`
local global_id = redis.call('INCR', KEYS[1])
local channel_id = redis.call('INCR', KEYS[2])
local msg = cjson.decode(ARGV[1])
msg['global_id'] = global_id
msg['channel_id'] = channel_id
local encoded = cjson.encode(msg)
redis.call('RPUSH', KEYS[3], encoded)
redis.call('LTRIM', KEYS[3], -tonumber(ARGV[2]), -1)
redis.call('RPUSH', KEYS[4], encoded)
redis.call('LTRIM', KEYS[4], -tonumber(ARGV[3]), -1)
redis.call('PUBLISH', ARGV[4], encoded)
return {global_id, channel_id}
`)

// Options configures the shared-store backend.
type Options struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces all relay keys in a shared instance.
	KeyPrefix string
	// DefaultBacklogSize bounds each channel backlog unless a publish
	// overrides it.
	DefaultBacklogSize int
	// GlobalBacklogSize bounds the cross-channel backlog.
	GlobalBacklogSize int
}

// Backend stores counters and backlogs in Redis.
type Backend struct {
	client *goredis.Client
	opts   Options

	notify chan backend.Message

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	pubsub *goredis.PubSub
	done   chan struct{}
}

var _ backend.Backend = (*Backend)(nil)

// Open connects to Redis and starts the cross-process listener.
func Open(opts Options) (*Backend, error) {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "relay"
	}
	if opts.DefaultBacklogSize <= 0 {
		opts.DefaultBacklogSize = 1000
	}
	if opts.GlobalBacklogSize <= 0 {
		opts.GlobalBacklogSize = 2000
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Backend{
		client: client,
		opts:   opts,
		notify: make(chan backend.Message, notifyBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	b.pubsub = client.Subscribe(ctx, b.notifyKey())
	go b.listen(ctx)
	return b, nil
}

func (b *Backend) globalIDKey() string      { return b.opts.KeyPrefix + ":global:id" }
func (b *Backend) globalBacklogKey() string { return b.opts.KeyPrefix + ":global:backlog" }
func (b *Backend) notifyKey() string        { return b.opts.KeyPrefix + ":notify" }
func (b *Backend) channelIDKey(c string) string {
	return b.opts.KeyPrefix + ":channel:" + c + ":id"
}
func (b *Backend) channelBacklogKey(c string) string {
	return b.opts.KeyPrefix + ":channel:" + c + ":backlog"
}

// listen pumps Redis pub/sub into the local notification stream.
func (b *Backend) listen(ctx context.Context) {
	defer close(b.done)
	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			msg, err := backend.DecodeMessage([]byte(m.Payload))
			if err != nil {
				continue
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
		}
	}
}

// Publish runs the atomic publish script and returns the stored message.
func (b *Backend) Publish(ctx context.Context, channel string, data []byte, opts backend.PublishOptions) (backend.Message, error) {
	maxSize := b.opts.DefaultBacklogSize
	if opts.MaxBacklogSize > 0 {
		maxSize = opts.MaxBacklogSize
	}
	msg := backend.Message{
		Channel:   channel,
		Data:      append([]byte(nil), data...),
		ClientIDs: opts.ClientIDs,
		UserIDs:   opts.UserIDs,
	}
	encoded, err := msg.Encode()
	if err != nil {
		return backend.Message{}, err
	}
	keys := []string{
		b.globalIDKey(),
		b.channelIDKey(channel),
		b.channelBacklogKey(channel),
		b.globalBacklogKey(),
	}
	res, err := publishScript.Run(ctx, b.client, keys,
		string(encoded), maxSize, b.opts.GlobalBacklogSize, b.notifyKey()).Result()
	if err != nil {
		return backend.Message{}, fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
	}
	ids, ok := res.([]interface{})
	if !ok || len(ids) != 2 {
		return backend.Message{}, fmt.Errorf("redis: unexpected script result %T", res)
	}
	globalID, ok1 := ids[0].(int64)
	channelID, ok2 := ids[1].(int64)
	if !ok1 || !ok2 {
		return backend.Message{}, fmt.Errorf("redis: unexpected id types %T/%T", ids[0], ids[1])
	}
	msg.GlobalID = uint64(globalID)
	msg.ChannelID = uint64(channelID)
	return msg, nil
}

func (b *Backend) readBacklog(ctx context.Context, key string, since uint64, global bool) ([]backend.Message, error) {
	entries, err := b.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
	}
	var out []backend.Message
	for _, e := range entries {
		m, err := backend.DecodeMessage([]byte(e))
		if err != nil {
			continue
		}
		id := m.ChannelID
		if global {
			id = m.GlobalID
		}
		if id > since {
			out = append(out, m)
		}
	}
	return out, nil
}

// Backlog returns retained messages with ChannelID > sinceID, oldest first.
func (b *Backend) Backlog(ctx context.Context, channel string, sinceID uint64) ([]backend.Message, error) {
	return b.readBacklog(ctx, b.channelBacklogKey(channel), sinceID, false)
}

// GlobalBacklog returns retained messages across channels with GlobalID >
// sinceID, oldest first.
func (b *Backend) GlobalBacklog(ctx context.Context, sinceID uint64) ([]backend.Message, error) {
	return b.readBacklog(ctx, b.globalBacklogKey(), sinceID, true)
}

func (b *Backend) counter(ctx context.Context, key string) (uint64, error) {
	v, err := b.client.Get(ctx, key).Result()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// LastID returns the latest assigned channel id.
func (b *Backend) LastID(ctx context.Context, channel string) (uint64, error) {
	return b.counter(ctx, b.channelIDKey(channel))
}

// GlobalLastID returns the latest assigned global id.
func (b *Backend) GlobalLastID(ctx context.Context) (uint64, error) {
	return b.counter(ctx, b.globalIDKey())
}

// Notifications returns the wake-up stream, including messages published by
// other processes.
func (b *Backend) Notifications() <-chan backend.Message { return b.notify }

// Reset deletes every relay key under the configured prefix.
func (b *Backend) Reset(ctx context.Context) error {
	iter := b.client.Scan(ctx, 0, b.opts.KeyPrefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		if err := b.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
	}
	return nil
}

// Close stops the listener and releases the client.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	_ = b.pubsub.Close()
	<-b.done
	return b.client.Close()
}
