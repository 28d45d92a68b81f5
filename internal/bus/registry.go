package bus

import (
	"sync"

	"github.com/relaybus/relay/internal/backend"
)

// Identity is the authenticated caller of a poll, supplied by the host
// application at the transport boundary.
type Identity struct {
	UserID  int64
	HasUser bool
}

// PermissionFunc decides whether a message may be delivered to an identity.
type PermissionFunc func(ident Identity, msg backend.Message) bool

// ChannelOptions carries per-channel configuration overrides.
type ChannelOptions struct {
	// BacklogSize overrides the default retained history bound.
	BacklogSize int
	// Allowed filters deliveries; nil allows everyone.
	Allowed PermissionFunc
	// FilterExpr is an optional CEL expression evaluated per delivery with
	// the variables channel, channel_id, global_id, user_id, has_user, text
	// and json. A non-true result suppresses delivery.
	FilterExpr string
}

// channelConfig is the resolved configuration for one channel.
type channelConfig struct {
	backlogSize int
	allowed     PermissionFunc
	filter      celFilter
}

// Registry maps channel names to configuration. It is process-local:
// it holds only callbacks and bounds, never message data. Channels are
// created lazily with defaults on first use.
type Registry struct {
	mu             sync.RWMutex
	channels       map[string]*channelConfig
	defaultBacklog int
}

// NewRegistry returns a registry handing out defaultBacklog-sized channels.
func NewRegistry(defaultBacklog int) *Registry {
	if defaultBacklog <= 0 {
		defaultBacklog = 1000
	}
	return &Registry{channels: map[string]*channelConfig{}, defaultBacklog: defaultBacklog}
}

// Configure registers or replaces a channel's configuration. The CEL filter
// expression, if any, is compiled here so publish/poll paths never pay
// compilation cost.
func (r *Registry) Configure(name string, opts ChannelOptions) error {
	filter, err := newCELFilter(opts.FilterExpr)
	if err != nil {
		return err
	}
	size := opts.BacklogSize
	if size <= 0 {
		size = r.defaultBacklog
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[name] = &channelConfig{backlogSize: size, allowed: opts.Allowed, filter: filter}
	return nil
}

// config returns the channel's configuration, creating defaults lazily.
func (r *Registry) config(name string) *channelConfig {
	r.mu.RLock()
	c := r.channels[name]
	r.mu.RUnlock()
	if c != nil {
		return c
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c = r.channels[name]; c != nil {
		return c
	}
	c = &channelConfig{backlogSize: r.defaultBacklog}
	r.channels[name] = c
	return c
}

// BacklogSize returns the retained history bound for a channel.
func (r *Registry) BacklogSize(name string) int {
	return r.config(name).backlogSize
}

// permits evaluates the channel permission predicate and CEL filter. Denied
// messages are silently filtered, never surfaced as errors.
func (r *Registry) permits(ident Identity, msg backend.Message) bool {
	c := r.config(msg.Channel)
	if c.allowed != nil && !c.allowed(ident, msg) {
		return false
	}
	return c.filter.Eval(ident, msg)
}
