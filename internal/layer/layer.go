// Package layer defines the channel-layer contract shared by every
// backend (in-memory, Redis queue, Redis pub/sub): channel lifecycle,
// group membership, and the BaseLayer skeleton that validates names and
// resolves capacity overrides so each backend only implements its own
// storage and transport.
package layer

import (
	"context"
	"errors"
	"log"
	"path/filepath"
	"time"

	"github.com/relaybus/channels/internal/naming"
)

// Sentinel errors shared by every layer implementation.
var (
	// ErrChannelFull is returned by Send when the target channel's inbox
	// is at capacity.
	ErrChannelFull = errors.New("layer: channel full")
	// ErrInvalidName is returned when a channel or group name fails
	// validation.
	ErrInvalidName = naming.ErrInvalidName
	// ErrClosed is returned by operations attempted after Close.
	ErrClosed = errors.New("layer: closed")
)

// Message is the payload layers move between channels. It must contain at
// least a "type" key per spec.md §3, but the layer itself is agnostic to
// the remaining keys.
type Message map[string]any

// TypeOf extracts the dispatch type from a message, returning "" if absent
// or not a string.
func (m Message) TypeOf() string {
	t, _ := m["type"].(string)
	return t
}

// CapacityOverride maps a glob pattern over channel names to a capacity
// bound. ChannelCapacity resolves overrides in list order; the first
// pattern that matches wins (see DESIGN.md, Open Questions §1).
type CapacityOverride struct {
	Pattern  string
	Capacity int
}

// Config holds the parameters common to every layer backend.
type Config struct {
	// Prefix namespaces keys/channels in the underlying transport.
	Prefix string
	// Expiry is the message TTL in seconds, applied by the queue and
	// in-memory layers; the pub/sub layer ignores it.
	Expiry int
	// GroupExpiry is the group-membership TTL in seconds.
	GroupExpiry int
	// Capacity is the default per-channel inbox bound.
	Capacity int
	// ChannelCapacity is an ordered list of glob-to-capacity overrides.
	ChannelCapacity []CapacityOverride
	// Logger receives the layer's INFO/WARN/ERROR lines (dropped
	// messages, failover rebinds). Defaults to log.Default() when nil.
	Logger *log.Logger
}

// DefaultConfig returns the documented defaults from spec.md §4.3/§6.
func DefaultConfig() Config {
	return Config{
		Prefix:      "asgi",
		Expiry:      60,
		GroupExpiry: 86400,
		Capacity:    100,
	}
}

// Layer is the operation surface every channel-layer backend exposes.
type Layer interface {
	// NewChannel returns a fresh, unused channel name owned by this layer.
	NewChannel(ctx context.Context, prefix string) (string, error)
	// Send enqueues message for channel. Returns ErrChannelFull if the
	// inbox is saturated; succeeds silently if channel is unknown.
	Send(ctx context.Context, channel string, message Message) error
	// Receive suspends until a non-expired message is available for
	// channel, returning exactly one.
	Receive(ctx context.Context, channel string) (Message, error)
	// GroupAdd idempotently adds channel to group.
	GroupAdd(ctx context.Context, group, channel string) error
	// GroupDiscard idempotently removes channel from group.
	GroupDiscard(ctx context.Context, group, channel string) error
	// GroupSend fans message out to every current member of group.
	// Per-recipient ErrChannelFull is swallowed, not returned.
	GroupSend(ctx context.Context, group string, message Message) error
	// Flush discards all state. Testing only.
	Flush(ctx context.Context) error
	// Close releases transport resources.
	Close() error
}

// BaseLayer implements the name-validation and capacity-resolution
// boilerplate shared by every backend. Backends embed it and call its
// helpers from their own Send/NewChannel implementations.
type BaseLayer struct {
	Config Config
}

// NewBaseLayer constructs a BaseLayer, filling unset fields with the
// documented defaults.
func NewBaseLayer(cfg Config) BaseLayer {
	d := DefaultConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = d.Prefix
	}
	if cfg.Expiry == 0 {
		cfg.Expiry = d.Expiry
	}
	if cfg.GroupExpiry == 0 {
		cfg.GroupExpiry = d.GroupExpiry
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = d.Capacity
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return BaseLayer{Config: cfg}
}

// Logger returns the configured logger, never nil once NewBaseLayer has
// run.
func (b BaseLayer) Logger() *log.Logger {
	return b.Config.Logger
}

// ValidateChannelName reports whether name is valid for this layer.
func (b BaseLayer) ValidateChannelName(name string, requireClientPrefix bool) bool {
	return naming.ValidChannelName(name, requireClientPrefix)
}

// ValidateGroupName reports whether name is valid for this layer.
func (b BaseLayer) ValidateGroupName(name string) bool {
	return naming.ValidGroupName(name)
}

// NewChannelName generates a fresh channel name under this layer's prefix
// convention. An empty prefix defaults to "specific".
func (b BaseLayer) NewChannelName(prefix string) (string, error) {
	if prefix == "" {
		prefix = "specific"
	}
	return naming.NewChannelName(prefix)
}

// ResolveCapacity returns the inbox capacity that applies to channel:
// the first matching glob override in Config.ChannelCapacity order, or
// the layer's default Capacity if none match.
func (b BaseLayer) ResolveCapacity(channel string) int {
	for _, o := range b.Config.ChannelCapacity {
		if ok, _ := filepath.Match(o.Pattern, channel); ok {
			return o.Capacity
		}
	}
	return b.Config.Capacity
}

// ExpiryDuration returns Config.Expiry as a time.Duration.
func (b BaseLayer) ExpiryDuration() time.Duration {
	return time.Duration(b.Config.Expiry) * time.Second
}

// GroupExpiryDuration returns Config.GroupExpiry as a time.Duration.
func (b BaseLayer) GroupExpiryDuration() time.Duration {
	return time.Duration(b.Config.GroupExpiry) * time.Second
}
