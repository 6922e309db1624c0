// Package rediqueue implements the reliable Redis channel layer backend
// (spec.md §4.5): bounded Redis lists for per-channel inboxes, a
// sorted-set per group for membership with insertion-timestamp expiry,
// and rendezvous hashing across one or more Redis hosts so the same
// channel always lands on the same shard.
//
// Grounded on bus/go/internal/bus/bus.go's EventBus (single-responsibility
// wrapper around a redis.Client, Lua-free because streams don't need
// atomic bounded pushes) generalized with the Lua bounded-push and
// sorted-set-reap pattern from the retrieval pack's centrifugo Redis
// engine (engineredis/engine.go), which solves the identical "bounded
// list with TTL" and "aging sorted-set membership" problems for presence
// and history.
package rediqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/relaybus/channels/internal/layer"
	"github.com/relaybus/channels/internal/layer/sentinel"
	"github.com/relaybus/channels/internal/naming"
	"github.com/relaybus/channels/internal/wire"
)

// Config configures a Layer. Hosts must contain at least one descriptor;
// with more than one, channels and groups are sharded across them by
// rendezvous hashing so adding or removing a host only reshuffles the
// minimal share of keys.
type Config struct {
	layer.Config

	Hosts []sentinel.HostDescriptor

	// BlockTimeout bounds each BLPOP call; Receive loops across calls
	// until ctx is done, so this only controls responsiveness to
	// cancellation, not overall receive latency. Defaults to 5s.
	BlockTimeout time.Duration

	// DedupRingSize bounds the per-channel recently-seen-id set used to
	// drop duplicate deliveries. Defaults to 64.
	DedupRingSize int

	// SymmetricEncryptionKeys, when non-empty, encrypts every envelope
	// with the first key before writing it to Redis and tries each key
	// in order on decrypt, so key rotation works by prepending the new
	// key ahead of the retiring one. Matches the
	// symmetric_encryption_keys config option (spec.md §6).
	SymmetricEncryptionKeys [][]byte

	// RetryAttempts bounds how many times in total a single Redis call is
	// attempted while it keeps failing with a failover error (READONLY /
	// connection-refused family) before the error is surfaced to the
	// caller. Defaults to 3.
	RetryAttempts int

	// RetryBackoff is the initial delay between retries, doubled after
	// each attempt. Defaults to 50ms.
	RetryBackoff time.Duration
}

// shard owns one Redis connection and the local dedup state for channels
// that hash to it. The connection is replaced in place on a detected
// failover, so every access goes through getClient/setClient rather than
// reading the field directly.
type shard struct {
	desc sentinel.HostDescriptor

	mu     sync.Mutex
	client *redis.Client
	rings  map[string]*seenRing
}

func newShard(desc sentinel.HostDescriptor) (*shard, error) {
	client, err := sentinel.Open(desc)
	if err != nil {
		return nil, err
	}
	return &shard{
		desc:   desc,
		client: client,
		rings:  make(map[string]*seenRing),
	}, nil
}

func (s *shard) getClient() *redis.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

func (s *shard) setClient(c *redis.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = c
}

func (s *shard) closeClient() error {
	return s.getClient().Close()
}

func (s *shard) ringFor(channel string, size int) *seenRing {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rings[channel]
	if !ok {
		r = newSeenRing(size)
		s.rings[channel] = r
	}
	return r
}

// Layer is the reliable Redis queue channel layer.
type Layer struct {
	layer.BaseLayer
	cfg Config

	shards []*shard
	ring   *rendezvous.Rendezvous
	byNode map[string]*shard
}

// New constructs a Layer from cfg, dialing every configured host eagerly
// so construction fails fast on a bad address rather than on first use.
func New(cfg Config) (*Layer, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("rediqueue: at least one host is required")
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.DedupRingSize <= 0 {
		cfg.DedupRingSize = 64
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 50 * time.Millisecond
	}

	l := &Layer{
		BaseLayer: layer.NewBaseLayer(cfg.Config),
		cfg:       cfg,
		byNode:    make(map[string]*shard),
	}

	nodes := make([]string, 0, len(cfg.Hosts))
	for i, desc := range cfg.Hosts {
		s, err := newShard(desc)
		if err != nil {
			l.closeShards()
			return nil, fmt.Errorf("rediqueue: host %d: %w", i, err)
		}
		node := fmt.Sprintf("shard-%d", i)
		l.shards = append(l.shards, s)
		l.byNode[node] = s
		nodes = append(nodes, node)
	}
	l.ring = rendezvous.New(nodes, hashNode)
	return l, nil
}

func hashNode(s string) uint64 {
	return xxhash.Sum64String(s)
}

func (l *Layer) closeShards() {
	for _, s := range l.shards {
		_ = s.closeClient()
	}
}

// do runs fn against s's current client, retrying with exponential
// backoff when fn fails with a failover error (READONLY / connection
// refused / timeout): it rebinds the shard to a freshly resolved master
// via sentinel.Reopen and retries, making at most cfg.RetryAttempts
// attempts in total, before surfacing the last error. Non-failover errors return immediately.
func (l *Layer) do(ctx context.Context, s *shard, fn func(*redis.Client) error) error {
	backoff := l.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt < l.cfg.RetryAttempts; attempt++ {
		client := s.getClient()
		err := fn(client)
		if err == nil {
			return nil
		}
		lastErr = err
		if !sentinel.IsFailoverError(err) {
			return err
		}
		l.Logger().Printf("WARN: rediqueue: failover error on shard, rebinding (attempt %d/%d): %v", attempt+1, l.cfg.RetryAttempts, err)
		fresh, reopenErr := sentinel.Reopen(ctx, client, s.desc)
		if reopenErr != nil {
			return fmt.Errorf("rediqueue: rebind after failover: %w", reopenErr)
		}
		s.setClient(fresh)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("rediqueue: retry budget exhausted: %w", lastErr)
}

func (l *Layer) shardFor(key string) *shard {
	if len(l.shards) == 1 {
		return l.shards[0]
	}
	node := l.ring.Lookup(key)
	return l.byNode[node]
}

// shardForChannel routes on the channel's non-local part, so a
// process-specific channel "chat!abcd1234" shards by "abcd1234" — stable
// regardless of which process name prefixed it.
func (l *Layer) shardForChannel(channel string) *shard {
	return l.shardFor(naming.NonLocalPart(channel))
}

func (l *Layer) specificKey(channel string) string {
	return fmt.Sprintf("%s:specific.%s", l.BaseLayer.Config.Prefix, channel)
}

func (l *Layer) groupKey(group string) string {
	return fmt.Sprintf("%s:group.%s", l.BaseLayer.Config.Prefix, group)
}

// NewChannel returns a fresh, process-local channel name. Identical to the
// in-memory layer's behavior: the actual sharding happens per-operation,
// not at name-creation time.
func (l *Layer) NewChannel(ctx context.Context, prefix string) (string, error) {
	return l.BaseLayer.NewChannelName(prefix)
}

// Send encodes message and pushes it onto channel's list, atomically
// enforcing the channel's capacity via boundedPush. When
// SymmetricEncryptionKeys is configured, the envelope is AES-GCM sealed
// under the first key before it ever reaches Redis.
func (l *Layer) Send(ctx context.Context, channel string, message layer.Message) error {
	if !l.ValidateChannelName(channel, false) {
		return layer.ErrInvalidName
	}

	payload, err := encodeEnvelope(message, l.cfg.SymmetricEncryptionKeys)
	if err != nil {
		return fmt.Errorf("rediqueue: send: %w", err)
	}

	s := l.shardForChannel(channel)
	capacity := l.ResolveCapacity(channel)

	var res int64
	err = l.do(ctx, s, func(c *redis.Client) error {
		r, err := boundedPush.Run(ctx, c, []string{l.specificKey(channel)},
			capacity, payload, int(l.ExpiryDuration().Seconds())).Int64()
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return fmt.Errorf("rediqueue: send: %w", err)
	}
	if res == 0 {
		return layer.ErrChannelFull
	}
	return nil
}

// Receive blocks until a message arrives on channel, ctx is canceled, or
// the layer is closed. Internally it loops BLPOP calls bounded by
// cfg.BlockTimeout so ctx cancellation is observed promptly, filtering out
// any duplicate ids via the shard's per-channel dedup ring. Each BLPOP is
// retried through do, so a mid-block failover rebinds the shard instead
// of surfacing the error on the first READONLY reply.
func (l *Layer) Receive(ctx context.Context, channel string) (layer.Message, error) {
	if !l.ValidateChannelName(channel, false) {
		return nil, layer.ErrInvalidName
	}

	s := l.shardForChannel(channel)
	ring := s.ringFor(channel, l.cfg.DedupRingSize)
	key := l.specificKey(channel)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var popped []string
		err := l.do(ctx, s, func(c *redis.Client) error {
			r, err := c.BLPop(ctx, l.cfg.BlockTimeout, key).Result()
			if err != nil {
				return err
			}
			popped = r
			return nil
		})
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("rediqueue: receive: %w", err)
		}

		// popped[0] is the key name, popped[1] the popped element.
		id, message, err := decodeEnvelope([]byte(popped[1]), l.cfg.SymmetricEncryptionKeys)
		if err != nil {
			return nil, fmt.Errorf("rediqueue: receive: %w", err)
		}
		if ring.seen(id) {
			continue
		}
		return message, nil
	}
}

// GroupAdd adds channel to group with the current time as its join score,
// used by GroupSend to age members out after the group's expiry.
func (l *Layer) GroupAdd(ctx context.Context, group, channel string) error {
	if !l.ValidateGroupName(group) {
		return layer.ErrInvalidName
	}
	if !l.ValidateChannelName(channel, false) {
		return layer.ErrInvalidName
	}
	s := l.shardFor(group)
	return l.do(ctx, s, func(c *redis.Client) error {
		return c.ZAdd(ctx, l.groupKey(group), redis.Z{
			Score:  float64(time.Now().Unix()),
			Member: channel,
		}).Err()
	})
}

// GroupDiscard removes channel from group. Removing a channel that was
// never a member is a no-op, matching the in-memory layer.
func (l *Layer) GroupDiscard(ctx context.Context, group, channel string) error {
	if !l.ValidateGroupName(group) {
		return layer.ErrInvalidName
	}
	s := l.shardFor(group)
	return l.do(ctx, s, func(c *redis.Client) error {
		return c.ZRem(ctx, l.groupKey(group), channel).Err()
	})
}

// GroupSend reaps expired members from group, then sends message to every
// surviving member, swallowing per-recipient layer.ErrChannelFull the same
// way the in-memory layer does: a full inbox drops the message for that
// one recipient without failing the whole fan-out.
func (l *Layer) GroupSend(ctx context.Context, group string, message layer.Message) error {
	if !l.ValidateGroupName(group) {
		return layer.ErrInvalidName
	}

	s := l.shardFor(group)
	cutoff := time.Now().Unix() - int64(l.GroupExpiryDuration().Seconds())
	var members []string
	err := l.do(ctx, s, func(c *redis.Client) error {
		m, err := reapGroup.Run(ctx, c, []string{l.groupKey(group)}, cutoff).StringSlice()
		if err != nil {
			return err
		}
		members = m
		return nil
	})
	if err != nil {
		return fmt.Errorf("rediqueue: group_send: %w", err)
	}

	for _, channel := range members {
		if err := l.Send(ctx, channel, message); err != nil {
			if err == layer.ErrChannelFull {
				l.Logger().Printf("INFO: group_send: dropped message for channel %q in group %q (channel full)", channel, group)
				continue
			}
			return fmt.Errorf("rediqueue: group_send: %w", err)
		}
	}
	return nil
}

// Flush deletes every key this layer created, scoped to its prefix, on
// every shard. For test fixtures only, per spec.
func (l *Layer) Flush(ctx context.Context) error {
	pattern := l.BaseLayer.Config.Prefix + ":*"
	for _, s := range l.shards {
		var keys []string
		err := l.do(ctx, s, func(c *redis.Client) error {
			keys = keys[:0]
			iter := c.Scan(ctx, 0, pattern, 1000).Iterator()
			for iter.Next(ctx) {
				keys = append(keys, iter.Val())
			}
			return iter.Err()
		})
		if err != nil {
			return fmt.Errorf("rediqueue: flush: %w", err)
		}
		if len(keys) == 0 {
			continue
		}
		if err := l.do(ctx, s, func(c *redis.Client) error {
			return c.Del(ctx, keys...).Err()
		}); err != nil {
			return fmt.Errorf("rediqueue: flush: %w", err)
		}
	}
	return nil
}

// Close releases every shard's Redis connection.
func (l *Layer) Close() error {
	var first error
	for _, s := range l.shards {
		if err := s.closeClient(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// encodeEnvelope prefixes message's wire encoding with a random id used for
// receive-side dedup, then, when keys is non-empty, AES-GCM seals the whole
// thing under keys[0] so newly written envelopes always carry the current
// key while decodeEnvelope still accepts anything retiring keys produced.
func encodeEnvelope(message layer.Message, keys [][]byte) ([]byte, error) {
	body, err := wire.Encode(message)
	if err != nil {
		return nil, err
	}
	id := uuid.New()
	out := make([]byte, 0, idLen+len(body))
	out = append(out, id[:idLen]...)
	out = append(out, body...)
	if len(keys) == 0 {
		return out, nil
	}
	sealed, err := wire.Encrypt(keys[0], out)
	if err != nil {
		return nil, fmt.Errorf("rediqueue: encrypt: %w", err)
	}
	return sealed, nil
}

const idLen = 8

// decodeEnvelope reverses encodeEnvelope. When keys is non-empty it first
// tries each key in order via wire.Decrypt, so a key added ahead of a
// retiring one lets in-flight envelopes sealed under the old key still
// decode during rotation.
func decodeEnvelope(raw []byte, keys [][]byte) (string, layer.Message, error) {
	if len(keys) > 0 {
		opened, err := wire.Decrypt(keys, raw)
		if err != nil {
			return "", nil, fmt.Errorf("rediqueue: decrypt: %w", err)
		}
		raw = opened
	}
	if len(raw) < idLen {
		return "", nil, fmt.Errorf("rediqueue: envelope shorter than id prefix")
	}
	id := string(raw[:idLen])
	decoded, err := wire.Decode(raw[idLen:])
	if err != nil {
		return "", nil, err
	}
	m, ok := decoded.(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("rediqueue: decoded payload is not a message map")
	}
	return id, layer.Message(m), nil
}
