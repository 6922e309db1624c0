// Package redispubsub implements the low-latency channel layer backend
// (spec.md §4.6): Redis PUB/SUB instead of durable lists. Delivery is
// best-effort — a message published while nobody is subscribed is lost —
// trading the reliable layer's durability for lower latency and no
// polling.
//
// Grounded on other_examples' overleaf-go channelManager.go (single
// *redis.PubSub per connection, dedicated dispatch goroutine, exponential
// backoff reconnect-and-resubscribe loop) ported from go-redis/v8's
// UniversalClient to this repo's go-redis/v9 *redis.Client, and on the
// retrieval pack's centrifugo engineredis worker-pool dispatch of
// incoming frames, scaled down to this package's per-local-channel
// inboxes.
package redispubsub

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
	"github.com/redis/go-redis/v9"

	"github.com/relaybus/channels/internal/layer"
	"github.com/relaybus/channels/internal/layer/sentinel"
	"github.com/relaybus/channels/internal/naming"
	"github.com/relaybus/channels/internal/wire"
)

// Config configures a Layer.
type Config struct {
	layer.Config

	Hosts []sentinel.HostDescriptor
}

// Layer is the Redis pub/sub channel layer. Specific-channel subscriptions
// persist for the life of the Layer (the Layer interface has no per-channel
// teardown operation); group subscriptions are ref-counted and released
// by GroupDiscard.
type Layer struct {
	layer.BaseLayer
	cfg Config

	shards []*shard
	ring   *rendezvous.Rendezvous
	byNode map[string]*shard
}

// New constructs a Layer and starts one dispatch goroutine per shard.
func New(cfg Config) (*Layer, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("redispubsub: at least one host is required")
	}

	l := &Layer{
		BaseLayer: layer.NewBaseLayer(cfg.Config),
		cfg:       cfg,
		byNode:    make(map[string]*shard),
	}

	nodes := make([]string, 0, len(cfg.Hosts))
	for i, desc := range cfg.Hosts {
		s, err := newShard(desc, l.BaseLayer.Config.Prefix)
		if err != nil {
			l.closeShards()
			return nil, fmt.Errorf("redispubsub: host %d: %w", i, err)
		}
		node := fmt.Sprintf("shard-%d", i)
		l.shards = append(l.shards, s)
		l.byNode[node] = s
		nodes = append(nodes, node)
	}
	l.ring = rendezvous.New(nodes, func(s string) uint64 { return xxhash.Sum64String(s) })
	return l, nil
}

func (l *Layer) closeShards() {
	for _, s := range l.shards {
		s.close()
	}
}

func (l *Layer) shardFor(key string) *shard {
	if len(l.shards) == 1 {
		return l.shards[0]
	}
	return l.byNode[l.ring.Lookup(key)]
}

func (l *Layer) shardForChannel(channel string) *shard {
	return l.shardFor(naming.NonLocalPart(channel))
}

// NewChannel returns a fresh, process-local channel name.
func (l *Layer) NewChannel(ctx context.Context, prefix string) (string, error) {
	return l.BaseLayer.NewChannelName(prefix)
}

// Send publishes message to channel. Because pub/sub delivery is
// asynchronous, Send cannot observe whether any subscriber's local inbox
// is full — it always succeeds once the PUBLISH itself succeeds.
func (l *Layer) Send(ctx context.Context, channel string, message layer.Message) error {
	if !l.ValidateChannelName(channel, false) {
		return layer.ErrInvalidName
	}
	body, err := wire.Encode(message)
	if err != nil {
		return fmt.Errorf("redispubsub: send: %w", err)
	}
	s := l.shardForChannel(channel)
	return s.client.Publish(ctx, s.specificKey(channel), body).Err()
}

// Receive subscribes to channel if this is the first call for it, then
// blocks until a message is delivered, ctx is canceled, or the layer is
// closed.
func (l *Layer) Receive(ctx context.Context, channel string) (layer.Message, error) {
	if !l.ValidateChannelName(channel, false) {
		return nil, layer.ErrInvalidName
	}
	s := l.shardForChannel(channel)
	ib, err := s.subscribeChannel(ctx, channel, l.ResolveCapacity(channel))
	if err != nil {
		return nil, fmt.Errorf("redispubsub: receive: %w", err)
	}
	return waitForMessage(ctx, ib)
}

// GroupAdd subscribes this shard (ref-counted) to group's pub/sub channel
// and records channel as a local member, so an incoming group publish gets
// fanned into channel's inbox.
func (l *Layer) GroupAdd(ctx context.Context, group, channel string) error {
	if !l.ValidateGroupName(group) {
		return layer.ErrInvalidName
	}
	if !l.ValidateChannelName(channel, false) {
		return layer.ErrInvalidName
	}
	s := l.shardFor(group)
	// Receive reads from the inbox on the channel's own shard; register
	// that same inbox on the group's shard so group frames land in it.
	cs := l.shardForChannel(channel)
	cs.mu.Lock()
	ib, ok := cs.inboxes[channel]
	if !ok {
		ib = newInbox(l.ResolveCapacity(channel))
		cs.inboxes[channel] = ib
	}
	cs.mu.Unlock()
	s.mu.Lock()
	if _, ok := s.inboxes[channel]; !ok {
		s.inboxes[channel] = ib
	}
	s.mu.Unlock()
	return s.joinGroup(ctx, group, channel, l.ResolveCapacity(channel))
}

// GroupDiscard removes channel from group's local membership, unsubscribing
// from the shard's pub/sub channel once no local member remains.
func (l *Layer) GroupDiscard(ctx context.Context, group, channel string) error {
	if !l.ValidateGroupName(group) {
		return layer.ErrInvalidName
	}
	s := l.shardFor(group)
	return s.leaveGroup(ctx, group, channel)
}

// GroupSend publishes message to group's pub/sub channel. Every process
// subscribed to that group (including this one) receives it and fans it
// out to its own locally-registered members.
func (l *Layer) GroupSend(ctx context.Context, group string, message layer.Message) error {
	if !l.ValidateGroupName(group) {
		return layer.ErrInvalidName
	}
	body, err := wire.Encode(message)
	if err != nil {
		return fmt.Errorf("redispubsub: group_send: %w", err)
	}
	s := l.shardFor(group)
	return s.client.Publish(ctx, s.groupKey(group), body).Err()
}

// Flush unsubscribes and drops all local state on every shard. Testing only.
func (l *Layer) Flush(ctx context.Context) error {
	for _, s := range l.shards {
		if err := s.flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close stops every shard's dispatch goroutine and releases its connection.
func (l *Layer) Close() error {
	var first error
	for _, s := range l.shards {
		if err := s.close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func waitForMessage(ctx context.Context, ib *inbox) (layer.Message, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ib.mu.Lock()
			ib.cond.Broadcast()
			ib.mu.Unlock()
		case <-done:
		}
	}()

	ib.mu.Lock()
	defer ib.mu.Unlock()
	for {
		ib.evictExpiredLocked()
		if front := ib.messages.Front(); front != nil {
			ent := ib.messages.Remove(front).(entry)
			return ent.message, nil
		}
		if ib.closed {
			return nil, layer.ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ib.cond.Wait()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// shard owns one Redis connection, its pub/sub subscription, and the
// local inboxes/group membership that connection's dispatch goroutine
// feeds.
type shard struct {
	prefix string
	client *redis.Client
	pubsub *redis.PubSub

	mu           sync.Mutex
	refCounts    map[string]int // pub/sub key -> subscriber count
	inboxes      map[string]*inbox
	groupMembers map[string]map[string]bool // group name -> local member channels
	closed       bool

	dispatchDone chan struct{}
}

func newShard(desc sentinel.HostDescriptor, prefix string) (*shard, error) {
	client, err := sentinel.Open(desc)
	if err != nil {
		return nil, err
	}
	s := &shard{
		prefix:       prefix,
		client:       client,
		pubsub:       client.Subscribe(context.Background()),
		refCounts:    make(map[string]int),
		inboxes:      make(map[string]*inbox),
		groupMembers: make(map[string]map[string]bool),
		dispatchDone: make(chan struct{}),
	}
	go s.dispatchLoop()
	return s, nil
}

func (s *shard) specificKey(channel string) string {
	return fmt.Sprintf("%s:specific.%s", s.prefix, channel)
}

func (s *shard) groupKey(group string) string {
	return fmt.Sprintf("%s:group.%s", s.prefix, group)
}

// subscribeChannel returns the local inbox for channel, subscribing on
// Redis the first time it's requested.
func (s *shard) subscribeChannel(ctx context.Context, channel string, capacity int) (*inbox, error) {
	key := s.specificKey(channel)
	s.mu.Lock()
	ib, ok := s.inboxes[channel]
	if !ok {
		ib = newInbox(capacity)
		s.inboxes[channel] = ib
	}
	needSubscribe := s.refCounts[key] == 0
	s.refCounts[key]++
	s.mu.Unlock()

	if needSubscribe {
		if err := s.pubsub.Subscribe(ctx, key); err != nil {
			return nil, err
		}
	}
	return ib, nil
}

func (s *shard) joinGroup(ctx context.Context, group, channel string, capacity int) error {
	key := s.groupKey(group)
	s.mu.Lock()
	members, ok := s.groupMembers[group]
	if !ok {
		members = make(map[string]bool)
		s.groupMembers[group] = members
	}
	members[channel] = true
	if _, ok := s.inboxes[channel]; !ok {
		s.inboxes[channel] = newInbox(capacity)
	}
	needSubscribe := s.refCounts[key] == 0
	s.refCounts[key]++
	s.mu.Unlock()

	if needSubscribe {
		return s.pubsub.Subscribe(ctx, key)
	}
	return nil
}

func (s *shard) leaveGroup(ctx context.Context, group, channel string) error {
	key := s.groupKey(group)
	s.mu.Lock()
	members := s.groupMembers[group]
	wasMember := members != nil && members[channel]
	if wasMember {
		delete(members, channel)
		if len(members) == 0 {
			delete(s.groupMembers, group)
		}
	}
	var needUnsubscribe bool
	if wasMember {
		s.refCounts[key]--
		if s.refCounts[key] <= 0 {
			delete(s.refCounts, key)
			needUnsubscribe = true
		}
	}
	s.mu.Unlock()

	if needUnsubscribe {
		return s.pubsub.Unsubscribe(ctx, key)
	}
	return nil
}

// dispatchLoop is the single goroutine draining this shard's *redis.PubSub,
// reconnecting with exponential backoff on error the same way
// channelManager.go's Listen loop does.
func (s *shard) dispatchLoop() {
	defer close(s.dispatchDone)
	failures := 0
	for {
		raw, err := s.pubsub.Receive(context.Background())
		if err != nil {
			if errors.Is(err, redis.ErrClosed) {
				return
			}
			failures++
			backoff := time.Duration(math.Min(
				float64(5*time.Second),
				math.Pow(2, float64(failures))*float64(time.Millisecond)*100,
			))
			time.Sleep(backoff)
			continue
		}
		failures = 0

		msg, ok := raw.(*redis.Message)
		if !ok {
			continue
		}
		s.dispatch(msg)
	}
}

func (s *shard) dispatch(msg *redis.Message) {
	decoded, err := wire.Decode([]byte(msg.Payload))
	if err != nil {
		return
	}
	m, ok := decoded.(map[string]any)
	if !ok {
		return
	}
	message := layer.Message(m)

	specificPrefix := s.prefix + ":specific."
	groupPrefix := s.prefix + ":group."

	switch {
	case len(msg.Channel) > len(specificPrefix) && msg.Channel[:len(specificPrefix)] == specificPrefix:
		channel := msg.Channel[len(specificPrefix):]
		s.mu.Lock()
		ib := s.inboxes[channel]
		s.mu.Unlock()
		if ib != nil {
			ib.deliver(message, 0)
		}
	case len(msg.Channel) > len(groupPrefix) && msg.Channel[:len(groupPrefix)] == groupPrefix:
		group := msg.Channel[len(groupPrefix):]
		s.mu.Lock()
		members := make([]string, 0, len(s.groupMembers[group]))
		for ch := range s.groupMembers[group] {
			members = append(members, ch)
		}
		inboxes := make([]*inbox, 0, len(members))
		for _, ch := range members {
			if ib := s.inboxes[ch]; ib != nil {
				inboxes = append(inboxes, ib)
			}
		}
		s.mu.Unlock()
		for _, ib := range inboxes {
			ib.deliver(message, 0)
		}
	}
}

func (s *shard) flush(ctx context.Context) error {
	s.mu.Lock()
	for _, ib := range s.inboxes {
		ib.close()
	}
	s.inboxes = make(map[string]*inbox)
	s.groupMembers = make(map[string]map[string]bool)
	s.refCounts = make(map[string]int)
	s.mu.Unlock()
	return s.pubsub.Unsubscribe(ctx)
}

func (s *shard) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, ib := range s.inboxes {
		ib.close()
	}
	s.mu.Unlock()

	err := s.pubsub.Close()
	<-s.dispatchDone
	if cerr := s.client.Close(); err == nil {
		err = cerr
	}
	return err
}
