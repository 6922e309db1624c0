// Package memory implements the in-memory reference channel layer used for
// tests (spec.md §4.4): bounded per-channel deques, an in-process group
// table, and a condition variable per inbox for wake-up.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/relaybus/channels/internal/layer"
)

type entry struct {
	expiresAt time.Time
	message   layer.Message
}

type inbox struct {
	mu       sync.Mutex
	cond     *sync.Cond
	messages *list.List
	closed   bool
}

func newInbox() *inbox {
	ib := &inbox{messages: list.New()}
	ib.cond = sync.NewCond(&ib.mu)
	return ib
}

// Layer is the in-memory channel layer. The zero value is not usable; call
// New.
type Layer struct {
	layer.BaseLayer

	mu     sync.Mutex
	inboxes map[string]*inbox
	groups  map[string]map[string]time.Time // group -> channel -> joined-at
	closed  bool
}

// New constructs an in-memory Layer with the given configuration.
func New(cfg layer.Config) *Layer {
	return &Layer{
		BaseLayer: layer.NewBaseLayer(cfg),
		inboxes:   make(map[string]*inbox),
		groups:    make(map[string]map[string]time.Time),
	}
}

func (l *Layer) getOrCreateInbox(channel string) *inbox {
	l.mu.Lock()
	defer l.mu.Unlock()
	ib, ok := l.inboxes[channel]
	if !ok {
		ib = newInbox()
		l.inboxes[channel] = ib
	}
	return ib
}

// NewChannel returns a fresh, unused channel name.
func (l *Layer) NewChannel(ctx context.Context, prefix string) (string, error) {
	return l.BaseLayer.NewChannelName(prefix)
}

// Send enqueues message for channel, evicting expired head entries first
// and failing with layer.ErrChannelFull if the inbox is at capacity.
// Sending to an unknown channel lazily creates its inbox.
func (l *Layer) Send(ctx context.Context, channel string, message layer.Message) error {
	if !l.BaseLayer.ValidateChannelName(channel, false) {
		return layer.ErrInvalidName
	}
	ib := l.getOrCreateInbox(channel)

	ib.mu.Lock()
	defer ib.mu.Unlock()

	evictExpiredLocked(ib)

	capacity := l.ResolveCapacity(channel)
	if ib.messages.Len() >= capacity {
		return layer.ErrChannelFull
	}

	ib.messages.PushBack(entry{
		expiresAt: time.Now().Add(l.ExpiryDuration()),
		message:   message,
	})
	ib.cond.Signal()
	return nil
}

// evictExpiredLocked drops expired entries from the front of the queue.
// Caller must hold ib.mu.
func evictExpiredLocked(ib *inbox) {
	now := time.Now()
	for e := ib.messages.Front(); e != nil; {
		ent := e.Value.(entry)
		if ent.expiresAt.After(now) {
			break
		}
		next := e.Next()
		ib.messages.Remove(e)
		e = next
	}
}

// Receive suspends until a non-expired message is available for channel,
// or ctx is done. At most one receiver per channel should call this
// concurrently; behavior under concurrent receivers is undefined.
func (l *Layer) Receive(ctx context.Context, channel string) (layer.Message, error) {
	if !l.BaseLayer.ValidateChannelName(channel, false) {
		return nil, layer.ErrInvalidName
	}
	ib := l.getOrCreateInbox(channel)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			ib.mu.Lock()
			ib.cond.Broadcast()
			ib.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	ib.mu.Lock()
	defer ib.mu.Unlock()

	for {
		evictExpiredLocked(ib)
		if front := ib.messages.Front(); front != nil {
			ent := ib.messages.Remove(front).(entry)
			return ent.message, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if ib.closed {
			return nil, layer.ErrClosed
		}
		ib.cond.Wait()
	}
}

// GroupAdd idempotently adds channel to group.
func (l *Layer) GroupAdd(ctx context.Context, group, channel string) error {
	if !l.BaseLayer.ValidateGroupName(group) || !l.BaseLayer.ValidateChannelName(channel, false) {
		return layer.ErrInvalidName
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	members, ok := l.groups[group]
	if !ok {
		members = make(map[string]time.Time)
		l.groups[group] = members
	}
	members[channel] = time.Now()
	return nil
}

// GroupDiscard idempotently removes channel from group. No-op if absent.
func (l *Layer) GroupDiscard(ctx context.Context, group, channel string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if members, ok := l.groups[group]; ok {
		delete(members, channel)
		if len(members) == 0 {
			delete(l.groups, group)
		}
	}
	return nil
}

// GroupSend fans message out to every current, unexpired member of group
// by calling Send for each; per-member ErrChannelFull is swallowed.
func (l *Layer) GroupSend(ctx context.Context, group string, message layer.Message) error {
	l.mu.Lock()
	members, ok := l.groups[group]
	if !ok {
		l.mu.Unlock()
		return nil
	}
	cutoff := time.Now().Add(-l.GroupExpiryDuration())
	channels := make([]string, 0, len(members))
	for ch, joinedAt := range members {
		if joinedAt.Before(cutoff) {
			delete(members, ch)
			continue
		}
		channels = append(channels, ch)
	}
	if len(members) == 0 {
		delete(l.groups, group)
	}
	l.mu.Unlock()

	for _, ch := range channels {
		if err := l.Send(ctx, ch, message); err != nil {
			if err == layer.ErrChannelFull {
				l.Logger().Printf("INFO: group_send: dropped message for channel %q in group %q (channel full)", ch, group)
				continue
			}
			return err
		}
	}
	return nil
}

// Flush discards all state. Testing only.
func (l *Layer) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ib := range l.inboxes {
		ib.mu.Lock()
		ib.messages.Init()
		ib.mu.Unlock()
	}
	l.inboxes = make(map[string]*inbox)
	l.groups = make(map[string]map[string]time.Time)
	return nil
}

// Close releases resources and wakes any blocked receivers.
func (l *Layer) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for _, ib := range l.inboxes {
		ib.mu.Lock()
		ib.closed = true
		ib.cond.Broadcast()
		ib.mu.Unlock()
	}
	return nil
}
