package redispubsub

import (
	"container/list"
	"sync"
	"time"

	"github.com/relaybus/channels/internal/layer"
)

type entry struct {
	expiresAt time.Time
	message   layer.Message
}

// inbox is the local, in-process mailbox a subscribed channel delivers
// into. Pub/sub fan-out is asynchronous broadcast: by the time a message
// arrives there's no sender left to signal ErrChannelFull to, so a full
// inbox just drops the newest message instead of returning an error.
// Mirrors internal/layer/memory's cond-based inbox, kept separate rather
// than shared since the two backends' push paths differ (local Send vs.
// pub/sub delivery callback).
type inbox struct {
	mu       sync.Mutex
	cond     *sync.Cond
	messages *list.List
	capacity int
	closed   bool
}

func newInbox(capacity int) *inbox {
	ib := &inbox{messages: list.New(), capacity: capacity}
	ib.cond = sync.NewCond(&ib.mu)
	return ib
}

// deliver pushes message if there's room, dropping it silently otherwise.
func (ib *inbox) deliver(message layer.Message, expiry time.Duration) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if ib.closed {
		return
	}
	ib.evictExpiredLocked()
	if ib.capacity > 0 && ib.messages.Len() >= ib.capacity {
		return
	}
	var expiresAt time.Time
	if expiry > 0 {
		expiresAt = time.Now().Add(expiry)
	}
	ib.messages.PushBack(entry{expiresAt: expiresAt, message: message})
	ib.cond.Signal()
}

func (ib *inbox) evictExpiredLocked() {
	for e := ib.messages.Front(); e != nil; {
		ent := e.Value.(entry)
		if ent.expiresAt.IsZero() || time.Now().Before(ent.expiresAt) {
			break
		}
		next := e.Next()
		ib.messages.Remove(e)
		e = next
	}
}

func (ib *inbox) close() {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	ib.closed = true
	ib.cond.Broadcast()
}
