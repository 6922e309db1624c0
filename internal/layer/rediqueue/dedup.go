package rediqueue

import "sync"

// seenRing is a small fixed-size set of recently observed message ids,
// used to drop duplicates a receiver might see after a retried push or a
// shard failover replay. Bounded size trades perfect dedup for O(1) memory
// per channel, acceptable since duplicates only arise from retry windows
// measured in seconds, not from long-term replay.
type seenRing struct {
	mu     sync.Mutex
	size   int
	ids    []string
	lookup map[string]struct{}
	next   int
}

func newSeenRing(size int) *seenRing {
	if size <= 0 {
		size = 64
	}
	return &seenRing{
		size:   size,
		ids:    make([]string, 0, size),
		lookup: make(map[string]struct{}, size),
	}
}

// seen reports whether id has already been recorded, and records it if not.
func (r *seenRing) seen(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.lookup[id]; ok {
		return true
	}

	if len(r.ids) < r.size {
		r.ids = append(r.ids, id)
	} else {
		evicted := r.ids[r.next]
		delete(r.lookup, evicted)
		r.ids[r.next] = id
		r.next = (r.next + 1) % r.size
	}
	r.lookup[id] = struct{}{}
	return false
}
