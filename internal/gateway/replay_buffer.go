package gateway

import (
	"encoding/json"
	"sort"
	"sync"
)

type replayEntry struct {
	seq int64
	env json.RawMessage
}

// ReplayBuffer keeps the most recent envelopes of one channel for gap
// backfill. Entries are pushed in increasing seq order; the oldest is
// overwritten once the buffer is full.
type ReplayBuffer struct {
	mu   sync.RWMutex
	ring []replayEntry
	head int // index of the oldest entry
	n    int
}

// NewReplayBuffer creates a buffer holding up to capacity envelopes.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = DefaultReplaySize
	}
	return &ReplayBuffer{ring: make([]replayEntry, capacity)}
}

// Push appends an envelope. env is not copied and must not be modified.
func (rb *ReplayBuffer) Push(seq int64, env []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.n < len(rb.ring) {
		rb.ring[(rb.head+rb.n)%len(rb.ring)] = replayEntry{seq: seq, env: env}
		rb.n++
		return
	}
	rb.ring[rb.head] = replayEntry{seq: seq, env: env}
	rb.head = (rb.head + 1) % len(rb.ring)
}

func (rb *ReplayBuffer) at(i int) replayEntry {
	return rb.ring[(rb.head+i)%len(rb.ring)]
}

// Range returns the envelopes with from <= seq <= to, oldest first.
func (rb *ReplayBuffer) Range(from, to int64) []json.RawMessage {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	out := []json.RawMessage{}
	if from > to {
		return out
	}
	start := sort.Search(rb.n, func(i int) bool { return rb.at(i).seq >= from })
	for i := start; i < rb.n; i++ {
		e := rb.at(i)
		if e.seq > to {
			break
		}
		out = append(out, e.env)
	}
	return out
}

// Bounds returns the oldest and newest buffered seq; ok is false when empty.
func (rb *ReplayBuffer) Bounds() (oldest, newest int64, ok bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.n == 0 {
		return 0, 0, false
	}
	return rb.at(0).seq, rb.at(rb.n - 1).seq, true
}

// Len returns the number of buffered envelopes.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.n
}
