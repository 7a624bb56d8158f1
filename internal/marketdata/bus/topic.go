// Package bus provides typed in-process broadcast topics.
//
// A Topic fans each published value out to every subscriber channel. Sends
// never block: if a subscriber's buffer is full the value is dropped for that
// subscriber only, so one slow consumer cannot stall the publisher.
package bus

import (
	"sync"

	"go.uber.org/zap"
)

// Topic broadcasts values of type T to N subscriber channels.
type Topic[T any] struct {
	name   string
	logger *zap.Logger

	mu     sync.RWMutex
	subs   map[uint64]chan T
	nextID uint64
	closed bool

	// OnDrop is called when a value is dropped for a full subscriber.
	OnDrop func(topic string)
}

// NewTopic creates an empty topic. name is used in logs and drop callbacks.
func NewTopic[T any](name string, logger *zap.Logger) *Topic[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Topic[T]{
		name:   name,
		logger: logger,
		subs:   make(map[uint64]chan T),
	}
}

// Name returns the topic name.
func (t *Topic[T]) Name() string { return t.name }

// Subscribe registers a new subscriber with the given buffer size. The
// returned cancel func unregisters it and closes the channel; it is safe to
// call more than once.
func (t *Topic[T]) Subscribe(buffer int) (<-chan T, func()) {
	ch := make(chan T, buffer)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			if c, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(c)
			}
			t.mu.Unlock()
		})
	}
}

// Publish delivers v to every subscriber that has room and returns the
// number of subscribers that received it.
func (t *Topic[T]) Publish(v T) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	delivered := 0
	for _, ch := range t.subs {
		select {
		case ch <- v:
			delivered++
		default:
			if t.OnDrop != nil {
				t.OnDrop(t.name)
			} else {
				t.logger.Debug("subscriber full, dropping value", zap.String("topic", t.name))
			}
		}
	}
	return delivered
}

// Close closes every subscriber channel. Later subscribers get a closed
// channel immediately.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// ChannelStat is the fill level of one subscriber channel.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats returns (length, capacity) for each subscriber channel.
func (t *Topic[T]) ChannelStats() []ChannelStat {
	t.mu.RLock()
	defer t.mu.RUnlock()
	stats := make([]ChannelStat, 0, len(t.subs))
	for _, ch := range t.subs {
		stats = append(stats, ChannelStat{Len: len(ch), Cap: cap(ch)})
	}
	return stats
}
