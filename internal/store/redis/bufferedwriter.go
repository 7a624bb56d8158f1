package redis

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// DefaultMaxBufferSize bounds the backlog kept while the breaker is open.
const DefaultMaxBufferSize = 10000

// BufferedWriter sends messages to a Sink through a CircuitBreaker. While
// the breaker is open messages are buffered, dropping the oldest when
// full, and replayed once it closes again.
type BufferedWriter struct {
	sink   Sink
	cb     *CircuitBreaker
	logger *zap.Logger

	mu      sync.Mutex
	buffer  []Message
	maxBuf  int
	dropped int
	flushWG sync.WaitGroup

	// OnBuffer is called for each buffered message.
	OnBuffer func()
	// OnFlush is called with the number of messages replayed.
	OnFlush func(count int)
}

// NewBufferedWriter wraps sink. It chains onto cb.OnStateChange to flush on
// close.
func NewBufferedWriter(sink Sink, cb *CircuitBreaker, maxBufferSize int, logger *zap.Logger) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = DefaultMaxBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	bw := &BufferedWriter{
		sink:   sink,
		cb:     cb,
		logger: logger.With(zap.String("component", "redis-buffer")),
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to BreakerState) {
		if prev != nil {
			prev(from, to)
		}
		bw.logger.Info("circuit breaker transition", zap.Stringer("from", from), zap.Stringer("to", to))
		if to == StateClosed {
			bw.flushWG.Add(1)
			go func() {
				defer bw.flushWG.Done()
				bw.flush(context.Background())
			}()
		}
	}
	return bw
}

// Write sends m, or buffers it when the breaker is open. Sink errors are
// returned to the caller and counted by the breaker.
func (bw *BufferedWriter) Write(ctx context.Context, m Message) error {
	err := bw.cb.Execute(func() error { return bw.sink.Write(ctx, m) })
	if errors.Is(err, ErrCircuitOpen) {
		bw.bufferMessage(m)
		return nil
	}
	return err
}

func (bw *BufferedWriter) bufferMessage(m Message) {
	bw.mu.Lock()
	if len(bw.buffer) >= bw.maxBuf {
		bw.buffer = bw.buffer[1:]
		bw.dropped++
	}
	bw.buffer = append(bw.buffer, m)
	bw.mu.Unlock()

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// flush replays the backlog. Messages that fail again are dropped.
func (bw *BufferedWriter) flush(ctx context.Context) {
	bw.mu.Lock()
	pending := bw.buffer
	bw.buffer = nil
	bw.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	flushed := 0
	for _, m := range pending {
		if err := bw.sink.Write(ctx, m); err != nil {
			bw.logger.Warn("buffered write failed on replay", zap.String("channel", m.Channel()), zap.Error(err))
			continue
		}
		flushed++
	}
	bw.logger.Info("flushed buffered writes", zap.Int("flushed", flushed), zap.Int("pending", len(pending)))
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// Pending returns the number of buffered messages.
func (bw *BufferedWriter) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Dropped returns how many buffered messages were evicted by overflow.
func (bw *BufferedWriter) Dropped() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.dropped
}

// Wait blocks until in-progress flushes finish.
func (bw *BufferedWriter) Wait() { bw.flushWG.Wait() }
