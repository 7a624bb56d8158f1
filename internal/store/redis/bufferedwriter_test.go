package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu   sync.Mutex
	fail bool
	got  []Message
}

func (s *recordingSink) Write(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errFail
	}
	s.got = append(s.got, m)
	return nil
}

func (s *recordingSink) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func (s *recordingSink) symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.got {
		out = append(out, m.Symbol)
	}
	return out
}

func msg(sym string) Message {
	return Message{Kind: "trade", Symbol: sym, Payload: []byte(`{}`)}
}

func TestBufferedWriter_BuffersWhileOpenAndFlushesOnClose(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{fail: true}
	cb, clk := newTestBreaker(2, time.Second)
	bw := NewBufferedWriter(sink, cb, 10, nil)

	var flushed int
	bw.OnFlush = func(n int) { flushed = n }

	assert.Error(t, bw.Write(ctx, msg("A")))
	assert.Error(t, bw.Write(ctx, msg("B")))
	require.Equal(t, StateOpen, cb.State())

	require.NoError(t, bw.Write(ctx, msg("C")))
	require.NoError(t, bw.Write(ctx, msg("D")))
	assert.Equal(t, 2, bw.Pending())

	sink.setFail(false)
	clk.advance(time.Second)
	require.NoError(t, bw.Write(ctx, msg("E")))
	bw.Wait()

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, bw.Pending())
	assert.Equal(t, 2, flushed)
	assert.ElementsMatch(t, []string{"E", "C", "D"}, sink.symbols())
}

func TestBufferedWriter_DropsOldestWhenFull(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{fail: true}
	cb, _ := newTestBreaker(1, time.Hour)
	bw := NewBufferedWriter(sink, cb, 2, nil)
	buffered := 0
	bw.OnBuffer = func() { buffered++ }

	bw.Write(ctx, msg("trip"))
	for _, s := range []string{"1", "2", "3"} {
		require.NoError(t, bw.Write(ctx, msg(s)))
	}
	assert.Equal(t, 2, bw.Pending())
	assert.Equal(t, 1, bw.Dropped())
	assert.Equal(t, 3, buffered)
}

func TestMessageKeys(t *testing.T) {
	m := Message{Kind: "candle", Symbol: "BTCUSDT"}
	assert.Equal(t, "pub:candle:BTCUSDT", m.Channel())
	assert.Equal(t, "latest:candle:BTCUSDT", m.LatestKey())
}

func TestPublisher_UnreachableServer(t *testing.T) {
	p := NewPublisher(Config{Addr: "127.0.0.1:1"}, nil)
	defer p.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	assert.Error(t, p.Ping(ctx))
	assert.Error(t, p.Write(ctx, msg("BTCUSDT")))
}
