package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	topic  string
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func newTestProducer() (*Producer, map[string]*fakeWriter) {
	p := NewProducer(Config{Brokers: []string{"localhost:9092"}}, nil)
	made := make(map[string]*fakeWriter)
	p.newWriter = func(topic string) messageWriter {
		w := &fakeWriter{topic: topic}
		made[topic] = w
		return w
	}
	return p, made
}

func TestProducer_Topics(t *testing.T) {
	p := NewProducer(Config{TopicPrefix: "md"}, nil)
	topic, err := p.Topic("trade")
	require.NoError(t, err)
	assert.Equal(t, "md.trades", topic)

	p = NewProducer(Config{}, nil)
	for kind, want := range map[string]string{
		"candle":    "market.candles",
		"trade":     "market.trades",
		"orderbook": "market.orderbooks",
	} {
		got, err := p.Topic(kind)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err = p.Topic("quote")
	assert.Error(t, err)
}

func TestProducer_PublishKeyedBySymbol(t *testing.T) {
	p, made := newTestProducer()
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, "trade", "BTCUSDT", map[string]any{"id": "t1"}))
	require.NoError(t, p.Publish(ctx, "trade", "ETHUSDT", map[string]any{"id": "t2"}))
	require.NoError(t, p.Publish(ctx, "candle", "BTCUSDT", map[string]any{"t": 1}))

	require.Len(t, made, 2, "one writer per topic")
	trades := made["market.trades"]
	require.Len(t, trades.msgs, 2)
	assert.Equal(t, "BTCUSDT", string(trades.msgs[0].Key))
	assert.JSONEq(t, `{"id":"t1"}`, string(trades.msgs[0].Value))
	assert.Equal(t, "application/json", string(trades.msgs[0].Headers[0].Value))

	require.NoError(t, p.Close())
	assert.True(t, trades.closed)
	assert.True(t, made["market.candles"].closed)
}

func TestProducer_WriteError(t *testing.T) {
	p, _ := newTestProducer()
	boom := errors.New("broker unavailable")
	p.newWriter = func(string) messageWriter { return &fakeWriter{err: boom} }

	err := p.Publish(context.Background(), "orderbook", "SOLUSDT", struct{}{})
	assert.ErrorIs(t, err, boom)
	assert.Error(t, p.Publish(context.Background(), "unknown", "X", nil))
}

func TestProducer_PingWithoutBrokers(t *testing.T) {
	p := NewProducer(Config{}, nil)
	assert.Error(t, p.Ping(context.Background()))
}
