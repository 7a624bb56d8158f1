// Package relay fans live feed events out to downstream sinks (Redis,
// Kafka, the WebSocket gateway). Each sink has its own queue so a slow or
// failing sink never delays the others.
package relay

import (
	"context"
	"encoding/json"
	"sync"

	"market-workbench/internal/feed"
	"market-workbench/internal/kafka"
	"market-workbench/internal/store/redis"

	"go.uber.org/zap"
)

// Event kinds.
const (
	KindCandle    = "candle"
	KindTrade     = "trade"
	KindOrderBook = "orderbook"
)

// DefaultQueueSize is the per-sink backlog before events are dropped.
const DefaultQueueSize = 1024

// Event is one encoded live event.
type Event struct {
	Kind    string
	Symbol  string
	Payload json.RawMessage
}

// Channel is the display channel of the event, e.g. "trade:BTCUSDT".
func (e Event) Channel() string { return e.Kind + ":" + e.Symbol }

// Sink receives relayed events.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Send(ctx context.Context, ev Event) error { return f(ctx, ev) }

// RedisSink writes events through a redis.Sink, normally a BufferedWriter.
func RedisSink(w redis.Sink) Sink {
	return SinkFunc(func(ctx context.Context, ev Event) error {
		return w.Write(ctx, redis.Message{Kind: ev.Kind, Symbol: ev.Symbol, Payload: ev.Payload})
	})
}

// KafkaSink publishes events to the producer's per-kind topics.
func KafkaSink(p *kafka.Producer) Sink {
	return SinkFunc(func(ctx context.Context, ev Event) error {
		topic, err := p.Topic(ev.Kind)
		if err != nil {
			return err
		}
		return p.PublishRaw(ctx, topic, ev.Symbol, ev.Payload)
	})
}

// Hooks observe relay activity; nil fields are ignored.
type Hooks struct {
	Sent    func(sink string)
	Failed  func(sink string)
	Dropped func(sink string)
}

type worker struct {
	name  string
	sink  Sink
	queue chan Event
}

// Relay copies feed events to every registered sink.
type Relay struct {
	logger    *zap.Logger
	queueSize int
	hooks     Hooks
	workers   []*worker
}

// New creates an empty relay. queueSize <= 0 selects DefaultQueueSize.
func New(queueSize int, hooks Hooks, logger *zap.Logger) *Relay {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		logger:    logger.With(zap.String("component", "relay")),
		queueSize: queueSize,
		hooks:     hooks,
	}
}

// Add registers a sink. It must be called before Run.
func (r *Relay) Add(name string, s Sink) {
	r.workers = append(r.workers, &worker{name: name, sink: s, queue: make(chan Event, r.queueSize)})
}

// Sinks returns the registered sink names.
func (r *Relay) Sinks() []string {
	names := make([]string, len(r.workers))
	for i, w := range r.workers {
		names[i] = w.name
	}
	return names
}

// Run relays until every input channel is closed, then drains the sink
// queues. Nil channels are ignored. ctx cancellation alone does not stop Run:
// the feed publishes its shutdown flush first and then closes its topics.
func (r *Relay) Run(ctx context.Context, candles <-chan feed.CandleEvent, trades <-chan feed.TradeEvent, books <-chan feed.OrderBookEvent) error {
	var wg sync.WaitGroup
	for _, w := range r.workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			r.drain(w)
		}(w)
	}
	defer func() {
		for _, w := range r.workers {
			close(w.queue)
		}
		wg.Wait()
	}()

	r.logger.Info("relay started", zap.Strings("sinks", r.Sinks()))
	stop := ctx.Done()
	for candles != nil || trades != nil || books != nil {
		select {
		case <-stop:
			stop = nil
			r.logger.Debug("relay draining until inputs close")
		case ev, ok := <-candles:
			if !ok {
				candles = nil
				continue
			}
			r.publish(KindCandle, ev.Symbol, ev)
		case ev, ok := <-trades:
			if !ok {
				trades = nil
				continue
			}
			r.publish(KindTrade, ev.Symbol, ev.Trade)
		case ev, ok := <-books:
			if !ok {
				books = nil
				continue
			}
			r.publish(KindOrderBook, ev.Symbol, ev.OrderBook)
		}
	}
	return nil
}

func (r *Relay) publish(kind, symbol string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		r.logger.Error("relay marshal failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	ev := Event{Kind: kind, Symbol: symbol, Payload: payload}
	for _, w := range r.workers {
		select {
		case w.queue <- ev:
		default:
			if r.hooks.Dropped != nil {
				r.hooks.Dropped(w.name)
			}
		}
	}
}

func (r *Relay) drain(w *worker) {
	for ev := range w.queue {
		if err := w.sink.Send(context.Background(), ev); err != nil {
			r.logger.Warn("relay send failed",
				zap.String("sink", w.name), zap.String("channel", ev.Channel()), zap.Error(err))
			if r.hooks.Failed != nil {
				r.hooks.Failed(w.name)
			}
			continue
		}
		if r.hooks.Sent != nil {
			r.hooks.Sent(w.name)
		}
	}
}
