// Package kafka publishes live market events to Kafka topics.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event kinds and their topic suffixes.
var topicSuffix = map[string]string{
	"candle":    "candles",
	"trade":     "trades",
	"orderbook": "orderbooks",
}

// messageWriter is the subset of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config configures a Producer.
type Config struct {
	Brokers     []string
	ClientID    string
	TopicPrefix string // default "market"
}

// Producer writes events keyed by symbol to one topic per event kind.
type Producer struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	writers   map[string]messageWriter
	newWriter func(topic string) messageWriter
}

// NewProducer creates a producer. Writers are created lazily per topic.
func NewProducer(cfg Config, logger *zap.Logger) *Producer {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "market"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "market-workbench"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Producer{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "kafka")),
		writers: make(map[string]messageWriter),
	}
	p.newWriter = p.kafkaWriter
	return p
}

func (p *Producer) kafkaWriter(topic string) messageWriter {
	return &kafka.Writer{
		Addr:         kafka.TCP(p.cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Transport:    &kafka.Transport{ClientID: p.cfg.ClientID},
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				p.logger.Warn("kafka async write failed",
					zap.String("topic", topic), zap.Int("messages", len(msgs)), zap.Error(err))
			}
		},
	}
}

// Topic returns the topic for an event kind, e.g. "market.trades".
func (p *Producer) Topic(kind string) (string, error) {
	suffix, ok := topicSuffix[kind]
	if !ok {
		return "", fmt.Errorf("kafka: unknown event kind %q", kind)
	}
	return p.cfg.TopicPrefix + "." + suffix, nil
}

func (p *Producer) writer(topic string) messageWriter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.writers[topic]; ok {
		return w
	}
	w := p.newWriter(topic)
	p.writers[topic] = w
	return w
}

// Publish JSON-encodes value and writes it with symbol as the key, so all
// events of a symbol land on the same partition.
func (p *Producer) Publish(ctx context.Context, kind, symbol string, value any) error {
	topic, err := p.Topic(kind)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kafka marshal %s: %w", kind, err)
	}
	return p.PublishRaw(ctx, topic, symbol, payload)
}

// PublishRaw writes an already encoded payload to topic.
func (p *Producer) PublishRaw(ctx context.Context, topic, key string, payload []byte) error {
	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}
	if err := p.writer(topic).WriteMessages(ctx, msg); err != nil {
		p.logger.Error("kafka publish failed", zap.String("topic", topic), zap.String("key", key), zap.Error(err))
		return fmt.Errorf("kafka publish %s: %w", topic, err)
	}
	p.logger.Debug("kafka message published", zap.String("topic", topic), zap.String("key", key))
	return nil
}

// Ping dials the first reachable broker.
func (p *Producer) Ping(ctx context.Context) error {
	if len(p.cfg.Brokers) == 0 {
		return errors.New("kafka: no brokers configured")
	}
	var err error
	for _, addr := range p.cfg.Brokers {
		var conn *kafka.Conn
		if conn, err = kafka.DialContext(ctx, "tcp", addr); err == nil {
			return conn.Close()
		}
	}
	return fmt.Errorf("kafka dial: %w", err)
}

// Close flushes and closes every writer.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			p.logger.Error("kafka writer close failed", zap.String("topic", topic), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
		delete(p.writers, topic)
	}
	return firstErr
}
