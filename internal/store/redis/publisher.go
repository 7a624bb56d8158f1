// Package redis relays live market events to Redis pub/sub and keeps the
// latest value per channel, behind a circuit breaker that buffers writes
// while Redis is unavailable.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DefaultLatestTTL is how long latest:* keys live without being refreshed.
const DefaultLatestTTL = 30 * time.Minute

// Message is one live event bound for Redis.
type Message struct {
	Kind    string `json:"kind"` // candle, trade, orderbook
	Symbol  string `json:"symbol"`
	Payload []byte `json:"payload"`
}

// Channel is the pub/sub channel of a message.
func (m Message) Channel() string { return "pub:" + m.Kind + ":" + m.Symbol }

// LatestKey is the key holding the last payload of a kind and symbol.
func (m Message) LatestKey() string { return LatestKey(m.Kind, m.Symbol) }

// LatestKey returns "latest:{kind}:{symbol}".
func LatestKey(kind, symbol string) string { return "latest:" + kind + ":" + symbol }

// Sink accepts messages. Publisher is the production implementation.
type Sink interface {
	Write(ctx context.Context, m Message) error
}

// Config configures a Publisher.
type Config struct {
	Addr      string
	Password  string
	DB        int
	LatestTTL time.Duration
}

// Publisher writes messages to Redis.
type Publisher struct {
	client *goredis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewPublisher creates a client for cfg.Addr. It does not connect; use Ping
// to check reachability.
func NewPublisher(cfg Config, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LatestTTL <= 0 {
		cfg.LatestTTL = DefaultLatestTTL
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 2 * time.Second,
		MaxRetries:  -1,
	})
	return &Publisher{
		client: client,
		ttl:    cfg.LatestTTL,
		logger: logger.With(zap.String("component", "redis"), zap.String("addr", cfg.Addr)),
	}
}

// Client returns the underlying client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Ping checks the server answers.
func (p *Publisher) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Write sets the latest key and publishes the payload in one pipeline.
func (p *Publisher) Write(ctx context.Context, m Message) error {
	pipe := p.client.Pipeline()
	pipe.Set(ctx, m.LatestKey(), m.Payload, p.ttl)
	pipe.Publish(ctx, m.Channel(), m.Payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis write %s: %w", m.Channel(), err)
	}
	return nil
}

// Latest reads the last payload for kind and symbol. ok is false when the
// key is absent or expired.
func (p *Publisher) Latest(ctx context.Context, kind, symbol string) (payload []byte, ok bool, err error) {
	b, err := p.client.Get(ctx, LatestKey(kind, symbol)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", LatestKey(kind, symbol), err)
	}
	return b, true, nil
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
