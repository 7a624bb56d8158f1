// Package gateway pushes live market events to WebSocket display clients.
//
// Clients subscribe per symbol. Every event is wrapped in an envelope
// {"channel":"trade:BTCUSDT","seq":N,"data":{...},"ts":ms} where seq is
// monotonic per channel, so a client that sees a jump can backfill the gap
// from the replay buffer.
package gateway

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultReplaySize is the number of envelopes kept per channel.
const DefaultReplaySize = 500

// Config configures a Hub.
type Config struct {
	ReplaySize int // per channel; defaults to DefaultReplaySize
	SendBuffer int // per client; defaults to 256
}

// Hub tracks clients, the latest envelope per channel and the replay
// buffers.
type Hub struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	clients map[*Client]struct{}
	latest  map[string][]byte // channel -> last envelope
	seqs    map[string]int64
	replay  map[string]*ReplayBuffer

	// OnClients is called with the client count after every change.
	OnClients func(n int)
	// OnDrop is called when an envelope is dropped for a slow client.
	OnDrop func()
}

// NewHub returns an empty hub.
func NewHub(cfg Config, logger *zap.Logger) *Hub {
	if cfg.ReplaySize <= 0 {
		cfg.ReplaySize = DefaultReplaySize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "gateway")),
		now:     time.Now,
		clients: make(map[*Client]struct{}),
		latest:  make(map[string][]byte),
		seqs:    make(map[string]int64),
		replay:  make(map[string]*ReplayBuffer),
	}
}

// ChannelSymbol returns the symbol part of "kind:symbol".
func ChannelSymbol(channel string) string {
	if i := strings.IndexByte(channel, ':'); i >= 0 {
		return channel[i+1:]
	}
	return ""
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ws client connected", zap.Int("clients", n))
	if h.OnClients != nil {
		h.OnClients(n)
	}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ws client disconnected", zap.Int("clients", n))
	if h.OnClients != nil {
		h.OnClients(n)
	}
}

// subscribe adds symbol to c, acknowledges it and then replays the latest
// envelope of every channel of that symbol. Holding h.mu keeps the latest
// envelopes ordered before any live one.
func (h *Hub) subscribe(c *Client, symbol string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	c.addSub(symbol)
	h.deliver(c, controlFrame("subscribed", symbol))
	for channel, env := range h.latest {
		if ChannelSymbol(channel) == symbol {
			h.deliver(c, env)
		}
	}
}

func (h *Hub) unsubscribe(c *Client, symbol string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	c.removeSub(symbol)
	h.deliver(c, controlFrame("unsubscribed", symbol))
}

// Replay returns the buffered envelopes of channel with from <= seq <= to.
func (h *Hub) Replay(channel string, from, to int64) []json.RawMessage {
	h.mu.Lock()
	rb, ok := h.replay[channel]
	h.mu.Unlock()
	if !ok {
		return []json.RawMessage{}
	}
	return rb.Range(from, to)
}

// Seq returns the last seq assigned on channel.
func (h *Hub) Seq(channel string) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seqs[channel]
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}
