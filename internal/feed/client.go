// Package feed implements the streaming market-data client.
//
// A Client keeps one logical live connection to a feed endpoint: it dials,
// resubscribes remembered symbols, heartbeats, batches inbound frames and
// dispatches them as typed events, and reconnects with exponential backoff on
// abnormal closes. All mutable state is owned by a single loop goroutine
// (Run); public methods post commands to it.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"market-workbench/internal/marketdata/bus"
	"market-workbench/internal/model"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Defaults applied to zero Config fields.
const (
	DefaultReconnectDelay       = time.Second
	DefaultMaxReconnectDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultPingInterval         = 30 * time.Second
	DefaultBatchInterval        = 100 * time.Millisecond
)

// Config configures a Client.
type Config struct {
	URL string

	// ReconnectDelay is the base backoff delay; retry n waits
	// min(ReconnectDelay*2^n, MaxReconnectDelay).
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration

	// MaxReconnectAttempts bounds automatic retries after a failure.
	// Zero means DefaultMaxReconnectAttempts; negative disables retries.
	MaxReconnectAttempts int

	PingInterval  time.Duration
	BatchInterval time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 0
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = DefaultBatchInterval
	}
}

// Metrics receives feed counters. All methods are called from the loop
// goroutine.
type Metrics interface {
	MessageReceived(kind string)
	MessageMalformed(kind string)
	ReconnectScheduled()
	StateChanged(state string)
	BatchFlushed(size int)
}

type nopMetrics struct{}

func (nopMetrics) MessageReceived(string)  {}
func (nopMetrics) MessageMalformed(string) {}
func (nopMetrics) ReconnectScheduled()     {}
func (nopMetrics) StateChanged(string)     {}
func (nopMetrics) BatchFlushed(int)        {}

// Option customises a Client.
type Option func(*Client)

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithClock overrides time.Now, used for ping timestamps and event times.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client is the reconnecting feed client. Create with New, then call Run.
type Client struct {
	cfg     Config
	dialer  Dialer
	logger  *zap.Logger
	metrics Metrics
	now     func() time.Time

	cmds chan func()
	done chan struct{}

	running atomic.Bool
	state   atomic.Value // State, readable from any goroutine

	stateTopic  *bus.Topic[StateChange]
	candleTopic *bus.Topic[CandleEvent]
	tradeTopic  *bus.Topic[TradeEvent]
	bookTopic   *bus.Topic[OrderBookEvent]

	// Owned by the loop goroutine.
	runCtx     context.Context
	st         State
	conn       Conn
	gen        uint64
	attempts   int
	retry      *backoff.ExponentialBackOff
	subs       map[string]struct{}
	subOrder   []string
	queue      []Envelope
	batchTimer *time.Timer
	pingTicker *time.Ticker
	retryTimer *time.Timer
	dialCancel context.CancelFunc
}

// New creates a Client. No connection is made until Connect.
func New(cfg Config, dialer Dialer, logger *zap.Logger, opts ...Option) *Client {
	cfg.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:         cfg,
		dialer:      dialer,
		logger:      logger.With(zap.String("component", "feed")),
		metrics:     nopMetrics{},
		now:         time.Now,
		cmds:        make(chan func(), 256),
		done:        make(chan struct{}),
		st:          StateDisconnected,
		subs:        make(map[string]struct{}),
		retry:       newBackoff(cfg.ReconnectDelay, cfg.MaxReconnectDelay),
		stateTopic:  bus.NewTopic[StateChange]("feed.state", logger),
		candleTopic: bus.NewTopic[CandleEvent]("feed.candle", logger),
		tradeTopic:  bus.NewTopic[TradeEvent]("feed.trade", logger),
		bookTopic:   bus.NewTopic[OrderBookEvent]("feed.orderbook", logger),
	}
	c.state.Store(StateDisconnected)
	for _, o := range opts {
		o(c)
	}
	return c
}

// StateChanges is the topic of connection state transitions.
func (c *Client) StateChanges() *bus.Topic[StateChange] { return c.stateTopic }

// Candles is the topic of candle updates.
func (c *Client) Candles() *bus.Topic[CandleEvent] { return c.candleTopic }

// Trades is the topic of trade prints.
func (c *Client) Trades() *bus.Topic[TradeEvent] { return c.tradeTopic }

// OrderBooks is the topic of order book snapshots.
func (c *Client) OrderBooks() *bus.Topic[OrderBookEvent] { return c.bookTopic }

// State returns the current connection state.
func (c *Client) State() State { return c.state.Load().(State) }

// Connect starts connecting if the client is disconnected or in error. It
// also resets the retry budget, so it is how callers resume after a
// terminal failure. It does not wait for the connection to open.
func (c *Client) Connect() {
	c.post(func() { c.handleConnect(true) })
}

// Disconnect closes the connection normally, cancels pending retries and
// heartbeats, and flushes queued messages once. It returns after the loop
// has done so, or when ctx ends.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.call(ctx, c.handleDisconnect)
}

// Subscribe adds symbol to the subscription set. The subscription survives
// reconnects.
func (c *Client) Subscribe(symbol string) {
	c.post(func() { c.handleSubscribe(symbol) })
}

// Unsubscribe removes symbol. Unknown symbols are ignored.
func (c *Client) Unsubscribe(symbol string) {
	c.post(func() { c.handleUnsubscribe(symbol) })
}

// Subscriptions returns the subscribed symbols in subscription order.
func (c *Client) Subscriptions(ctx context.Context) ([]string, error) {
	var out []string
	err := c.call(ctx, func() {
		out = append([]string(nil), c.subOrder...)
	})
	return out, err
}

// ErrClientStopped is returned by calls made after Run has exited.
var ErrClientStopped = errors.New("feed client stopped")

// post enqueues fn for the loop. It reports false if the loop has exited.
func (c *Client) post(fn func()) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.cmds <- fn:
		return true
	case <-c.done:
		return false
	}
}

// call runs fn on the loop and waits for it.
func (c *Client) call(ctx context.Context, fn func()) error {
	reply := make(chan struct{})
	if !c.post(func() { fn(); close(reply) }) {
		return ErrClientStopped
	}
	select {
	case <-reply:
		return nil
	case <-c.done:
		return ErrClientStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run owns the client's state until ctx is cancelled. On exit it
// disconnects cleanly and closes all event topics.
func (c *Client) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("feed client already running")
	}
	c.runCtx = ctx
	defer func() {
		c.handleDisconnect()
		close(c.done)
		c.stateTopic.Close()
		c.candleTopic.Close()
		c.tradeTopic.Close()
		c.bookTopic.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-c.cmds:
			fn()
		case <-timerC(c.batchTimer):
			c.batchTimer = nil
			c.flush()
		case <-tickerC(c.pingTicker):
			c.send(ControlMessage{Type: TypePing, Timestamp: c.now().UnixMilli()})
		case <-timerC(c.retryTimer):
			c.retryTimer = nil
			c.handleConnect(false)
		}
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// ── loop handlers ──

func (c *Client) setState(sc StateChange) {
	sc.At = c.now()
	c.st = sc.State
	c.state.Store(sc.State)
	c.metrics.StateChanged(string(sc.State))
	c.stateTopic.Publish(sc)
}

func (c *Client) handleConnect(userInitiated bool) {
	if c.st == StateConnected || c.st == StateConnecting {
		return
	}
	if userInitiated {
		c.attempts = 0
		c.retry.Reset()
	}
	stopTimer(&c.retryTimer)

	c.gen++
	gen := c.gen
	c.setState(StateChange{State: StateConnecting, Attempt: c.attempts})

	dialCtx, cancel := context.WithCancel(c.runCtx)
	c.dialCancel = cancel
	url := c.cfg.URL
	go func() {
		conn, err := c.dialer.Dial(dialCtx, url)
		if !c.post(func() { c.onDial(gen, conn, err) }) && conn != nil {
			conn.Close()
		}
	}()
}

func (c *Client) onDial(gen uint64, conn Conn, err error) {
	if gen != c.gen {
		// superseded by a Disconnect or a newer Connect
		if conn != nil {
			conn.Close()
		}
		return
	}
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	if err != nil {
		c.logger.Warn("feed dial failed", zap.String("url", c.cfg.URL), zap.Error(err))
		c.handleConnectionError(err)
		return
	}

	c.conn = conn
	c.attempts = 0
	c.retry.Reset()
	c.st = StateConnected
	for _, sym := range c.subOrder {
		c.send(ControlMessage{Type: TypeSubscribe, Symbol: sym})
	}
	c.pingTicker = time.NewTicker(c.cfg.PingInterval)
	go c.readLoop(gen, conn)

	c.logger.Info("feed connected", zap.String("url", c.cfg.URL), zap.Int("subscriptions", len(c.subOrder)))
	c.setState(StateChange{State: StateConnected})
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.post(func() { c.onReadError(gen, err) })
			return
		}
		if !c.post(func() { c.onFrame(gen, data) }) {
			return
		}
	}
}

func (c *Client) onReadError(gen uint64, err error) {
	if gen != c.gen {
		return
	}
	if errors.Is(err, ErrNormalClosure) {
		c.logger.Info("feed closed by peer")
		c.cleanup()
		c.setState(StateChange{State: StateDisconnected})
		return
	}
	c.logger.Warn("feed connection lost", zap.Error(err))
	c.handleConnectionError(err)
}

func (c *Client) handleConnectionError(err error) {
	c.cleanup()

	sc := StateChange{State: StateError, Err: err}
	if c.attempts < c.cfg.MaxReconnectAttempts {
		delay := c.retry.NextBackOff()
		c.attempts++
		c.retryTimer = time.NewTimer(delay)
		c.metrics.ReconnectScheduled()
		sc.Attempt = c.attempts
		sc.RetryIn = delay
		c.logger.Info("feed reconnect scheduled",
			zap.Int("attempt", c.attempts),
			zap.Int("max_attempts", c.cfg.MaxReconnectAttempts),
			zap.Duration("delay", delay))
	} else {
		sc.Attempt = c.attempts
		sc.Terminal = true
		c.logger.Error("max reconnection attempts reached", zap.Int("attempts", c.attempts))
	}
	c.setState(sc)
}

func (c *Client) handleDisconnect() {
	stopTimer(&c.retryTimer)
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	c.gen++ // discard events from the old connection and any in-flight dial
	c.cleanup()
	c.attempts = 0
	c.retry.Reset()
	if c.st != StateDisconnected {
		c.setState(StateChange{State: StateDisconnected})
	}
}

// cleanup stops the heartbeat and batch timer, dispatches whatever is still
// queued, and closes the connection.
func (c *Client) cleanup() {
	if c.pingTicker != nil {
		c.pingTicker.Stop()
		c.pingTicker = nil
	}
	stopTimer(&c.batchTimer)
	c.flush()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) handleSubscribe(symbol string) {
	if symbol == "" {
		return
	}
	if _, ok := c.subs[symbol]; ok {
		return
	}
	c.subs[symbol] = struct{}{}
	c.subOrder = append(c.subOrder, symbol)
	if c.st == StateConnected {
		c.send(ControlMessage{Type: TypeSubscribe, Symbol: symbol})
	}
}

func (c *Client) handleUnsubscribe(symbol string) {
	if _, ok := c.subs[symbol]; !ok {
		return
	}
	delete(c.subs, symbol)
	for i, s := range c.subOrder {
		if s == symbol {
			c.subOrder = append(c.subOrder[:i], c.subOrder[i+1:]...)
			break
		}
	}
	if c.st == StateConnected {
		c.send(ControlMessage{Type: TypeUnsubscribe, Symbol: symbol})
	}
}

func (c *Client) send(msg ControlMessage) {
	if c.conn == nil {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := c.conn.WriteMessage(b); err != nil {
		// the read side reports the broken connection
		c.logger.Warn("feed write failed", zap.String("type", msg.Type), zap.Error(err))
	}
}

func (c *Client) onFrame(gen uint64, data []byte) {
	if gen != c.gen {
		return
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		c.metrics.MessageMalformed("envelope")
		c.logger.Warn("dropping unparseable feed frame", zap.ByteString("frame", truncate(data, 256)), zap.Error(err))
		return
	}
	c.metrics.MessageReceived(env.Type)

	if env.Type == TypePing {
		c.send(ControlMessage{Type: TypePong, Timestamp: c.now().UnixMilli()})
		return
	}

	c.queue = append(c.queue, env)
	if c.batchTimer == nil {
		c.batchTimer = time.NewTimer(c.cfg.BatchInterval)
	}
}

// flush dispatches the queue grouped by (type, symbol).
func (c *Client) flush() {
	if len(c.queue) == 0 {
		return
	}
	batch := groupBatch(c.queue)
	c.queue = nil
	c.metrics.BatchFlushed(len(batch))
	for _, env := range batch {
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env Envelope) {
	switch env.Type {
	case TypeCandle:
		candle, err := model.ParseCandle(env.Data)
		if err == nil && env.Symbol == "" {
			err = errors.New("candle message without symbol")
		}
		if err != nil {
			c.malformed(env, err)
			return
		}
		c.candleTopic.Publish(CandleEvent{Symbol: env.Symbol, Candle: candle})

	case TypeTrade:
		trade, err := model.ParseTrade(env.Data)
		if err != nil {
			c.malformed(env, err)
			return
		}
		c.tradeTopic.Publish(TradeEvent{Symbol: symbolOr(env.Symbol, trade.Symbol), Trade: trade})

	case TypeOrderBook:
		ob, err := model.ParseOrderBook(env.Data)
		if err != nil {
			c.malformed(env, err)
			return
		}
		c.bookTopic.Publish(OrderBookEvent{Symbol: symbolOr(env.Symbol, ob.Symbol), OrderBook: ob})

	case TypePong:
	default:
		c.logger.Warn("unknown feed message type", zap.String("type", env.Type), zap.String("symbol", env.Symbol))
	}
}

func (c *Client) malformed(env Envelope, err error) {
	c.metrics.MessageMalformed(env.Type)
	c.logger.Warn("dropping malformed feed message",
		zap.String("type", env.Type),
		zap.String("symbol", env.Symbol),
		zap.Error(err))
}

func symbolOr(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
