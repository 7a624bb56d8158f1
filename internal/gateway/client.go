package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxMessage = 4096
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// clientMessage is a client -> server request.
type clientMessage struct {
	Type   string `json:"type"` // subscribe, unsubscribe, ping
	Symbol string `json:"symbol,omitempty"`
}

func controlFrame(typ, symbol string) []byte {
	b, _ := json.Marshal(clientMessage{Type: typ, Symbol: symbol})
	return b
}

func errorFrame(msg string) []byte {
	b, _ := json.Marshal(map[string]string{"type": "error", "error": msg})
	return b
}

// Client is one WebSocket peer.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	subMu sync.RWMutex
	subs  map[string]struct{}

	closeOnce sync.Once
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
		subs: make(map[string]struct{}),
	}
}

func (c *Client) subscribed(symbol string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subs[symbol]
	return ok
}

func (c *Client) addSub(symbol string) {
	c.subMu.Lock()
	c.subs[symbol] = struct{}{}
	c.subMu.Unlock()
}

func (c *Client) removeSub(symbol string) {
	c.subMu.Lock()
	delete(c.subs, symbol)
	c.subMu.Unlock()
}

// Symbols returns the client's subscriptions.
func (c *Client) Symbols() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	out := make([]string, 0, len(c.subs))
	for s := range c.subs {
		out = append(out, s)
	}
	return out
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			c.conn.Close()
			return
		}
		c.hub.unregister(c)
	})
}

// ServeWS upgrades the request and runs the client until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	conn.EnableWriteCompression(true)
	c := newClient(h, conn)
	h.register(c)

	go c.writePump()
	go c.readPump()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
			// drain what queued up meanwhile, one envelope per frame
			for n := len(c.send); n > 0; n-- {
				next, ok := <-c.send
				if !ok {
					return
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, next); err != nil {
					return
				}
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("ws read error", zap.Error(err))
			}
			return
		}
		c.handle(raw)
	}
}

func (c *Client) handle(raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.reply(errorFrame("invalid message: " + err.Error()))
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(msg.Symbol))

	switch msg.Type {
	case "subscribe":
		if symbol == "" {
			c.reply(errorFrame("symbol is required"))
			return
		}
		c.hub.subscribe(c, symbol)
	case "unsubscribe":
		if symbol == "" {
			c.reply(errorFrame("symbol is required"))
			return
		}
		c.hub.unsubscribe(c, symbol)
	case "ping":
		pong, _ := json.Marshal(map[string]any{"type": "pong", "ts": c.hub.now().UnixMilli()})
		c.reply(pong)
	default:
		c.reply(errorFrame("unknown message type " + msg.Type))
	}
}

// reply queues a control frame without blocking.
func (c *Client) reply(msg []byte) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if _, ok := c.hub.clients[c]; ok {
		c.hub.deliver(c, msg)
	}
}
