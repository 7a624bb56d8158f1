package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Channel string          `json:"channel"`
	Seq     int64           `json:"seq"`
	Data    json.RawMessage `json:"data"`
	TS      int64           `json:"ts"`
}

func testHub() *Hub {
	h := NewHub(Config{ReplaySize: 10, SendBuffer: 4}, nil)
	h.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return h
}

// attach registers a connection-less client for hub-level tests.
func attach(h *Hub) *Client {
	c := newClient(h, nil)
	h.register(c)
	return c
}

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestEnvelopeFormat(t *testing.T) {
	buf := buildEnvelope(`trade:BTC"USDT`, 42, []byte(`{"id":"t1","price":100.5}`), 1_700_000_000_123)

	var env envelope
	require.NoError(t, json.Unmarshal(buf, &env), "raw: %s", buf)
	assert.Equal(t, `trade:BTC"USDT`, env.Channel)
	assert.Equal(t, int64(42), env.Seq)
	assert.Equal(t, int64(1_700_000_000_123), env.TS)
	assert.JSONEq(t, `{"id":"t1","price":100.5}`, string(env.Data))
}

func TestHub_RoutesBySymbolWithPerChannelSeq(t *testing.T) {
	h := testHub()
	btc, eth := attach(h), attach(h)
	h.subscribe(btc, "BTCUSDT")
	h.subscribe(eth, "ETHUSDT")
	drain(btc)
	drain(eth)

	assert.Equal(t, int64(1), h.Broadcast("trade:BTCUSDT", []byte(`{"n":1}`)))
	assert.Equal(t, int64(2), h.Broadcast("trade:BTCUSDT", []byte(`{"n":2}`)))
	assert.Equal(t, int64(1), h.Broadcast("candle:BTCUSDT", []byte(`{"n":3}`)))
	assert.Equal(t, int64(1), h.Broadcast("trade:ETHUSDT", []byte(`{"n":4}`)))

	got := drain(btc)
	require.Len(t, got, 3)
	var env envelope
	require.NoError(t, json.Unmarshal(got[1], &env))
	assert.Equal(t, "trade:BTCUSDT", env.Channel)
	assert.Equal(t, int64(2), env.Seq)
	assert.Len(t, drain(eth), 1)
	assert.Equal(t, int64(2), h.Seq("trade:BTCUSDT"))
}

func TestHub_SubscribeSendsLatest(t *testing.T) {
	h := testHub()
	h.Broadcast("trade:BTCUSDT", []byte(`{"n":1}`))
	h.Broadcast("trade:BTCUSDT", []byte(`{"n":2}`))
	h.Broadcast("orderbook:BTCUSDT", []byte(`{"n":3}`))
	h.Broadcast("trade:ETHUSDT", []byte(`{"n":4}`))

	c := attach(h)
	h.subscribe(c, "BTCUSDT")
	got := drain(c)
	require.Len(t, got, 3)
	assert.JSONEq(t, `{"type":"subscribed","symbol":"BTCUSDT"}`, string(got[0]))

	latest := map[string]int64{}
	for _, raw := range got[1:] {
		var env envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		latest[env.Channel] = env.Seq
	}
	assert.Equal(t, map[string]int64{"trade:BTCUSDT": 2, "orderbook:BTCUSDT": 1}, latest)

	h.unsubscribe(c, "BTCUSDT")
	drain(c)
	h.Broadcast("trade:BTCUSDT", []byte(`{"n":5}`))
	assert.Empty(t, drain(c))
}

func TestHub_SlowClientDrops(t *testing.T) {
	h := testHub()
	var dropped int
	h.OnDrop = func() { dropped++ }
	c := attach(h)
	h.subscribe(c, "BTCUSDT")
	drain(c)

	for i := 0; i < 10; i++ {
		h.Broadcast("trade:BTCUSDT", []byte(`{}`))
	}
	assert.Len(t, drain(c), 4)
	assert.Equal(t, 6, dropped)
}

func TestHub_Replay(t *testing.T) {
	h := testHub()
	for i := 0; i < 15; i++ {
		h.Broadcast("candle:SOLUSDT", []byte(`{}`))
	}
	got := h.Replay("candle:SOLUSDT", 1, 8)
	require.Len(t, got, 3, "only seqs 6..15 are retained")
	var env envelope
	require.NoError(t, json.Unmarshal(got[0], &env))
	assert.Equal(t, int64(6), env.Seq)
	assert.Empty(t, h.Replay("candle:NONE", 1, 10))
}

func TestHub_ClientCountAndClose(t *testing.T) {
	h := testHub()
	var counts []int
	h.OnClients = func(n int) { counts = append(counts, n) }
	attach(h)
	attach(h)
	assert.Equal(t, 2, h.ClientCount())
	h.Close()
	assert.Equal(t, 0, h.ClientCount())
	assert.Equal(t, []int{1, 2, 1, 0}, counts)
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v), "raw: %s", raw)
}

func TestServeWS_EndToEnd(t *testing.T) {
	h := NewHub(Config{}, nil)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()
	defer h.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "symbol": "btcusdt"}))
	var ack map[string]string
	readJSON(t, conn, &ack)
	assert.Equal(t, map[string]string{"type": "subscribed", "symbol": "BTCUSDT"}, ack)

	h.Broadcast("trade:BTCUSDT", []byte(`{"id":"t1"}`))
	var env envelope
	readJSON(t, conn, &env)
	assert.Equal(t, "trade:BTCUSDT", env.Channel)
	assert.Equal(t, int64(1), env.Seq)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	var pong map[string]any
	readJSON(t, conn, &pong)
	assert.Equal(t, "pong", pong["type"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe"}))
	var errMsg map[string]string
	readJSON(t, conn, &errMsg)
	assert.Equal(t, "error", errMsg["type"])
}
