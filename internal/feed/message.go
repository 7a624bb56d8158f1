package feed

import (
	"encoding/json"
)

// Message types on the wire.
const (
	TypeCandle      = "candle"
	TypeTrade       = "trade"
	TypeOrderBook   = "orderbook"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

// Envelope is the inbound frame shape:
//
//	{"type":"trade","symbol":"BTCUSDT","data":{...}}
type Envelope struct {
	Type   string          `json:"type"`
	Symbol string          `json:"symbol,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// batchKey groups queued envelopes during a flush.
func (e Envelope) batchKey() string {
	sym := e.Symbol
	if sym == "" {
		sym = "global"
	}
	return e.Type + "-" + sym
}

// ControlMessage is an outbound subscribe/unsubscribe/ping/pong frame.
type ControlMessage struct {
	Type      string `json:"type"`
	Symbol    string `json:"symbol,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// groupBatch orders envelopes by (type, symbol) group. Groups appear in the
// order their first message arrived; messages keep arrival order within a
// group.
func groupBatch(batch []Envelope) []Envelope {
	if len(batch) < 2 {
		return batch
	}
	index := make(map[string]int)
	var groups [][]Envelope
	for _, env := range batch {
		k := env.batchKey()
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], env)
	}
	out := make([]Envelope, 0, len(batch))
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
