package feed

import (
	"time"

	"market-workbench/internal/model"
)

// State is the logical connection state of a Client.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// StateChange is emitted on every transition.
//
// For StateError, Attempt is the number of reconnects scheduled so far and
// RetryIn the delay before the next one. Terminal is set once the attempt
// budget is spent: no further automatic retries happen until Connect is
// called again.
type StateChange struct {
	State    State         `json:"state"`
	Attempt  int           `json:"attempt,omitempty"`
	RetryIn  time.Duration `json:"retryIn,omitempty"`
	Terminal bool          `json:"terminal,omitempty"`
	Err      error         `json:"-"`
	At       time.Time     `json:"at"`
}

// CandleEvent is a candle update for one symbol.
type CandleEvent struct {
	Symbol string       `json:"symbol"`
	Candle model.Candle `json:"candle"`
}

// TradeEvent is a single trade print.
type TradeEvent struct {
	Symbol string      `json:"symbol"`
	Trade  model.Trade `json:"trade"`
}

// OrderBookEvent is a full depth snapshot.
type OrderBookEvent struct {
	Symbol    string          `json:"symbol"`
	OrderBook model.OrderBook `json:"orderBook"`
}
