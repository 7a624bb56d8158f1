package model

import (
	"fmt"
)

// BookLevel is one aggregated price level.
type BookLevel struct {
	Price float64 `json:"price" validate:"gt=0"`
	Qty   float64 `json:"qty" validate:"gte=0"`
}

// OrderBook is an L2 depth snapshot. Bids are price-descending, asks
// price-ascending. The ordering is assumed, not enforced.
type OrderBook struct {
	Symbol       string      `json:"symbol" validate:"required"`
	Bids         []BookLevel `json:"bids" validate:"dive"`
	Asks         []BookLevel `json:"asks" validate:"dive"`
	LastUpdateID *int64      `json:"lastUpdateId,omitempty"`
	TS           int64       `json:"ts"`
}

// BestBid returns the top bid level.
func (ob OrderBook) BestBid() (BookLevel, bool) {
	if len(ob.Bids) == 0 {
		return BookLevel{}, false
	}
	return ob.Bids[0], true
}

// BestAsk returns the top ask level.
func (ob OrderBook) BestAsk() (BookLevel, bool) {
	if len(ob.Asks) == 0 {
		return BookLevel{}, false
	}
	return ob.Asks[0], true
}

// Spread returns best ask minus best bid. ok is false if either side is empty.
func (ob OrderBook) Spread() (float64, bool) {
	bid, okB := ob.BestBid()
	ask, okA := ob.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return ask.Price - bid.Price, true
}

// MidPrice returns the midpoint of the best bid and ask.
func (ob OrderBook) MidPrice() (float64, bool) {
	bid, okB := ob.BestBid()
	ask, okA := ob.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return (ask.Price + bid.Price) / 2, true
}

// ParseOrderBook builds an OrderBook from a raw JSON object.
func ParseOrderBook(raw []byte) (OrderBook, error) {
	r := newFieldReader("orderbook", raw)
	ob := OrderBook{
		Symbol:       r.str("symbol"),
		LastUpdateID: r.optInteger("lastUpdateId"),
		TS:           r.integer("ts"),
	}
	ob.Bids = parseLevels(r, "bids")
	ob.Asks = parseLevels(r, "asks")
	r.check(ob)
	if err := r.err(); err != nil {
		return OrderBook{}, err
	}
	return ob, nil
}

func parseLevels(r *fieldReader, side string) []BookLevel {
	items := r.array(side)
	levels := make([]BookLevel, 0, len(items))
	for i, item := range items {
		lr := r.nested(fmt.Sprintf("%s[%d]", side, i), item)
		levels = append(levels, BookLevel{
			Price: lr.number("price"),
			Qty:   lr.number("qty"),
		})
	}
	return levels
}
