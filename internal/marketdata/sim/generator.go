// Package sim generates synthetic market data in the feed wire format.
//
// A Generator random-walks a price per symbol and emits trade, candle and
// order book frames. Sessions drive a generator for one subscriber and speak
// the feed protocol (subscribe, unsubscribe, ping), either in-process through
// Dialer or over a WebSocket in cmd/feedserver.
package sim

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"market-workbench/internal/feed"
	"market-workbench/internal/model"
)

// Config tunes the generator.
type Config struct {
	// CandleInterval is the bar width of emitted candles.
	CandleInterval string
	// BookDepth is the number of levels per side.
	BookDepth int
	// Volatility is the max fractional move per step.
	Volatility float64
	// Seed fixes the random sequence; zero seeds from the clock.
	Seed int64
	// BasePrices overrides starting prices per symbol.
	BasePrices map[string]float64
}

var defaultPrices = map[string]float64{
	"BTCUSDT": 65000,
	"ETHUSDT": 3200,
	"SOLUSDT": 150,
	"ADAUSDT": 0.45,
}

type instrument struct {
	price    float64
	candle   model.Candle
	tradeSeq int64
	updateID int64
}

// Generator produces frames for any number of symbols. Safe for concurrent
// use.
type Generator struct {
	cfg Config
	now func() time.Time

	mu    sync.Mutex
	rng   *rand.Rand
	insts map[string]*instrument
}

// NewGenerator returns a generator with defaults applied.
func NewGenerator(cfg Config) *Generator {
	if cfg.CandleInterval == "" || !model.ValidInterval(cfg.CandleInterval) {
		cfg.CandleInterval = model.DefaultInterval
	}
	if cfg.BookDepth <= 0 {
		cfg.BookDepth = 20
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.001
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		cfg:   cfg,
		now:   time.Now,
		rng:   rand.New(rand.NewSource(seed)),
		insts: make(map[string]*instrument),
	}
}

// Price returns the current simulated price of symbol.
func (g *Generator) Price(symbol string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.instrument(symbol).price
}

func (g *Generator) instrument(symbol string) *instrument {
	in, ok := g.insts[symbol]
	if ok {
		return in
	}
	p, ok := g.cfg.BasePrices[symbol]
	if !ok {
		p, ok = defaultPrices[symbol]
	}
	if !ok {
		p = 100
	}
	in = &instrument{price: p}
	g.insts[symbol] = in
	return in
}

// Step advances symbol by one tick and returns its trade, candle and
// order book frames in that order.
func (g *Generator) Step(symbol string) [][]byte {
	g.mu.Lock()
	defer g.mu.Unlock()

	in := g.instrument(symbol)
	now := g.now().UnixMilli()

	move := (g.rng.Float64()*2 - 1) * g.cfg.Volatility
	in.price = math.Max(in.price*(1+move), 1e-8)
	qty := round(g.rng.Float64()*2+0.001, 6)
	side := model.SideBuy
	if move < 0 {
		side = model.SideSell
	}

	in.tradeSeq++
	trade := model.Trade{
		ID:     fmt.Sprintf("%s-%d-%d", symbol, now, in.tradeSeq),
		Symbol: symbol,
		Price:  in.price,
		Qty:    qty,
		Side:   side,
		TS:     now,
	}

	bar := model.AlignMs(now, g.cfg.CandleInterval)
	if in.candle.T != bar {
		in.candle = model.Candle{T: bar, O: in.price, H: in.price, L: in.price, C: in.price}
	}
	in.candle.H = math.Max(in.candle.H, in.price)
	in.candle.L = math.Min(in.candle.L, in.price)
	in.candle.C = in.price
	in.candle.V = round(in.candle.V+qty, 6)

	in.updateID++
	book := g.book(symbol, in, now)

	return [][]byte{
		frame(feed.TypeTrade, symbol, trade),
		frame(feed.TypeCandle, symbol, in.candle),
		frame(feed.TypeOrderBook, symbol, book),
	}
}

func (g *Generator) book(symbol string, in *instrument, now int64) model.OrderBook {
	tick := in.price * 0.0001
	ob := model.OrderBook{
		Symbol: symbol,
		Bids:   make([]model.BookLevel, 0, g.cfg.BookDepth),
		Asks:   make([]model.BookLevel, 0, g.cfg.BookDepth),
		TS:     now,
	}
	for i := 1; i <= g.cfg.BookDepth; i++ {
		off := tick * float64(i)
		ob.Bids = append(ob.Bids, model.BookLevel{Price: in.price - off, Qty: round(g.rng.Float64()*5, 4)})
		ob.Asks = append(ob.Asks, model.BookLevel{Price: in.price + off, Qty: round(g.rng.Float64()*5, 4)})
	}
	id := in.updateID
	ob.LastUpdateID = &id
	return ob
}

func frame(typ, symbol string, v any) []byte {
	data, _ := json.Marshal(v)
	b, _ := json.Marshal(feed.Envelope{Type: typ, Symbol: symbol, Data: data})
	return b
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
