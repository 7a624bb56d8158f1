package sqlite

import (
	"context"
	"sync"
	"time"

	"market-workbench/internal/feed"
	"market-workbench/internal/model"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// Recorder writes live feed events into the cache in batched transactions.
// A batch is committed every defaultBatchSize events or every
// defaultFlushDelay, whichever comes first.
type Recorder struct {
	store    *Store
	interval string
	logger   *zap.Logger

	batchSize  int
	flushDelay time.Duration

	mu   sync.RWMutex
	live map[string]model.Candle
}

// NewRecorder stores candles under interval (the live bar width).
func NewRecorder(store *Store, interval string, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval == "" {
		interval = model.DefaultInterval
	}
	return &Recorder{
		store:      store,
		interval:   interval,
		logger:     logger.With(zap.String("component", "recorder")),
		batchSize:  defaultBatchSize,
		flushDelay: defaultFlushDelay,
		live:       make(map[string]model.Candle),
	}
}

// LiveCandle returns the newest live bar seen for symbol, which may not be
// committed yet. ok is false for any interval other than the recorded one.
func (r *Recorder) LiveCandle(symbol, interval string) (model.Candle, bool) {
	if interval != r.interval {
		return model.Candle{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.live[symbol]
	return c, ok
}

func (r *Recorder) observeLive(symbol string, c model.Candle) {
	r.mu.Lock()
	if prev, ok := r.live[symbol]; !ok || c.T >= prev.T {
		r.live[symbol] = c
	}
	r.mu.Unlock()
}

type pending struct {
	trades  []model.Trade
	candles map[string][]model.Candle
	books   map[string]model.OrderBook
	n       int
}

func (p *pending) reset() {
	p.trades = p.trades[:0]
	p.candles = make(map[string][]model.Candle)
	p.books = make(map[string]model.OrderBook)
	p.n = 0
}

// Run consumes the three channels until all of them are closed, then commits
// what is left. Nil channels are ignored. Cancelling ctx commits the open
// batch early; Run keeps draining until the feed closes its topics, which
// happens after its final disconnect flush.
func (r *Recorder) Run(ctx context.Context, candles <-chan feed.CandleEvent, trades <-chan feed.TradeEvent, books <-chan feed.OrderBookEvent) {
	var p pending
	p.reset()
	timer := time.NewTimer(r.flushDelay)
	defer timer.Stop()

	flush := func() {
		if p.n == 0 {
			return
		}
		start := time.Now()
		n := p.n
		// commit outlives ctx so the final batch lands during shutdown
		if err := r.commit(context.Background(), &p); err != nil {
			r.logger.Error("recorder batch commit failed", zap.Int("events", n), zap.Error(err))
		} else {
			r.logger.Debug("recorder batch committed", zap.Int("events", n), zap.Duration("took", time.Since(start)))
		}
		p.reset()
	}
	added := func() {
		p.n++
		if p.n >= r.batchSize {
			flush()
			timer.Reset(r.flushDelay)
		}
	}

	stop := ctx.Done()
	for candles != nil || trades != nil || books != nil {
		select {
		case <-stop:
			stop = nil
			flush()

		case ev, ok := <-candles:
			if !ok {
				candles = nil
				continue
			}
			r.observeLive(ev.Symbol, ev.Candle)
			p.candles[ev.Symbol] = append(p.candles[ev.Symbol], ev.Candle)
			added()

		case ev, ok := <-trades:
			if !ok {
				trades = nil
				continue
			}
			p.trades = append(p.trades, ev.Trade)
			added()

		case ev, ok := <-books:
			if !ok {
				books = nil
				continue
			}
			if ev.OrderBook.Symbol == "" {
				ev.OrderBook.Symbol = ev.Symbol
			}
			p.books[ev.OrderBook.Symbol] = ev.OrderBook
			added()

		case <-timer.C:
			flush()
			timer.Reset(r.flushDelay)
		}
	}
	flush()
}

func (r *Recorder) commit(ctx context.Context, p *pending) error {
	defer r.store.observe("record_batch")()
	return r.store.withTx(ctx, func(tx *sqlx.Tx) error {
		if len(p.trades) > 0 {
			if err := insertTrades(ctx, tx, p.trades); err != nil {
				return err
			}
		}
		for sym, cs := range p.candles {
			if err := insertCandles(ctx, tx, sym, r.interval, cs); err != nil {
				return err
			}
		}
		for _, ob := range p.books {
			if err := replaceOrderBook(ctx, tx, ob); err != nil {
				return err
			}
		}
		return nil
	})
}
