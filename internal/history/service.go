package history

import (
	"context"
	"sync"
	"time"

	"market-workbench/internal/marketdata/bus"
	"market-workbench/internal/model"

	"go.uber.org/zap"
)

// Source tells where a candle result came from.
type Source string

const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
)

// Result is a candle series plus its provenance. Stale is set when the
// series came from cache while a fresher copy may exist; Err then carries
// the network error that forced the fallback, if any.
type Result struct {
	Candles []model.Candle `json:"candles"`
	Source  Source         `json:"source"`
	Stale   bool           `json:"stale"`
	Err     error          `json:"-"`
}

// CandlesRefreshed is published after a background revalidation updated the
// cache.
type CandlesRefreshed struct {
	Symbol   string         `json:"symbol"`
	Interval string         `json:"interval"`
	Candles  []model.Candle `json:"candles"`
}

// CandleService serves candles from the cache and keeps it fresh from a
// Provider.
type CandleService struct {
	store    model.CandleStore
	provider Provider
	logger   *zap.Logger
	timeout  time.Duration
	topic    *bus.Topic[CandlesRefreshed]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewCandleService wires a cache and a provider. timeout bounds each
// background revalidation.
func NewCandleService(store model.CandleStore, provider Provider, timeout time.Duration, logger *zap.Logger) *CandleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &CandleService{
		store:    store,
		provider: provider,
		logger:   logger.With(zap.String("component", "candles")),
		timeout:  timeout,
		topic:    bus.NewTopic[CandlesRefreshed]("candles.refreshed", logger),
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]struct{}),
	}
}

// Refreshed is the topic of completed revalidations.
func (s *CandleService) Refreshed() *bus.Topic[CandlesRefreshed] { return s.topic }

// GetCandles returns cached candles immediately when there are any and
// revalidates them in the background. An empty cache is filled
// synchronously from the provider.
func (s *CandleService) GetCandles(ctx context.Context, symbol, interval string, limit int) (Result, error) {
	limit = clampLimit(limit)
	cached, err := s.store.GetCandles(ctx, symbol, interval, limit)
	if err != nil {
		s.logger.Warn("cache read failed, fetching from provider",
			zap.String("symbol", symbol), zap.String("interval", interval), zap.Error(err))
	}
	if len(cached) > 0 {
		s.revalidate(symbol, interval, limit)
		return Result{Candles: cached, Source: SourceCache, Stale: true}, nil
	}

	fresh, err := s.fetchAndStore(ctx, symbol, interval, limit)
	if err != nil {
		return Result{}, err
	}
	return Result{Candles: fresh, Source: SourceNetwork}, nil
}

// RefreshCandles fetches from the provider first. On failure it falls back
// to a non-empty cache, returning the cached series marked stale with the
// error attached.
func (s *CandleService) RefreshCandles(ctx context.Context, symbol, interval string, limit int) (Result, error) {
	limit = clampLimit(limit)
	fresh, err := s.fetchAndStore(ctx, symbol, interval, limit)
	if err == nil {
		return Result{Candles: fresh, Source: SourceNetwork}, nil
	}
	cached, cerr := s.store.GetCandles(ctx, symbol, interval, limit)
	if cerr != nil || len(cached) == 0 {
		return Result{}, err
	}
	s.logger.Warn("refresh failed, serving cached candles",
		zap.String("symbol", symbol), zap.String("interval", interval), zap.Error(err))
	return Result{Candles: cached, Source: SourceCache, Stale: true, Err: err}, nil
}

func (s *CandleService) fetchAndStore(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	fresh, err := s.provider.GetHistoricalCandles(ctx, symbol, interval, limit, 0)
	if err != nil {
		return nil, err
	}
	if err := s.store.AddCandles(ctx, symbol, interval, fresh); err != nil {
		// the caller still gets the fetched data
		s.logger.Error("cache write failed",
			zap.String("symbol", symbol), zap.String("interval", interval), zap.Error(err))
	}
	if fresh == nil {
		fresh = []model.Candle{}
	}
	return fresh, nil
}

// revalidate starts one background refresh per series; calls for a series
// already being refreshed are dropped.
func (s *CandleService) revalidate(symbol, interval string, limit int) {
	key := symbol + ":" + interval
	s.mu.Lock()
	if _, busy := s.inflight[key]; busy || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.inflight[key] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, key)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()
		fresh, err := s.provider.GetHistoricalCandles(ctx, symbol, interval, limit, 0)
		if err != nil {
			s.logger.Warn("background revalidation failed",
				zap.String("symbol", symbol), zap.String("interval", interval), zap.Error(err))
			return
		}
		if err := s.store.AddCandles(ctx, symbol, interval, fresh); err != nil {
			s.logger.Error("background cache write failed",
				zap.String("symbol", symbol), zap.String("interval", interval), zap.Error(err))
			return
		}
		s.topic.Publish(CandlesRefreshed{Symbol: symbol, Interval: interval, Candles: fresh})
	}()
}

// Close cancels pending revalidations and waits for them.
func (s *CandleService) Close() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	s.topic.Close()
}
