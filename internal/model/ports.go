package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// Services depend on these; internal/store/sqlite implements them.

// CandleCacheInfo describes what the cache holds for one series.
type CandleCacheInfo struct {
	Count      int   `json:"count" db:"count"`
	OldestTime int64 `json:"oldestTime" db:"oldest"`
	NewestTime int64 `json:"newestTime" db:"newest"`
}

// TradeStats summarises the cached trades of a symbol.
type TradeStats struct {
	Count       int     `json:"count" db:"count"`
	OldestTime  int64   `json:"oldestTime" db:"oldest"`
	NewestTime  int64   `json:"newestTime" db:"newest"`
	TotalVolume float64 `json:"totalVolume" db:"total_volume"` // Σ price*qty
}

// OrderBookStats summarises the cached snapshots of a symbol.
type OrderBookStats struct {
	Count         int     `json:"count"`
	LatestUpdate  int64   `json:"latestUpdate"`
	AverageSpread float64 `json:"averageSpread"`
}

// SymbolStore persists the watchlist.
type SymbolStore interface {
	GetSymbols(ctx context.Context) ([]CachedSymbol, error)
	GetSymbol(ctx context.Context, id string) (CachedSymbol, error)
	GetPinnedSymbols(ctx context.Context) ([]CachedSymbol, error)
	SearchSymbols(ctx context.Context, q string) ([]CachedSymbol, error)
	AddSymbol(ctx context.Context, s Symbol) error
	RemoveSymbol(ctx context.Context, id string) error
	PinSymbol(ctx context.Context, id string) error
	UnpinSymbol(ctx context.Context, id string) error
}

// CandleStore persists candle series keyed by (symbol, interval, t).
type CandleStore interface {
	// GetCandles returns the newest limit bars in ascending order.
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	GetCandlesInRange(ctx context.Context, symbol, interval string, start, end int64) ([]Candle, error)
	AddCandles(ctx context.Context, symbol, interval string, candles []Candle) error
	GetLatestCandle(ctx context.Context, symbol, interval string) (Candle, error)
	GetCacheInfo(ctx context.Context, symbol, interval string) (CandleCacheInfo, error)
}

// TradeStore persists trades keyed by id.
type TradeStore interface {
	// GetTrades returns the newest limit trades, most recent first.
	GetTrades(ctx context.Context, symbol string, limit int) ([]Trade, error)
	AddTrades(ctx context.Context, trades []Trade) error
	GetTradeStats(ctx context.Context, symbol string) (TradeStats, error)
	PurgeTradesOlderThan(ctx context.Context, symbol string, maxAge time.Duration) (int64, error)
}

// OrderBookStore keeps the latest snapshot per symbol.
type OrderBookStore interface {
	AddOrderBook(ctx context.Context, ob OrderBook) error
	GetLatestOrderBook(ctx context.Context, symbol string) (OrderBook, error)
	GetOrderBookStats(ctx context.Context, symbol string) (OrderBookStats, error)
}

// SettingsStore holds the single settings row.
type SettingsStore interface {
	SaveSettings(ctx context.Context, data []byte) error
	GetSettings(ctx context.Context) ([]byte, error)
	ClearSettings(ctx context.Context) error
}
