// Package history fetches historical candles from a market-data provider and
// serves them through the cache with stale-while-revalidate semantics.
package history

import (
	"context"
	"errors"

	"market-workbench/internal/model"
)

// Limits applied to provider fetches.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// ErrSymbolNotFound is returned when the provider does not list the symbol.
var ErrSymbolNotFound = errors.New("history: symbol not found")

// Provider is a source of historical candles.
type Provider interface {
	// GetHistoricalCandles returns up to limit bars ending at endTime (epoch
	// ms, zero for now), ascending.
	GetHistoricalCandles(ctx context.Context, symbol, interval string, limit int, endTime int64) ([]model.Candle, error)
	// GetLatestCandle returns the most recent bar.
	GetLatestCandle(ctx context.Context, symbol, interval string) (model.Candle, error)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}
