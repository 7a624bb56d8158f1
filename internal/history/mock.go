package history

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"market-workbench/internal/model"
)

// MockProvider generates random-walk candles. With a fixed seed its output
// is reproducible.
type MockProvider struct {
	// Delay simulates network latency per call.
	Delay time.Duration
	Now   func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMockProvider returns a provider seeded with seed, or from the clock
// when seed is zero.
func NewMockProvider(seed int64) *MockProvider {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &MockProvider{Now: time.Now, rng: rand.New(rand.NewSource(seed))}
}

func mockBasePrice(symbol string) float64 {
	switch {
	case strings.Contains(symbol, "BTC"):
		return 50000
	case strings.Contains(symbol, "ETH"):
		return 3000
	case strings.Contains(symbol, "SOL"):
		return 200
	}
	return 100
}

// GetHistoricalCandles implements Provider.
func (p *MockProvider) GetHistoricalCandles(ctx context.Context, symbol, interval string, limit int, endTime int64) ([]model.Candle, error) {
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)
	if endTime <= 0 {
		endTime = p.Now().UnixMilli()
	}
	step := model.IntervalDuration(interval).Milliseconds()
	last := model.AlignMs(endTime, interval)

	p.mu.Lock()
	defer p.mu.Unlock()

	price := mockBasePrice(symbol)
	out := make([]model.Candle, 0, limit)
	for i := limit - 1; i >= 0; i-- {
		open := price * (1 + (p.rng.Float64()-0.5)*0.02)
		high := open * (1 + p.rng.Float64()*0.01)
		low := open * (1 - p.rng.Float64()*0.01)
		closePx := open * (1 + (p.rng.Float64()-0.5)*0.005)
		out = append(out, model.Candle{
			T: last - int64(i)*step,
			O: round2(open),
			H: round2(math.Max(high, math.Max(open, closePx))),
			L: round2(math.Min(low, math.Min(open, closePx))),
			C: round2(closePx),
			V: round2(p.rng.Float64()*1000 + 100),
		})
		price = closePx
	}
	return out, nil
}

// GetLatestCandle implements Provider.
func (p *MockProvider) GetLatestCandle(ctx context.Context, symbol, interval string) (model.Candle, error) {
	cs, err := p.GetHistoricalCandles(ctx, symbol, interval, 1, 0)
	if err != nil {
		return model.Candle{}, err
	}
	return cs[0], nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
