package history

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"market-workbench/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ── fakes ──

type memStore struct {
	mu   sync.Mutex
	rows map[string]map[int64]model.Candle
}

func newMemStore() *memStore { return &memStore{rows: make(map[string]map[int64]model.Candle)} }

func (m *memStore) GetCandles(_ context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Candle
	for _, c := range m.rows[symbol+":"+interval] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].T < out[j].T })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memStore) GetCandlesInRange(context.Context, string, string, int64, int64) ([]model.Candle, error) {
	return nil, nil
}

func (m *memStore) AddCandles(_ context.Context, symbol, interval string, cs []model.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := symbol + ":" + interval
	if m.rows[k] == nil {
		m.rows[k] = make(map[int64]model.Candle)
	}
	for _, c := range cs {
		m.rows[k][c.T] = c
	}
	return nil
}

func (m *memStore) GetLatestCandle(context.Context, string, string) (model.Candle, error) {
	return model.Candle{}, errors.New("unused")
}

func (m *memStore) GetCacheInfo(context.Context, string, string) (model.CandleCacheInfo, error) {
	return model.CandleCacheInfo{}, nil
}

type stubProvider struct {
	calls   atomic.Int32
	err     error
	release chan struct{}
	candles []model.Candle
}

func (p *stubProvider) GetHistoricalCandles(ctx context.Context, _, _ string, _ int, _ int64) ([]model.Candle, error) {
	p.calls.Add(1)
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.candles, nil
}

func (p *stubProvider) GetLatestCandle(ctx context.Context, s, i string) (model.Candle, error) {
	cs, err := p.GetHistoricalCandles(ctx, s, i, 1, 0)
	if err != nil {
		return model.Candle{}, err
	}
	return cs[len(cs)-1], nil
}

// ── mock provider ──

func TestMockProvider_Deterministic(t *testing.T) {
	end := int64(1_700_000_030_000)
	a, err := NewMockProvider(42).GetHistoricalCandles(context.Background(), "BTCUSDT", "1m", 50, end)
	require.NoError(t, err)
	b, err := NewMockProvider(42).GetHistoricalCandles(context.Background(), "BTCUSDT", "1m", 50, end)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	require.Len(t, a, 50)
	assert.Equal(t, model.AlignMs(end, "1m"), a[49].T)
	for i, c := range a {
		assert.LessOrEqual(t, c.L, c.O, i)
		assert.LessOrEqual(t, c.L, c.C, i)
		assert.GreaterOrEqual(t, c.H, c.O, i)
		assert.GreaterOrEqual(t, c.H, c.C, i)
		if i > 0 {
			assert.Equal(t, int64(60000), c.T-a[i-1].T)
		}
	}
	assert.InDelta(t, 50000, a[0].O, 50000*0.05)
}

func TestMockProvider_LatestAndCancel(t *testing.T) {
	p := NewMockProvider(1)
	c, err := p.GetLatestCandle(context.Background(), "XYZ", "5m")
	require.NoError(t, err)
	assert.InDelta(t, 100, c.O, 5)

	p.Delay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.GetHistoricalCandles(ctx, "XYZ", "5m", 10, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

// ── binance provider ──

func TestBinanceProvider_ParsesKlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		assert.Contains(t, []string{"1", "2"}, r.URL.Query().Get("limit"))
		w.Write([]byte(`[
			[1700000000000,"100.5","101.0","99.0","100.0","12.5",1700003599999,"0",1,"0","0","0"],
			[1700003600000,"100.0","102.0","98.5","101.5","8.0",1700007199999,"0",1,"0","0","0"],
			["bad"]
		]`))
	}))
	defer srv.Close()

	p := NewBinanceProvider(srv.URL+"/api/v3", time.Second, zap.NewNop())
	cs, err := p.GetHistoricalCandles(context.Background(), "btcusdt", "1h", 2, 0)
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, model.Candle{T: 1700000000000, O: 100.5, H: 101, L: 99, C: 100, V: 12.5}, cs[0])

	latest, err := p.GetLatestCandle(context.Background(), "BTCUSDT", "1h")
	require.NoError(t, err)
	assert.Equal(t, int64(1700003600000), latest.T)
}

func TestBinanceProvider_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") == "NOPE" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"code":-1003,"msg":"Too many requests"}`))
	}))
	defer srv.Close()
	p := NewBinanceProvider(srv.URL, time.Second, nil)

	_, err := p.GetHistoricalCandles(context.Background(), "NOPE", "1m", 10, 0)
	assert.ErrorIs(t, err, ErrSymbolNotFound)

	_, err = p.GetHistoricalCandles(context.Background(), "BTCUSDT", "1m", 10, 0)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, -1003, apiErr.Code)

	_, err = p.GetHistoricalCandles(context.Background(), "BTCUSDT", "7m", 10, 0)
	assert.Error(t, err)
}

// ── candle service ──

func TestCandleService_ColdCacheFetchesSynchronously(t *testing.T) {
	store := newMemStore()
	prov := &stubProvider{candles: []model.Candle{{T: 1, C: 1}, {T: 2, C: 2}}}
	svc := NewCandleService(store, prov, time.Second, nil)
	defer svc.Close()

	res, err := svc.GetCandles(context.Background(), "BTCUSDT", "1m", 10)
	require.NoError(t, err)
	assert.Equal(t, SourceNetwork, res.Source)
	assert.False(t, res.Stale)
	assert.Len(t, res.Candles, 2)

	cached, _ := store.GetCandles(context.Background(), "BTCUSDT", "1m", 0)
	assert.Len(t, cached, 2)
}

func TestCandleService_ColdCacheErrorPropagates(t *testing.T) {
	prov := &stubProvider{err: ErrSymbolNotFound}
	svc := NewCandleService(newMemStore(), prov, time.Second, nil)
	defer svc.Close()

	_, err := svc.GetCandles(context.Background(), "NOPE", "1m", 10)
	assert.ErrorIs(t, err, ErrSymbolNotFound)
}

func TestCandleService_StaleWhileRevalidate(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.AddCandles(context.Background(), "BTCUSDT", "1m", []model.Candle{{T: 1, C: 1}}))
	prov := &stubProvider{
		release: make(chan struct{}),
		candles: []model.Candle{{T: 1, C: 1.5}, {T: 2, C: 2}},
	}
	svc := NewCandleService(store, prov, time.Second, nil)
	defer svc.Close()
	events, cancel := svc.Refreshed().Subscribe(4)
	defer cancel()

	res, err := svc.GetCandles(context.Background(), "BTCUSDT", "1m", 10)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.True(t, res.Stale)
	require.Len(t, res.Candles, 1)
	assert.Equal(t, 1.0, res.Candles[0].C)

	// a second read while revalidating does not start another fetch
	_, err = svc.GetCandles(context.Background(), "BTCUSDT", "1m", 10)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return prov.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(prov.release)

	select {
	case ev := <-events:
		assert.Equal(t, "BTCUSDT", ev.Symbol)
		assert.Equal(t, "1m", ev.Interval)
		assert.Len(t, ev.Candles, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("no refresh event")
	}
	assert.Equal(t, int32(1), prov.calls.Load())

	cached, _ := store.GetCandles(context.Background(), "BTCUSDT", "1m", 0)
	require.Len(t, cached, 2)
	assert.Equal(t, 1.5, cached[0].C)
}

func TestCandleService_RevalidationFailureKeepsCache(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.AddCandles(context.Background(), "ETHUSDT", "5m", []model.Candle{{T: 1, C: 3000}}))
	prov := &stubProvider{err: errors.New("network down")}
	svc := NewCandleService(store, prov, time.Second, nil)

	res, err := svc.GetCandles(context.Background(), "ETHUSDT", "5m", 10)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	svc.Close()

	assert.Equal(t, int32(1), prov.calls.Load())
	cached, _ := store.GetCandles(context.Background(), "ETHUSDT", "5m", 0)
	assert.Len(t, cached, 1)
}

func TestCandleService_RefreshFallsBackToCache(t *testing.T) {
	store := newMemStore()
	prov := &stubProvider{err: errors.New("timeout")}
	svc := NewCandleService(store, prov, time.Second, nil)
	defer svc.Close()

	_, err := svc.RefreshCandles(context.Background(), "SOLUSDT", "1m", 10)
	assert.EqualError(t, err, "timeout")

	require.NoError(t, store.AddCandles(context.Background(), "SOLUSDT", "1m", []model.Candle{{T: 5, C: 150}}))
	res, err := svc.RefreshCandles(context.Background(), "SOLUSDT", "1m", 10)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.True(t, res.Stale)
	assert.EqualError(t, res.Err, "timeout")

	prov.err = nil
	prov.candles = []model.Candle{{T: 5, C: 151}}
	res, err = svc.RefreshCandles(context.Background(), "SOLUSDT", "1m", 10)
	require.NoError(t, err)
	assert.Equal(t, SourceNetwork, res.Source)
	assert.Equal(t, 151.0, res.Candles[0].C)
}
