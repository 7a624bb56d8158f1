package indicator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func TestPool_ConcurrentRequestsAreIndependent(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 4}, zap.NewNop())
	defer p.Close()

	candles := candlesFromCloses(trendCloses...)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(period int) {
			defer wg.Done()
			got, err := p.EMA(candles, period).Wait(ctx)
			if err != nil {
				t.Errorf("period %d: %v", period, err)
				return
			}
			want := EMA(candles, period)
			for j := range want {
				if got[j] != want[j] {
					t.Errorf("period %d: got[%d]=%v want %v", period, j, got[j], want[j])
					return
				}
			}
		}(i%10 + 1)
	}
	wg.Wait()
}

func TestPool_InputIsCopied(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1}, zap.NewNop())
	defer p.Close()

	candles := candlesFromCloses(1, 2, 3)
	f := p.SMA(candles, 3)
	candles[2].C = 1000 // must not leak into the submitted job

	got, err := f.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "sma last", got[2], 2, 1e-12)
}

func TestPool_ComputeAllAndBands(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 2}, zap.NewNop())
	defer p.Close()
	candles := candlesFromCloses(trendCloses...)

	all, err := p.ComputeAll(candles).Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if all.EMA[0] != 102 {
		t.Errorf("ema seed = %v, want 102", all.EMA[0])
	}

	bands, err := p.BollingerBands(candles, 5, 2).Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(bands.Middle) != len(candles) {
		t.Errorf("bands len %d, want %d", len(bands.Middle), len(candles))
	}

	res, err := p.Compute(candles, Request{Kind: "nope"}).Wait(context.Background())
	if err == nil {
		t.Errorf("expected error for unknown kind, got %+v", res)
	}
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1}, zap.NewNop())
	p.Close()
	p.Close() // idempotent

	_, err := p.RSI(candlesFromCloses(1, 2), 14).Wait(context.Background())
	if !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestFuture_WaitHonoursContext(t *testing.T) {
	f := newFuture[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPool_ObservesDuration(t *testing.T) {
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_indicator_compute_seconds",
		Help: "test",
	}, []string{"kind"})
	p := NewPool(PoolConfig{Workers: 1, ComputeDuration: hist}, zap.NewNop())

	if _, err := p.VWAP(candlesFromCloses(1, 2, 3)).Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	p.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(hist)
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(mfs) != 1 || len(mfs[0].GetMetric()) != 1 {
		t.Fatalf("expected one vwap series, got %v", mfs)
	}
	if c := mfs[0].GetMetric()[0].GetHistogram().GetSampleCount(); c != 1 {
		t.Errorf("expected 1 sample, got %d", c)
	}
}
