package indicator

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"market-workbench/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ErrPoolClosed is returned by futures submitted after Close.
var ErrPoolClosed = errors.New("indicator pool is closed")

// PoolConfig configures a Pool.
type PoolConfig struct {
	Workers   int // defaults to GOMAXPROCS
	QueueSize int // pending jobs before Submit blocks; defaults to 64

	// ComputeDuration, if set, observes seconds per job labelled by kind.
	ComputeDuration *prometheus.HistogramVec
}

// Pool runs indicator computations on a fixed set of worker goroutines so
// callers never do the math on their own goroutine.
type Pool struct {
	cfg    PoolConfig
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan func()
	wg     sync.WaitGroup
}

// NewPool starts the workers.
func NewPool(cfg PoolConfig, logger *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		cfg:    cfg,
		logger: logger,
		jobs:   make(chan func(), cfg.QueueSize),
	}
	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		job()
	}
}

// Close stops accepting work and waits for queued jobs to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

// Future is the pending result of a submitted job.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) resolve(v T, err error) {
	f.val, f.err = v, err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the result is ready or ctx ends. Cancelling ctx does not
// stop the computation itself.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// submit copies nothing itself; callers pass an already-copied input.
func submit[T any](p *Pool, kind Kind, fn func() (T, error)) *Future[T] {
	f := newFuture[T]()

	job := func() {
		start := time.Now()
		var (
			v   T
			err error
		)
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("indicator %s panicked: %v", kind, r)
					p.logger.Error("indicator computation panicked", zap.String("kind", string(kind)), zap.Any("panic", r))
				}
			}()
			v, err = fn()
		}()
		if p.cfg.ComputeDuration != nil {
			p.cfg.ComputeDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
		}
		f.resolve(v, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		var zero T
		f.resolve(zero, ErrPoolClosed)
		return f
	}
	p.jobs <- job
	return f
}

func cloneCandles(candles []model.Candle) []model.Candle {
	cp := make([]model.Candle, len(candles))
	copy(cp, candles)
	return cp
}

// EMA submits an EMA computation.
func (p *Pool) EMA(candles []model.Candle, period int) *Future[[]float64] {
	in := cloneCandles(candles)
	return submit(p, KindEMA, func() ([]float64, error) { return EMA(in, period), nil })
}

// VWAP submits a VWAP computation.
func (p *Pool) VWAP(candles []model.Candle) *Future[[]float64] {
	in := cloneCandles(candles)
	return submit(p, KindVWAP, func() ([]float64, error) { return VWAP(in), nil })
}

// RSI submits an RSI computation.
func (p *Pool) RSI(candles []model.Candle, period int) *Future[[]float64] {
	in := cloneCandles(candles)
	return submit(p, KindRSI, func() ([]float64, error) { return RSI(in, period), nil })
}

// SMA submits an SMA computation.
func (p *Pool) SMA(candles []model.Candle, period int) *Future[[]float64] {
	in := cloneCandles(candles)
	return submit(p, KindSMA, func() ([]float64, error) { return SMA(in, period), nil })
}

// BollingerBands submits a Bollinger Bands computation.
func (p *Pool) BollingerBands(candles []model.Candle, period int, stdDev float64) *Future[Bands] {
	in := cloneCandles(candles)
	return submit(p, KindBollinger, func() (Bands, error) { return BollingerBands(in, period, stdDev), nil })
}

// ComputeAll submits the bundled default computation.
func (p *Pool) ComputeAll(candles []model.Candle) *Future[All] {
	in := cloneCandles(candles)
	return submit(p, KindAll, func() (All, error) { return ComputeAll(in), nil })
}

// Compute submits an arbitrary request.
func (p *Pool) Compute(candles []model.Candle, req Request) *Future[Result] {
	in := cloneCandles(candles)
	return submit(p, req.Kind, func() (Result, error) { return Compute(in, req) })
}
