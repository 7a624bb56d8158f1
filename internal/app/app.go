// Package app wires the workbench components together and owns their
// lifecycle.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"market-workbench/config"
	"market-workbench/internal/api"
	"market-workbench/internal/feed"
	"market-workbench/internal/gateway"
	"market-workbench/internal/history"
	"market-workbench/internal/indicator"
	"market-workbench/internal/kafka"
	"market-workbench/internal/marketdata/sim"
	"market-workbench/internal/metrics"
	"market-workbench/internal/relay"
	"market-workbench/internal/settings"
	"market-workbench/internal/store/redis"
	"market-workbench/internal/store/sqlite"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const (
	topicBuffer      = 1024
	healthInterval   = 10 * time.Second
	saturationPeriod = 5 * time.Second
)

// App is the assembled workbench.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Health   *metrics.Health

	Store    *sqlite.Store
	Candles  *history.CandleService
	Pool     *indicator.Pool
	Settings *settings.Service
	Feed     *feed.Client
	Hub      *gateway.Hub
	Relay    *relay.Relay
	Router   *gin.Engine

	recorder   *sqlite.Recorder
	redisPub   *redis.Publisher
	buffered   *redis.BufferedWriter
	producer   *kafka.Producer
	httpSrv    *http.Server
	metricsSrv *metrics.Server
}

// New builds every component from cfg. Nothing runs until Run.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)
	a.Health = metrics.NewHealth()

	store, err := sqlite.Open(cfg.Cache.Path, sqlite.Options{Logger: logger, OpDuration: a.Metrics.CacheOpDuration})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	a.Store = store
	a.Health.AddCheck("sqlite", true, store.Ping)
	if cfg.Cache.SeedDefaults {
		seeded, err := store.SeedDefaultSymbols(ctx)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("seed symbols: %w", err)
		}
		if seeded {
			logger.Info("seeded default watchlist")
		}
	}

	var provider history.Provider
	switch cfg.History.Provider {
	case "binance":
		provider = history.NewBinanceProvider(cfg.History.BaseURL, cfg.History.Timeout, logger)
	default:
		provider = history.NewMockProvider(0)
	}
	a.Candles = history.NewCandleService(store, provider, cfg.History.Timeout, logger)

	a.Pool = indicator.NewPool(indicator.PoolConfig{
		Workers:         cfg.Indicators.Workers,
		QueueSize:       cfg.Indicators.QueueSize,
		ComputeDuration: a.Metrics.IndicatorComputeDuration,
	}, logger)

	a.Settings = settings.NewService(store, logger, time.Now)
	a.Settings.Load(ctx)

	a.Feed = feed.New(feed.Config{
		URL:                  cfg.Feed.URL,
		ReconnectDelay:       cfg.Feed.ReconnectDelay,
		MaxReconnectDelay:    cfg.Feed.MaxReconnectDelay,
		MaxReconnectAttempts: cfg.Feed.MaxReconnectAttempts,
		PingInterval:         cfg.Feed.PingInterval,
		BatchInterval:        cfg.Feed.BatchInterval,
	}, newDialer(cfg.Feed), logger, feed.WithMetrics(a.Metrics))
	a.Feed.StateChanges().OnDrop = a.Metrics.TopicDropped
	a.Feed.Candles().OnDrop = a.Metrics.TopicDropped
	a.Feed.Trades().OnDrop = a.Metrics.TopicDropped
	a.Feed.OrderBooks().OnDrop = a.Metrics.TopicDropped
	a.Health.AddCheck("feed", false, func(context.Context) error {
		if s := a.Feed.State(); s != feed.StateConnected {
			return fmt.Errorf("feed is %s", s)
		}
		return nil
	})

	if cfg.Cache.Record {
		a.recorder = sqlite.NewRecorder(store, cfg.Feed.LiveInterval, logger)
	}

	a.Hub = gateway.NewHub(gateway.Config{}, logger)
	a.Hub.OnClients = func(n int) { a.Metrics.GatewayClients.Set(float64(n)) }
	a.Hub.OnDrop = a.Metrics.GatewayDrops.Inc

	a.Relay = relay.New(relay.DefaultQueueSize, a.Metrics.RelayHooks(), logger)
	a.Relay.Add("gateway", relay.SinkFunc(func(_ context.Context, ev relay.Event) error {
		a.Hub.Broadcast(ev.Channel(), ev.Payload)
		return nil
	}))
	if cfg.Redis.Addr != "" {
		a.redisPub = redis.NewPublisher(redis.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			LatestTTL: cfg.Redis.LatestTTL,
		}, logger)
		cb := redis.NewCircuitBreaker(cfg.Redis.MaxFailures, cfg.Redis.ResetTimeout)
		cb.OnStateChange = a.Metrics.BreakerStateChanged
		a.buffered = redis.NewBufferedWriter(a.redisPub, cb, cfg.Redis.MaxBufferSize, logger)
		a.Metrics.InstrumentBufferedWriter(a.buffered)
		a.Relay.Add("redis", relay.RedisSink(a.buffered))
		a.Health.AddCheck("redis", false, a.redisPub.Ping)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		a.producer = kafka.NewProducer(kafka.Config{
			Brokers:     cfg.Kafka.Brokers,
			ClientID:    cfg.Kafka.ClientID,
			TopicPrefix: cfg.Kafka.TopicPrefix,
		}, logger)
		a.Relay.Add("kafka", relay.KafkaSink(a.producer))
		a.Health.AddCheck("kafka", false, a.producer.Ping)
	}

	deps := api.Deps{
		Store:      store,
		Candles:    a.Candles,
		Indicators: a.Pool,
		Settings:   a.Settings,
		Feed:       a.Feed,
		Gateway:    a.Hub,
		Health:     a.Health,
	}
	if a.recorder != nil {
		deps.Live = a.recorder
	}
	a.Router = api.NewRouter(deps, logger)
	a.httpSrv = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	if cfg.Metrics.Addr != "" {
		a.metricsSrv = metrics.NewServer(cfg.Metrics.Addr, a.Registry, a.Health, logger)
	}
	return a, nil
}

// newDialer serves "sim://" URLs from the in-process simulator.
func newDialer(cfg config.FeedConfig) feed.Dialer {
	if strings.HasPrefix(cfg.URL, "sim://") {
		return &sim.Dialer{Gen: sim.NewGenerator(sim.Config{CandleInterval: cfg.LiveInterval})}
	}
	return feed.NewWebSocketDialer()
}

// Run starts every loop and the HTTP servers, then blocks until ctx is
// cancelled. The returned error is the first server failure, if any.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	goRun := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
			a.logger.Debug("loop stopped", zap.String("loop", name))
		}()
	}

	goRun("feed", func() {
		if err := a.Feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("feed client stopped", zap.Error(err))
		}
	})

	if a.recorder != nil {
		candles, stopC := a.Feed.Candles().Subscribe(topicBuffer)
		trades, stopT := a.Feed.Trades().Subscribe(topicBuffer)
		books, stopB := a.Feed.OrderBooks().Subscribe(topicBuffer)
		goRun("recorder", func() {
			defer stopC()
			defer stopT()
			defer stopB()
			a.recorder.Run(ctx, candles, trades, books)
		})
	}

	{
		candles, stopC := a.Feed.Candles().Subscribe(topicBuffer)
		trades, stopT := a.Feed.Trades().Subscribe(topicBuffer)
		books, stopB := a.Feed.OrderBooks().Subscribe(topicBuffer)
		goRun("relay", func() {
			defer stopC()
			defer stopT()
			defer stopB()
			if err := a.Relay.Run(ctx, candles, trades, books); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("relay stopped", zap.Error(err))
			}
		})
	}

	states, stopS := a.Feed.StateChanges().Subscribe(16)
	goRun("feed-state", func() {
		defer stopS()
		a.logFeedStates(ctx, states)
	})

	refreshed, stopR := a.Candles.Refreshed().Subscribe(16)
	goRun("history-refresh", func() {
		defer stopR()
		a.forwardRefreshes(ctx, refreshed)
	})

	goRun("health", func() { a.Health.Run(ctx, healthInterval) })
	goRun("purge", func() { a.purgeLoop(ctx) })
	goRun("saturation", func() { a.saturationLoop(ctx) })

	if a.cfg.Feed.AutoConnect {
		a.Feed.Connect()
		for _, s := range a.cfg.Feed.Symbols {
			a.Feed.Subscribe(strings.ToUpper(s))
		}
	}

	errCh := make(chan error, 2)
	if a.metricsSrv != nil {
		a.metricsSrv.Start()
	}
	go func() {
		a.logger.Info("http api listening", zap.String("addr", a.httpSrv.Addr))
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http api: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		a.logger.Error("server failed", zap.Error(runErr))
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http api shutdown", zap.Error(err))
	}
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Stop(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown", zap.Error(err))
		}
	}
	a.Hub.Close()
	cancel()
	wg.Wait()
	return runErr
}

func (a *App) logFeedStates(ctx context.Context, states <-chan feed.StateChange) {
	for {
		select {
		case <-ctx.Done():
			return
		case sc, ok := <-states:
			if !ok {
				return
			}
			fields := []zap.Field{zap.String("state", string(sc.State))}
			if sc.State == feed.StateError {
				fields = append(fields, zap.Int("attempt", sc.Attempt), zap.Duration("retry_in", sc.RetryIn),
					zap.Bool("terminal", sc.Terminal), zap.Error(sc.Err))
				a.logger.Warn("feed state changed", fields...)
				continue
			}
			a.logger.Info("feed state changed", fields...)
		}
	}
}

// forwardRefreshes pushes background-revalidated series to gateway clients
// on the "history:SYMBOL" channel.
func (a *App) forwardRefreshes(ctx context.Context, in <-chan history.CandlesRefreshed) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-in:
			if !ok {
				return
			}
			data, err := json.Marshal(r)
			if err != nil {
				a.logger.Error("encode refreshed candles", zap.Error(err))
				continue
			}
			a.Hub.Broadcast("history:"+r.Symbol, data)
		}
	}
}

// purgeLoop deletes trades older than the configured max age for every
// symbol with cached trades.
func (a *App) purgeLoop(ctx context.Context) {
	if a.cfg.Cache.PurgeInterval <= 0 || a.cfg.Cache.TradeMaxAge <= 0 {
		return
	}
	ticker := time.NewTicker(a.cfg.Cache.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.purgeTrades(ctx)
		}
	}
}

func (a *App) purgeTrades(ctx context.Context) {
	symbols, err := a.Store.TradeSymbols(ctx)
	if err != nil {
		a.logger.Error("list trade symbols", zap.Error(err))
		return
	}
	var total int64
	for _, s := range symbols {
		n, err := a.Store.PurgeTradesOlderThan(ctx, s, a.cfg.Cache.TradeMaxAge)
		if err != nil {
			a.logger.Error("purge trades", zap.String("symbol", s), zap.Error(err))
			continue
		}
		total += n
	}
	if total > 0 {
		a.logger.Info("purged old trades", zap.Int64("deleted", total), zap.Duration("max_age", a.cfg.Cache.TradeMaxAge))
	}
}

func (a *App) saturationLoop(ctx context.Context) {
	ticker := time.NewTicker(saturationPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Metrics.ObserveTopic(a.Feed.Candles().Name(), a.Feed.Candles().ChannelStats())
			a.Metrics.ObserveTopic(a.Feed.Trades().Name(), a.Feed.Trades().ChannelStats())
			a.Metrics.ObserveTopic(a.Feed.OrderBooks().Name(), a.Feed.OrderBooks().ChannelStats())
		}
	}
}

// Close releases everything New acquired, in reverse order. Call it after
// Run has returned.
func (a *App) Close() error {
	var errs []error
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.buffered != nil {
		a.buffered.Wait()
	}
	if a.redisPub != nil {
		if err := a.redisPub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.Settings.Close()
	a.Pool.Close()
	a.Candles.Close()
	if err := a.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
