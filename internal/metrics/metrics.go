package metrics

import (
	"market-workbench/internal/marketdata/bus"
	"market-workbench/internal/relay"
	"market-workbench/internal/store/redis"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the workbench.
type Metrics struct {
	// Feed client
	FeedMessages   *prometheus.CounterVec // labels: type
	FeedMalformed  *prometheus.CounterVec // labels: type
	FeedReconnects prometheus.Counter
	FeedState      *prometheus.GaugeVec // labels: state; 1 for the current state
	FeedBatchSize  prometheus.Histogram

	// Fan-out topics
	TopicDrops      *prometheus.CounterVec // labels: topic
	TopicSaturation *prometheus.GaugeVec   // labels: topic; fullest subscriber, percent

	// Cache and indicators
	CacheOpDuration          *prometheus.HistogramVec // labels: op
	IndicatorComputeDuration *prometheus.HistogramVec // labels: kind

	// Relay
	RelaySent    *prometheus.CounterVec // labels: sink
	RelayFailed  *prometheus.CounterVec // labels: sink
	RelayDropped *prometheus.CounterVec // labels: sink

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
	RedisFlushedWrites       prometheus.Counter

	// Gateway
	GatewayClients prometheus.Gauge
	GatewayDrops   prometheus.Counter
}

var feedStates = []string{"disconnected", "connecting", "connected", "error"}

// New creates all metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FeedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workbench_feed_messages_total",
			Help: "Feed messages received, by message type",
		}, []string{"type"}),
		FeedMalformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workbench_feed_malformed_total",
			Help: "Feed messages dropped as malformed, by message type",
		}, []string{"type"}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workbench_feed_reconnects_total",
			Help: "Reconnect attempts scheduled by the feed client",
		}),
		FeedState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "workbench_feed_state",
			Help: "Feed connection state (1 for the current state)",
		}, []string{"state"}),
		FeedBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "workbench_feed_batch_size",
			Help:    "Messages dispatched per batch flush",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),

		TopicDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workbench_topic_drops_total",
			Help: "Events dropped for a full subscriber, by topic",
		}, []string{"topic"}),
		TopicSaturation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "workbench_topic_saturation_pct",
			Help: "Fill level of the fullest subscriber channel, by topic",
		}, []string{"topic"}),

		CacheOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "workbench_cache_op_duration_seconds",
			Help:    "SQLite cache operation latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"op"}),
		IndicatorComputeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "workbench_indicator_compute_duration_seconds",
			Help:    "Indicator computation latency per job",
			Buckets: []float64{0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}, []string{"kind"}),

		RelaySent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workbench_relay_sent_total",
			Help: "Events delivered to a relay sink",
		}, []string{"sink"}),
		RelayFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workbench_relay_failed_total",
			Help: "Events a relay sink rejected",
		}, []string{"sink"}),
		RelayDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workbench_relay_dropped_total",
			Help: "Events dropped because a relay sink queue was full",
		}, []string{"sink"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workbench_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workbench_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workbench_redis_buffered_writes_total",
			Help: "Writes buffered locally while the Redis circuit breaker was open",
		}),
		RedisFlushedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workbench_redis_flushed_writes_total",
			Help: "Buffered writes replayed after the circuit breaker closed",
		}),

		GatewayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workbench_gateway_clients",
			Help: "Connected WebSocket gateway clients",
		}),
		GatewayDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workbench_gateway_drops_total",
			Help: "Envelopes dropped for slow gateway clients",
		}),
	}

	reg.MustRegister(
		m.FeedMessages,
		m.FeedMalformed,
		m.FeedReconnects,
		m.FeedState,
		m.FeedBatchSize,
		m.TopicDrops,
		m.TopicSaturation,
		m.CacheOpDuration,
		m.IndicatorComputeDuration,
		m.RelaySent,
		m.RelayFailed,
		m.RelayDropped,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.RedisFlushedWrites,
		m.GatewayClients,
		m.GatewayDrops,
	)
	return m
}

// Feed client hooks.

func (m *Metrics) MessageReceived(typ string)  { m.FeedMessages.WithLabelValues(typ).Inc() }
func (m *Metrics) MessageMalformed(typ string) { m.FeedMalformed.WithLabelValues(typ).Inc() }
func (m *Metrics) ReconnectScheduled()         { m.FeedReconnects.Inc() }
func (m *Metrics) BatchFlushed(n int)          { m.FeedBatchSize.Observe(float64(n)) }

func (m *Metrics) StateChanged(state string) {
	for _, s := range feedStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.FeedState.WithLabelValues(s).Set(v)
	}
}

// TopicDropped counts a dropped fan-out event; it matches bus.Topic.OnDrop.
func (m *Metrics) TopicDropped(topic string) { m.TopicDrops.WithLabelValues(topic).Inc() }

// ObserveTopic records the fullest subscriber channel of a topic.
func (m *Metrics) ObserveTopic(topic string, stats []bus.ChannelStat) {
	var pct float64
	for _, s := range stats {
		if s.Cap > 0 {
			pct = max(pct, float64(s.Len)/float64(s.Cap)*100)
		}
	}
	m.TopicSaturation.WithLabelValues(topic).Set(pct)
}

// RelayHooks returns hooks that count relay deliveries per sink.
func (m *Metrics) RelayHooks() relay.Hooks {
	return relay.Hooks{
		Sent:    func(s string) { m.RelaySent.WithLabelValues(s).Inc() },
		Failed:  func(s string) { m.RelayFailed.WithLabelValues(s).Inc() },
		Dropped: func(s string) { m.RelayDropped.WithLabelValues(s).Inc() },
	}
}

// BreakerStateChanged matches redis.CircuitBreaker.OnStateChange.
func (m *Metrics) BreakerStateChanged(_, to redis.BreakerState) {
	m.RedisCircuitBreakerState.Set(float64(to))
	if to == redis.StateOpen {
		m.RedisCircuitBreakerTrips.Inc()
	}
}

// InstrumentBufferedWriter hooks the buffer and flush counters onto bw.
func (m *Metrics) InstrumentBufferedWriter(bw *redis.BufferedWriter) {
	bw.OnBuffer = m.RedisBufferedWrites.Inc
	bw.OnFlush = func(n int) { m.RedisFlushedWrites.Add(float64(n)) }
}
