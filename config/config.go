package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all workbench configuration.
type Config struct {
	Server     ServerConfig
	Feed       FeedConfig
	Cache      CacheConfig
	History    HistoryConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Metrics    MetricsConfig
	Indicators IndicatorConfig
	Logging    LoggingConfig
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FeedConfig configures the streaming feed client.
type FeedConfig struct {
	// URL of the feed WebSocket, e.g. "ws://localhost:9001/ws".
	// "sim://" runs the in-process simulator instead.
	URL                  string
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
	PingInterval         time.Duration
	BatchInterval        time.Duration
	Symbols              []string
	AutoConnect          bool
	// LiveInterval is the interval tag live candles are cached under.
	LiveInterval string
}

// CacheConfig configures the SQLite cache.
type CacheConfig struct {
	Path          string
	SeedDefaults  bool
	TradeMaxAge   time.Duration
	PurgeInterval time.Duration
	Record        bool
}

// HistoryConfig selects the historical candle provider.
type HistoryConfig struct {
	Provider string // "mock" or "binance"
	BaseURL  string
	Timeout  time.Duration
}

// RedisConfig configures the live relay to Redis. Empty Addr disables it.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	MaxFailures   int
	ResetTimeout  time.Duration
	MaxBufferSize int
	LatestTTL     time.Duration
}

// KafkaConfig configures the live relay to Kafka. No brokers disables it.
type KafkaConfig struct {
	Brokers     []string
	ClientID    string
	TopicPrefix string
}

// MetricsConfig configures the /metrics and /healthz server.
type MetricsConfig struct {
	Addr string
}

// IndicatorConfig configures the indicator worker pool.
type IndicatorConfig struct {
	Workers   int
	QueueSize int
}

// LoggingConfig holds logging specific configuration.
type LoggingConfig struct {
	Level string
}

// Load reads configuration from an optional YAML file and WORKBENCH_*
// environment variables (WORKBENCH_FEED_URL overrides feed.url).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("workbench")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration. Every key must have a
// default so AutomaticEnv can see it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.readTimeout", "10s")
	v.SetDefault("server.writeTimeout", "30s")
	v.SetDefault("server.idleTimeout", "120s")

	v.SetDefault("feed.url", "sim://")
	v.SetDefault("feed.reconnectDelay", "1s")
	v.SetDefault("feed.maxReconnectDelay", "30s")
	v.SetDefault("feed.maxReconnectAttempts", 10)
	v.SetDefault("feed.pingInterval", "30s")
	v.SetDefault("feed.batchInterval", "100ms")
	v.SetDefault("feed.symbols", []string{"BTCUSDT", "ETHUSDT"})
	v.SetDefault("feed.autoConnect", true)
	v.SetDefault("feed.liveInterval", "1m")

	v.SetDefault("cache.path", "data/workbench.db")
	v.SetDefault("cache.seedDefaults", true)
	v.SetDefault("cache.tradeMaxAge", "24h")
	v.SetDefault("cache.purgeInterval", "1h")
	v.SetDefault("cache.record", true)

	v.SetDefault("history.provider", "mock")
	v.SetDefault("history.baseURL", "https://api.binance.com/api/v3")
	v.SetDefault("history.timeout", "30s")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.maxFailures", 5)
	v.SetDefault("redis.resetTimeout", "10s")
	v.SetDefault("redis.maxBufferSize", 10000)
	v.SetDefault("redis.latestTTL", "30m")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.clientID", "market-workbench")
	v.SetDefault("kafka.topicPrefix", "market")

	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("indicators.workers", 0)
	v.SetDefault("indicators.queueSize", 64)

	v.SetDefault("logging.level", "info")
}

// Validate rejects values the components cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Feed.URL == "" {
		errs = append(errs, errors.New("feed.url is required"))
	}
	if c.Feed.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("feed.reconnectDelay must be positive"))
	}
	if c.Feed.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("feed.maxReconnectAttempts must not be negative"))
	}
	if c.Feed.BatchInterval <= 0 {
		errs = append(errs, errors.New("feed.batchInterval must be positive"))
	}
	if c.Feed.PingInterval <= 0 {
		errs = append(errs, errors.New("feed.pingInterval must be positive"))
	}
	if c.Cache.Path == "" {
		errs = append(errs, errors.New("cache.path is required"))
	}
	switch c.History.Provider {
	case "mock", "binance":
	default:
		errs = append(errs, fmt.Errorf("history.provider %q is not one of mock, binance", c.History.Provider))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
