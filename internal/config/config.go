package config

import (
	"time"
)

type Config struct {
	// NodeID identifies this node in message provenance chains. Defaults to
	// the hostname when unset.
	NodeID        string `mapstructure:"node_id"`
	Server        ServerConfig
	Logging       LoggingConfig
	Indexer       IndexerConfig
	Journal       JournalConfig
	Database      DatabaseConfig
	Ingest        IngestConfig
	Elasticsearch ElasticsearchConfig
	Root          RootAccountConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type IndexerConfig struct {
	// IndexPrefix names the managed physical indices (prefix_0, prefix_1, ...)
	// and the write alias (prefix_deflector).
	IndexPrefix string `mapstructure:"index_prefix"`

	// RetireDelaySeconds is the drain window before an old write target is
	// made read-only. Best-effort: it bounds nothing, it only lets in-flight
	// writes that resolved the alias just before a cycle finish first.
	RetireDelaySeconds int `mapstructure:"retire_delay_seconds"`

	MaxConcurrentJobs int64 `mapstructure:"max_concurrent_jobs"`
}

type JournalConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type DatabaseConfig struct {
	MongoDB MongoDBConfig `mapstructure:"mongodb"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

type IngestConfig struct {
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
	OnRedisError string          `mapstructure:"on_redis_error"` // "allow" or "deny"
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

type ElasticsearchConfig struct {
	BaseURL        string              `mapstructure:"base_url"`
	RequestTimeout time.Duration       `mapstructure:"request_timeout"`
	Retry          RetryConfig         `mapstructure:"retry"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type RootAccountConfig struct {
	Username string `mapstructure:"username"`
	Email    string `mapstructure:"email"`
}

const (
	DefaultRetireDelaySeconds = 30
	DefaultMaxConcurrentJobs  = 4
)

func (c *IndexerConfig) RetireDelay() time.Duration {
	seconds := c.RetireDelaySeconds
	if seconds <= 0 {
		seconds = DefaultRetireDelaySeconds
	}
	return time.Duration(seconds) * time.Second
}
