package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func Load(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func bindEnvVariables() {
	viper.BindEnv("journal.kafka.brokers", "JOURNAL_KAFKA_BROKERS")
	viper.BindEnv("journal.kafka.topic", "JOURNAL_KAFKA_TOPIC")
	viper.BindEnv("journal.kafka.group_id", "JOURNAL_KAFKA_GROUP_ID")

	viper.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	viper.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("elasticsearch.base_url", "ELASTICSEARCH_BASE_URL")

	viper.BindEnv("indexer.index_prefix", "INDEXER_INDEX_PREFIX")
	viper.BindEnv("indexer.retire_delay_seconds", "INDEXER_RETIRE_DELAY_SECONDS")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")

	viper.BindEnv("node_id", "NODE_ID")
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout_seconds", 10)
	viper.SetDefault("server.write_timeout_seconds", 10)

	viper.SetDefault("logging.level", "info")

	viper.SetDefault("indexer.index_prefix", "loghold")
	viper.SetDefault("indexer.retire_delay_seconds", DefaultRetireDelaySeconds)
	viper.SetDefault("indexer.max_concurrent_jobs", DefaultMaxConcurrentJobs)

	viper.SetDefault("journal.kafka.topic", "loghold-journal")
	viper.SetDefault("journal.kafka.group_id", "loghold")

	viper.SetDefault("database.redis.ttl_seconds", 3600)

	viper.SetDefault("ingest.on_redis_error", "allow")
	viper.SetDefault("ingest.rate_limit.rps", 1000.0)
	viper.SetDefault("ingest.rate_limit.burst", 2000)

	viper.SetDefault("elasticsearch.request_timeout", "10s")
	viper.SetDefault("elasticsearch.retry.max_attempts", 3)
	viper.SetDefault("elasticsearch.retry.initial_interval", "1s")
	viper.SetDefault("elasticsearch.retry.max_interval", "30s")
	viper.SetDefault("elasticsearch.retry.multiplier", 2.0)

	viper.SetDefault("root.username", "admin")
}
