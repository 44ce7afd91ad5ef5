package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Indexer: IndexerConfig{
			IndexPrefix:        "logdata",
			RetireDelaySeconds: 30,
			MaxConcurrentJobs:  4,
		},
		Journal: JournalConfig{
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topic:   "loghold-journal",
			},
		},
	}
}

func TestValidateStatic(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "port zero", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: true},
		{name: "port too high", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
		{name: "empty index prefix", mutate: func(c *Config) { c.Indexer.IndexPrefix = "" }, wantErr: true},
		{name: "prefix with space", mutate: func(c *Config) { c.Indexer.IndexPrefix = "gray log" }, wantErr: true},
		{name: "prefix with wildcard", mutate: func(c *Config) { c.Indexer.IndexPrefix = "gray*" }, wantErr: true},
		{name: "prefix with slash", mutate: func(c *Config) { c.Indexer.IndexPrefix = "gray/log" }, wantErr: true},
		{name: "prefix with underscore is fine", mutate: func(c *Config) { c.Indexer.IndexPrefix = "gray_log" }},
		{name: "negative retire delay", mutate: func(c *Config) { c.Indexer.RetireDelaySeconds = -1 }, wantErr: true},
		{name: "zero retire delay is fine", mutate: func(c *Config) { c.Indexer.RetireDelaySeconds = 0 }},
		{name: "no kafka brokers", mutate: func(c *Config) { c.Journal.Kafka.Brokers = nil }, wantErr: true},
		{name: "no journal topic", mutate: func(c *Config) { c.Journal.Kafka.Topic = "" }, wantErr: true},
		{name: "bad redis fallback", mutate: func(c *Config) { c.Ingest.OnRedisError = "maybe" }, wantErr: true},
		{name: "allow redis fallback", mutate: func(c *Config) { c.Ingest.OnRedisError = "allow" }},
		{name: "deny redis fallback", mutate: func(c *Config) { c.Ingest.OnRedisError = "deny" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := ValidateStatic(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRetireDelayDefault(t *testing.T) {
	cfg := IndexerConfig{}
	assert.Equal(t, DefaultRetireDelaySeconds, int(cfg.RetireDelay().Seconds()))

	cfg.RetireDelaySeconds = 5
	assert.Equal(t, 5, int(cfg.RetireDelay().Seconds()))
}
