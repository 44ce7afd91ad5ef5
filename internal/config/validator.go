package config

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errs []error

	if err := validateServer(cfg.Server); err != nil {
		errs = append(errs, err)
	}

	if err := validateIndexer(cfg.Indexer); err != nil {
		errs = append(errs, err)
	}

	if err := validateJournal(cfg.Journal); err != nil {
		errs = append(errs, err)
	}

	if err := validateIngest(cfg.Ingest); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}
	return nil
}

func validateIndexer(cfg IndexerConfig) error {
	if cfg.IndexPrefix == "" {
		return &ValidationError{
			Field:   "indexer.index_prefix",
			Message: "index prefix is required",
		}
	}

	if strings.ContainsAny(cfg.IndexPrefix, " *?\"<>|,/\\") {
		return &ValidationError{
			Field:   "indexer.index_prefix",
			Message: fmt.Sprintf("index prefix contains characters not allowed in index names: %q", cfg.IndexPrefix),
		}
	}

	if cfg.RetireDelaySeconds < 0 {
		return &ValidationError{
			Field:   "indexer.retire_delay_seconds",
			Message: "retire delay must not be negative",
		}
	}

	return nil
}

func validateJournal(cfg JournalConfig) error {
	if len(cfg.Kafka.Brokers) == 0 {
		return &ValidationError{
			Field:   "journal.kafka.brokers",
			Message: "at least one kafka broker is required",
		}
	}

	if cfg.Kafka.Topic == "" {
		return &ValidationError{
			Field:   "journal.kafka.topic",
			Message: "journal topic is required",
		}
	}

	return nil
}

func validateIngest(cfg IngestConfig) error {
	switch cfg.OnRedisError {
	case "", "allow", "deny":
		return nil
	default:
		return &ValidationError{
			Field:   "ingest.on_redis_error",
			Message: fmt.Sprintf("must be 'allow' or 'deny', got %q", cfg.OnRedisError),
		}
	}
}
