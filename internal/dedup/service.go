package dedup

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"loghold/internal/config"
	"loghold/internal/journal"
	"loghold/internal/logger"
	"loghold/pkg/metrics"
)

const (
	keyPrefix = "dedup:msg:"

	fallbackAllow = "allow"
)

// Service suppresses duplicate deliveries of the same raw message. The check
// is keyed on the message identity, which is globally unique per original
// message but shared by every redelivery of it.
type Service struct {
	repo Repository
	cfg  config.IngestConfig
	ttl  time.Duration
	log  logger.Logger
}

func NewService(repo Repository, ingestCfg config.IngestConfig, redisCfg config.RedisConfig, log logger.Logger) *Service {
	ttlSeconds := redisCfg.TTLSeconds
	if ttlSeconds <= 0 {
		ttlSeconds = 300
	}

	return &Service{
		repo: repo,
		cfg:  ingestCfg,
		ttl:  time.Duration(ttlSeconds) * time.Second,
		log:  log,
	}
}

// IsUnique reports whether this message identity has not been seen inside
// the TTL window. On a cache failure the configured fallback decides: allow
// risks a duplicate, deny risks a drop.
func (s *Service) IsUnique(ctx context.Context, msg *journal.RawMessage) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	key := keyPrefix + hex.EncodeToString(msg.IDBytes())

	unique, err := s.repo.SetNX(ctx, key, time.Now().Unix(), s.ttl)
	if err != nil {
		return s.handleCacheError(ctx, err, msg)
	}

	if unique {
		metrics.DedupMessagesTotal.WithLabelValues("unique").Inc()
	} else {
		metrics.DedupMessagesTotal.WithLabelValues("duplicate").Inc()
	}
	return unique, nil
}

func (s *Service) handleCacheError(ctx context.Context, err error, msg *journal.RawMessage) (bool, error) {
	metrics.DedupMessagesTotal.WithLabelValues("error").Inc()

	if s.cfg.OnRedisError == fallbackAllow {
		s.log.WarnwCtx(ctx, "Dedup cache error, allowing message through",
			"message_id", msg.ID().String(),
			"error", err,
		)
		return true, nil
	}

	return false, fmt.Errorf("dedup check for message %s: %w", msg.ID().String(), err)
}
