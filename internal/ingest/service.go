package ingest

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"loghold/internal/config"
	"loghold/internal/journal"
	"loghold/internal/logger"
	pkgerrors "loghold/pkg/errors"
	"loghold/pkg/metrics"
)

// ErrRateLimited signals that the node is shedding load and the sender
// should back off and retry.
var ErrRateLimited = pkgerrors.NewError("RATE_LIMITED", "ingest rate limit exceeded", 429)

// Deduplicator decides whether a message identity has been seen before.
type Deduplicator interface {
	IsUnique(ctx context.Context, msg *journal.RawMessage) (bool, error)
}

// Input describes one received payload before it is wrapped into a raw
// message envelope.
type Input struct {
	Payload      []byte
	CodecName    string
	CodecConfig  journal.CodecConfig
	InputID      string
	RemoteAddr   []byte
	RemotePort   uint16
	ResolvedHost string
}

// Service turns received payloads into journaled raw messages. Each message
// is stamped with this node's provenance, checked against the dedup cache,
// and appended to the journal for downstream processing.
type Service struct {
	journal journal.Journal
	dedup   Deduplicator
	limiter *rate.Limiter
	nodeID  string
	log     logger.Logger
}

func NewService(j journal.Journal, dedup Deduplicator, cfg config.IngestConfig, nodeID string, log logger.Logger) *Service {
	var limiter *rate.Limiter
	if cfg.RateLimit.Enabled && cfg.RateLimit.RPS > 0 {
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = int(cfg.RateLimit.RPS)
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), burst)
	}

	return &Service{
		journal: j,
		dedup:   dedup,
		limiter: limiter,
		nodeID:  nodeID,
		log:     log,
	}
}

// Ingest wraps one payload into a raw message and journals it. Returns the
// message so callers can report its identity to the sender.
func (s *Service) Ingest(ctx context.Context, in Input) (*journal.RawMessage, error) {
	if s.limiter != nil && !s.limiter.Allow() {
		metrics.IngestMessagesTotal.WithLabelValues("rate_limited").Inc()
		return nil, ErrRateLimited
	}

	msg, err := s.wrap(in)
	if err != nil {
		metrics.IngestMessagesTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	if s.dedup != nil {
		unique, err := s.dedup.IsUnique(ctx, msg)
		if err != nil {
			metrics.IngestMessagesTotal.WithLabelValues("failed").Inc()
			return nil, err
		}
		if !unique {
			metrics.IngestMessagesTotal.WithLabelValues("duplicate").Inc()
			s.log.DebugwCtx(ctx, "Dropping duplicate message", "message_id", msg.ID().String())
			return msg, nil
		}
	}

	if err := s.journal.Append(ctx, msg); err != nil {
		metrics.IngestMessagesTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("journaling message %s: %w", msg.ID().String(), err)
	}

	metrics.IngestMessagesTotal.WithLabelValues("accepted").Inc()
	return msg, nil
}

func (s *Service) wrap(in Input) (*journal.RawMessage, error) {
	msg, err := journal.NewRawMessage(in.Payload)
	if err != nil {
		return nil, err
	}

	if err := msg.SetCodecName(in.CodecName); err != nil {
		return nil, err
	}
	if in.CodecConfig != nil {
		msg.SetCodecConfig(in.CodecConfig)
	} else {
		msg.SetCodecConfig(journal.CodecConfig{})
	}

	msg.AddSourceNode(in.InputID, s.nodeID, true)

	if in.RemoteAddr != nil {
		msg.SetRemoteAddress(in.RemoteAddr, in.RemotePort, in.ResolvedHost)
	}
	return msg, nil
}
