package journal

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"loghold/internal/config"
	"loghold/internal/logger"
	"loghold/pkg/metrics"
)

const (
	kafkaBatchTimeout = 10 * time.Millisecond
	kafkaWriteTimeout = 10 * time.Second
)

// Journal is the durable append-only log the envelopes live in. Offsets are
// assigned by the journal on append and handed back to Decode on replay.
type Journal interface {
	Append(ctx context.Context, m *RawMessage) error
	Replay(ctx context.Context, handler HandlerFunc) error
	Close() error
}

// HandlerFunc receives one decoded message per journaled record. Records
// that fail to decode are dropped before the handler sees them.
type HandlerFunc func(ctx context.Context, m *RawMessage) error

// KafkaJournal journals envelopes into a Kafka topic, keyed by the 16-byte
// message id so compaction and partitioning follow message identity.
type KafkaJournal struct {
	cfg    config.KafkaConfig
	codec  *Codec
	writer *kafka.Writer
	reader *kafka.Reader
	wg     sync.WaitGroup
	log    logger.Logger
}

func NewKafkaJournal(cfg config.KafkaConfig, codec *Codec, log logger.Logger) *KafkaJournal {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: kafkaBatchTimeout,
		WriteTimeout: kafkaWriteTimeout,
		Async:        false,
	}

	return &KafkaJournal{
		cfg:    cfg,
		codec:  codec,
		writer: w,
		log:    log,
	}
}

// Append encodes and journals one message. Messages that cannot be encoded
// (missing codec assignment) are dropped; the codec already logged them.
func (j *KafkaJournal) Append(ctx context.Context, m *RawMessage) error {
	body, err := j.codec.Encode(m)
	if err != nil {
		metrics.JournalMessagesTotal.WithLabelValues("encode_failed").Inc()
		return err
	}

	err = j.writer.WriteMessages(ctx, kafka.Message{
		Key:   m.IDBytes(),
		Value: body,
		Time:  m.Timestamp(),
	})
	if err != nil {
		metrics.JournalMessagesTotal.WithLabelValues("write_failed").Inc()
		return err
	}

	metrics.JournalMessagesTotal.WithLabelValues("written").Inc()
	return nil
}

// Replay consumes the journal topic, decoding each record with its Kafka
// offset as the journal offset. Corrupted records are skipped and committed
// so they are not replayed forever.
func (j *KafkaJournal) Replay(ctx context.Context, handler HandlerFunc) error {
	j.log.Infow("Starting journal replay",
		"topic", j.cfg.Topic,
		"brokers", j.cfg.Brokers,
		"group_id", j.cfg.GroupID,
	)

	j.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  j.cfg.Brokers,
		GroupID:  j.cfg.GroupID,
		Topic:    j.cfg.Topic,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		for {
			rec, err := j.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					j.log.Infow("Stopped journal replay", "topic", j.cfg.Topic, "reason", "context canceled")
					return
				}
				j.log.Errorw("Error fetching journal record", "error", err, "topic", j.cfg.Topic)
				time.Sleep(time.Second)
				continue
			}

			m := j.codec.Decode(rec.Value, rec.Offset)
			if m == nil {
				// Already logged with the offset by the codec.
				_ = j.reader.CommitMessages(ctx, rec)
				continue
			}

			if err := handler(ctx, m); err != nil {
				j.log.Errorw("Journal handler failed, record will be redelivered",
					"error", err,
					"journal_offset", rec.Offset,
					"message_id", m.ID().String(),
				)
				continue
			}

			if err := j.reader.CommitMessages(ctx, rec); err != nil {
				j.log.Errorw("Failed to commit journal offset", "error", err, "journal_offset", rec.Offset)
			}
		}
	}()

	return nil
}

func (j *KafkaJournal) Close() error {
	var firstErr error

	if j.reader != nil {
		if err := j.reader.Close(); err != nil {
			firstErr = err
		}
	}
	j.wg.Wait()

	if err := j.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
