package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"bookbuilder/domain/event"
	"bookbuilder/infra/codec"
)

// MessageReader is the part of *kafka.Reader a Source needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ReaderConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

func NewReader(cfg ReaderConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0, // commits are explicit and synchronous
		MaxWait:        250 * time.Millisecond,
		MaxBytes:       10e6,
	})
}

// Source consumes book events from a topic. Each message value is one
// event in Codec's format. A message is committed only after emit has
// accepted it, so a restart re-delivers anything not yet applied.
type Source struct {
	Reader MessageReader
	Codec  codec.Codec
	Logger *zap.Logger
}

func (s *Source) Run(ctx context.Context, emit func(event.Event) error) error {
	log := s.Logger.With(zap.String("component", "kafka-source"))
	defer s.Reader.Close()

	for {
		msg, err := s.Reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}

		e, err := s.Codec.Decode(msg.Value)
		if err != nil {
			// Poison messages are skipped so the partition keeps moving.
			log.Warn("dropping undecodable message",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		} else if err := emit(e); err != nil {
			return err
		}

		if err := s.Reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("kafka commit at offset %d: %w", msg.Offset, err)
		}
	}
}
