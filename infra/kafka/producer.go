package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"bookbuilder/domain/event"
	"bookbuilder/infra/codec"
)

// MessageWriter is the part of *kafka.Writer a Producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer republishes book events, keyed by symbol so every event of a
// symbol lands on one partition in order.
type Producer struct {
	writer MessageWriter
	codec  codec.Codec
}

func NewProducer(brokers []string, topic string, c codec.Codec) *Producer {
	return NewProducerWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}, c)
}

func NewProducerWithWriter(w MessageWriter, c codec.Codec) *Producer {
	return &Producer{writer: w, codec: c}
}

func (p *Producer) Publish(ctx context.Context, e event.Event) error {
	value, err := p.codec.Encode(e)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Symbol),
		Value: value,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
