package broadcaster

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"bookbuilder/infra/outbox"
	"bookbuilder/metrics"
)

// Broadcaster drains the outbox to a Kafka topic. A record is marked
// SENT before publishing and deleted once the broker acknowledges it,
// so a crash in between re-sends rather than loses it.
type Broadcaster struct {
	outbox   *outbox.Outbox
	producer sarama.SyncProducer
	topic    string
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// NewProducer builds a sync producer that waits for all in-sync replicas.
func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return sarama.NewSyncProducer(brokers, cfg)
}

func New(
	ob *outbox.Outbox,
	producer sarama.SyncProducer,
	topic string,
	log *zap.Logger,
	m *metrics.Metrics,
) *Broadcaster {
	return &Broadcaster{
		outbox:   ob,
		producer: producer,
		topic:    topic,
		log:      log.With(zap.String("component", "broadcaster")),
		metrics:  m,
	}
}

// Run flushes the outbox every interval until ctx is done, then once
// more so a clean shutdown leaves nothing behind.
func (b *Broadcaster) Run(ctx context.Context, interval time.Duration) {
	b.log.Info("started", zap.String("topic", b.topic), zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if _, err := b.Flush(); err != nil {
				b.log.Warn("final flush failed", zap.Error(err))
			}
			return
		case <-ticker.C:
			if _, err := b.Flush(); err != nil {
				b.log.Warn("flush failed", zap.Error(err))
			}
		}
	}
}

type pending struct {
	seq uint64
	rec outbox.Record
}

// Flush publishes every undelivered record in sequence order and returns
// how many were acknowledged. It stops at the first publish failure so
// messages of one symbol never overtake each other.
func (b *Broadcaster) Flush() (int, error) {
	var todo []pending
	err := b.outbox.Scan(func(seq uint64, rec outbox.Record) error {
		todo = append(todo, pending{seq, rec})
		return nil
	})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, p := range todo {
		if p.rec.State == outbox.StateAcked {
			// Acknowledged before a crash; only the cleanup is missing.
			if err := b.outbox.Delete(p.seq); err != nil {
				return sent, err
			}
			continue
		}

		retries := p.rec.Retries
		if p.rec.State != outbox.StateNew {
			retries++
		}
		if err := b.outbox.UpdateState(p.seq, outbox.StateSent, retries); err != nil {
			return sent, err
		}

		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Value: sarama.ByteEncoder(p.rec.Payload),
		}
		if len(p.rec.Key) > 0 {
			msg.Key = sarama.ByteEncoder(p.rec.Key)
		}
		if _, _, err := b.producer.SendMessage(msg); err != nil {
			b.metrics.Broadcasts.WithLabelValues("error").Inc()
			if uerr := b.outbox.UpdateState(p.seq, outbox.StateFailed, retries); uerr != nil {
				return sent, uerr
			}
			b.log.Debug("publish failed, will retry",
				zap.Uint64("seq", p.seq), zap.Uint32("retries", retries), zap.Error(err))
			return sent, nil
		}
		b.metrics.Broadcasts.WithLabelValues("ok").Inc()

		if err := b.outbox.UpdateState(p.seq, outbox.StateAcked, retries); err != nil {
			return sent, err
		}
		if err := b.outbox.Delete(p.seq); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
