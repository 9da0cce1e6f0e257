package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/vitormendes140597/data-engineer-challenge-2024/core/config"
)

// EventField is the stream field holding the encoded event.
const EventField = "data"

// EventTransport carries flushed event batches to the bus.
type EventTransport interface {
	Send(ctx context.Context, payloads [][]byte) error
	Close() error
}

// NewEventTransport picks the event transport for the configured bus driver.
// The redis client is only used by the redis driver.
func NewEventTransport(cfg config.BusConfig, client *redis.Client) EventTransport {
	if cfg.UsesKafka() {
		return NewKafkaTransport(splitBrokers(cfg.KafkaBrokers), cfg.EventStream)
	}
	return NewRedisStreamTransport(client, cfg.EventStream)
}

func splitBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// RedisStreamTransport appends each payload as one stream entry. A batch is
// sent in a single pipeline round trip.
type RedisStreamTransport struct {
	client *redis.Client
	stream string
}

func NewRedisStreamTransport(client *redis.Client, stream string) *RedisStreamTransport {
	return &RedisStreamTransport{client: client, stream: stream}
}

func (t *RedisStreamTransport) Send(ctx context.Context, payloads [][]byte) error {
	if len(payloads) == 0 {
		return nil
	}

	pipe := t.client.Pipeline()
	for _, p := range payloads {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: t.stream,
			Values: map[string]any{EventField: p},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xadd batch (stream=%s, size=%d): %w", t.stream, len(payloads), err)
	}
	return nil
}

// Close is a no-op. The redis client is shared and closed by its owner.
func (t *RedisStreamTransport) Close() error {
	return nil
}

// KafkaTransport writes one Kafka message per payload.
type KafkaTransport struct {
	writer *kafka.Writer
}

func NewKafkaTransport(brokers []string, topic string) *KafkaTransport {
	return &KafkaTransport{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			// the publisher already batches; don't hold partial batches back
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (t *KafkaTransport) Send(ctx context.Context, payloads [][]byte) error {
	if len(payloads) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, len(payloads))
	for i, p := range payloads {
		msgs[i] = kafka.Message{Value: p}
	}
	if err := t.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write (topic=%s, size=%d): %w", t.writer.Topic, len(payloads), err)
	}
	return nil
}

func (t *KafkaTransport) Close() error {
	return t.writer.Close()
}
