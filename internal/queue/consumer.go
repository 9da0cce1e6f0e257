package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitormendes140597/data-engineer-challenge-2024/common/logger"
)

type ConsumerConfig struct {
	Stream       string        // stream to read
	Group        string        // consumer group
	Consumer     string        // consumer name inside the group
	DLQStream    string        // where deliveries go after too many failures
	BatchSize    int64         // entries per XREADGROUP
	Block        time.Duration // how long XREADGROUP waits for new entries
	RequeueDelay time.Duration // pause before a failed delivery is re-added
}

// Message is one stream entry. Values holds the payload fields; Delivery
// counts how many times the entry has been handed to a handler.
type Message struct {
	ID        string
	Values    map[string]any
	Delivery  int
	LastError string
}

// Transport-level fields. Everything else in an entry is payload.
const (
	fieldDelivery  = "delivery"
	fieldLastError = "last_error"
	fieldError     = "error"
)

// EnqueuedAt derives the append time from the stream id ("<ms>-<seq>").
func (m Message) EnqueuedAt() time.Time {
	msPart, _, _ := strings.Cut(m.ID, "-")
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (m Message) payload() map[string]any {
	values := maps.Clone(m.Values)
	delete(values, fieldDelivery)
	delete(values, fieldLastError)
	delete(values, fieldError)
	return values
}

// FromXMessage converts a raw stream entry.
func FromXMessage(x redis.XMessage) Message {
	msg := Message{ID: x.ID, Values: x.Values, Delivery: 1}
	if raw, ok := x.Values[fieldDelivery]; ok {
		if n, err := strconv.Atoi(fmt.Sprint(raw)); err == nil && n > 0 {
			msg.Delivery = n
		}
	}
	if raw, ok := x.Values[fieldLastError]; ok {
		msg.LastError = fmt.Sprint(raw)
	}
	return msg
}

type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

func NewRedisConsumer(ctx context.Context, client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	c := &RedisConsumer{client: client, cfg: cfg}
	if err := c.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *RedisConsumer) Config() ConsumerConfig {
	return c.cfg
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// "0" so a recreated group still sees entries already in the stream.
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group %s on %s: %w", c.cfg.Group, c.cfg.Stream, err)
	}
	return nil
}

// Read returns up to BatchSize new entries, or none once Block elapses.
// Pending entries of crashed consumers are left to the reclaimer.
func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.BatchSize,
		Block:    c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading from stream %s: %w", c.cfg.Stream, err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, x := range stream.Messages {
			messages = append(messages, FromXMessage(x))
		}
	}

	if len(messages) > 0 {
		slog.DebugContext(ctx, "read messages from stream",
			"count", len(messages),
			"stream", c.cfg.Stream,
			"consumer", c.cfg.Consumer)
	}
	return messages, nil
}

// Claim takes over a pending entry idle for at least minIdle. It returns
// false when another consumer got there first.
func (c *RedisConsumer) Claim(ctx context.Context, id string, minIdle time.Duration) (Message, bool, error) {
	claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		MinIdle:  minIdle,
		Messages: []string{id},
	}).Result()
	if err != nil {
		return Message{}, false, fmt.Errorf("xclaim %s: %w", id, err)
	}
	if len(claimed) == 0 {
		return Message{}, false, nil
	}
	return FromXMessage(claimed[0]), true, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, ids...).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}
	return nil
}

// Requeue appends a copy of msg with Delivery+1 after RequeueDelay, then acks
// the original. A crash in between leaves the original pending for the
// reclaimer.
func (c *RedisConsumer) Requeue(ctx context.Context, msg Message, errMsg string) error {
	values := msg.payload()
	values[fieldDelivery] = msg.Delivery + 1
	if errMsg != "" {
		values[fieldLastError] = errMsg
	}

	if c.cfg.RequeueDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RequeueDelay):
		}
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd requeue: %w", err)
	}
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking requeued message: %w", err)
	}

	slog.InfoContext(ctx, "message requeued for retry",
		"next_delivery", msg.Delivery+1,
		"reason", logger.Truncate(errMsg, 200))
	return nil
}

// SendDLQ acks msg and parks a copy with the final error on the DLQ stream.
func (c *RedisConsumer) SendDLQ(ctx context.Context, msg Message, errMsg string) error {
	values := msg.payload()
	values[fieldDelivery] = msg.Delivery
	values[fieldError] = errMsg

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DLQStream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd dlq (stream=%s): %w", c.cfg.DLQStream, err)
	}
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking message sent to dlq: %w", err)
	}

	slog.WarnContext(ctx, "message sent to DLQ",
		"final_error", logger.Truncate(errMsg, 200),
		"dlq_stream", c.cfg.DLQStream)
	return nil
}

// Pending lists entries idle for at least minIdle, oldest first.
func (c *RedisConsumer) Pending(ctx context.Context, minIdle time.Duration, count int64) ([]redis.XPendingExt, error) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.cfg.Stream,
		Group:  c.cfg.Group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xpending (stream=%s): %w", c.cfg.Stream, err)
	}
	return pending, nil
}
