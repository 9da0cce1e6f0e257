package worker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/queue"
)

// Consumer abstracts the stream consumer for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msgs ...queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// PendingSource is what the reclaimer needs from the consumer.
type PendingSource interface {
	Pending(ctx context.Context, minIdle time.Duration, count int64) ([]redis.XPendingExt, error)
	Claim(ctx context.Context, id string, minIdle time.Duration) (queue.Message, bool, error)
}

// Handler processes one delivery. Returning nil acks it.
type Handler func(ctx context.Context, msg queue.Message) error
