package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/model"
)

// StatusProducer puts status messages on the status stream. The initial
// message of every batch and every in-progress republish go through it.
type StatusProducer interface {
	PublishStatus(ctx context.Context, msg model.StatusMessage) error
}

type redisStatusProducer struct {
	client *redis.Client
	stream string
}

func NewRedisStatusProducer(client *redis.Client, stream string) StatusProducer {
	return &redisStatusProducer{client: client, stream: stream}
}

func (p *redisStatusProducer) PublishStatus(ctx context.Context, msg model.StatusMessage) error {
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: StatusValues(msg),
	}).Result()
	if err != nil {
		return fmt.Errorf("publish status (stream=%s): %w", p.stream, err)
	}

	slog.DebugContext(ctx, "status published",
		"stream_id", id,
		"ingestion_id", msg.IngestionID,
		"count", msg.Count,
		"current_count", msg.Observed(),
		"attempt", msg.Attempt)
	return nil
}

// ReviewSink parks status messages that need a human on a review stream.
// Each batch is parked at most once.
type ReviewSink struct {
	client *redis.Client
	stream string
	ttl    time.Duration
}

// NewReviewSink remembers parked batches for ttl; zero remembers them forever.
func NewReviewSink(client *redis.Client, stream string, ttl time.Duration) *ReviewSink {
	return &ReviewSink{client: client, stream: stream, ttl: ttl}
}

const parkedKeyPrefix = "trips:parked:"

// parkScript marks the batch and appends the entry in one step, so a pass
// retried after a successful park does not add a second entry.
var parkScript = redis.NewScript(`
if not redis.call('SET', KEYS[1], '1', 'NX') then
	return false
end
if tonumber(ARGV[1]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return redis.call('XADD', KEYS[2], '*', unpack(ARGV, 2))
`)

func (s *ReviewSink) Park(ctx context.Context, msg model.StatusMessage, state, reason string) error {
	keys, args := s.parkArgs(msg, state, reason)
	err := parkScript.Run(ctx, s.client, keys, args...).Err()
	if errors.Is(err, redis.Nil) {
		slog.DebugContext(ctx, "batch already parked for review", "ingestion_id", msg.IngestionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("park for review (stream=%s): %w", s.stream, err)
	}
	return nil
}

// parkArgs lays out the script call: the marker key and stream, then the ttl
// in milliseconds followed by the entry's field/value pairs in key order.
func (s *ReviewSink) parkArgs(msg model.StatusMessage, state, reason string) ([]string, []any) {
	values := StatusValues(msg)
	values["state"] = state
	values["reason"] = reason

	args := make([]any, 0, 1+2*len(values))
	args = append(args, s.ttl.Milliseconds())
	for _, k := range slices.Sorted(maps.Keys(values)) {
		args = append(args, k, values[k])
	}
	return []string{parkedKeyPrefix + msg.IngestionID, s.stream}, args
}
