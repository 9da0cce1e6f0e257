package worker_test

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/queue"
)

type mockConsumer struct {
	mu       sync.Mutex
	readFn   func(ctx context.Context) ([]queue.Message, error)
	ackErr   error
	acked    []string
	requeued []string
	dlq      []string
}

func (m *mockConsumer) Read(ctx context.Context) ([]queue.Message, error) {
	if m.readFn != nil {
		return m.readFn(ctx)
	}
	return nil, nil
}

func (m *mockConsumer) Ack(_ context.Context, msgs ...queue.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ackErr != nil {
		return m.ackErr
	}
	for _, msg := range msgs {
		m.acked = append(m.acked, msg.ID)
	}
	return nil
}

func (m *mockConsumer) Requeue(_ context.Context, msg queue.Message, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requeued = append(m.requeued, msg.ID)
	return nil
}

func (m *mockConsumer) SendDLQ(_ context.Context, msg queue.Message, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlq = append(m.dlq, msg.ID)
	return nil
}

func (m *mockConsumer) snapshot() (acked, requeued, dlq []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.acked...), append([]string(nil), m.requeued...), append([]string(nil), m.dlq...)
}

type mockPending struct {
	pending []redis.XPendingExt
	claimFn func(id string) (queue.Message, bool, error)
}

func (m *mockPending) Pending(context.Context, time.Duration, int64) ([]redis.XPendingExt, error) {
	return m.pending, nil
}

func (m *mockPending) Claim(_ context.Context, id string, _ time.Duration) (queue.Message, bool, error) {
	if m.claimFn != nil {
		return m.claimFn(id)
	}
	return queue.Message{ID: id, Delivery: 1}, true, nil
}
