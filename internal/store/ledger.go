package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ledger records the terminal decision for a batch. Claim succeeds for
// exactly one caller per ingestion id, which is what keeps a terminal
// notification from going out twice when a status message is redelivered.
type Ledger interface {
	Claim(ctx context.Context, ingestionID, state string) (bool, error)
	Lookup(ctx context.Context, ingestionID string) (state string, found bool, err error)
}

const ledgerKeyPrefix = "trips:terminal:"

type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLedger keeps entries for ttl; zero keeps them forever.
func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	return &RedisLedger{client: client, ttl: ttl}
}

func (l *RedisLedger) Claim(ctx context.Context, ingestionID, state string) (bool, error) {
	ok, err := l.client.SetNX(ctx, ledgerKeyPrefix+ingestionID, state, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claiming terminal state for %s: %w", ingestionID, err)
	}
	return ok, nil
}

func (l *RedisLedger) Lookup(ctx context.Context, ingestionID string) (string, bool, error) {
	state, err := l.client.Get(ctx, ledgerKeyPrefix+ingestionID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading terminal state for %s: %w", ingestionID, err)
	}
	return state, true, nil
}

// MemoryLedger is a process-local Ledger for single-instance runs and tests.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]string
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]string)}
}

func (l *MemoryLedger) Claim(_ context.Context, ingestionID, state string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[ingestionID]; ok {
		return false, nil
	}
	l.entries[ingestionID] = state
	return true, nil
}

func (l *MemoryLedger) Lookup(_ context.Context, ingestionID string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, ok := l.entries[ingestionID]
	return state, ok, nil
}
