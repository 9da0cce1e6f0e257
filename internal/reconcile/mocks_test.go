package reconcile_test

import (
	"context"
	"errors"
	"sync"

	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/model"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/store"
)

type mockCounter struct {
	countFn func(ctx context.Context, ingestionID string) (int, error)
	calls   int
}

func (m *mockCounter) CountLanded(ctx context.Context, ingestionID string) (int, error) {
	m.calls++
	if m.countFn != nil {
		return m.countFn(ctx, ingestionID)
	}
	return 0, nil
}

type mockNotifier struct {
	mu       sync.Mutex
	notifyFn func(ctx context.Context, n model.Notification) error
	sent     []model.Notification
}

func (m *mockNotifier) Notify(ctx context.Context, n model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	if m.notifyFn != nil {
		return m.notifyFn(ctx, n)
	}
	return nil
}

// mockBus stands in for the status stream: republished messages queue up
// until the test delivers them.
type mockBus struct {
	publishFn func(ctx context.Context, msg model.StatusMessage) error
	queued    []model.StatusMessage
}

func (m *mockBus) PublishStatus(ctx context.Context, msg model.StatusMessage) error {
	if m.publishFn != nil {
		if err := m.publishFn(ctx, msg); err != nil {
			return err
		}
	}
	m.queued = append(m.queued, msg)
	return nil
}

func (m *mockBus) next() (model.StatusMessage, bool) {
	if len(m.queued) == 0 {
		return model.StatusMessage{}, false
	}
	msg := m.queued[0]
	m.queued = m.queued[1:]
	return msg, true
}

type parked struct {
	msg    model.StatusMessage
	state  string
	reason string
}

type mockReviewSink struct {
	parkFn func(ctx context.Context, msg model.StatusMessage, state, reason string) error
	parked []parked
}

func (m *mockReviewSink) Park(ctx context.Context, msg model.StatusMessage, state, reason string) error {
	if m.parkFn != nil {
		if err := m.parkFn(ctx, msg, state, reason); err != nil {
			return err
		}
	}
	m.parked = append(m.parked, parked{msg: msg, state: state, reason: reason})
	return nil
}

// flakyLedger fails the first claimErrs claims, then defers to the wrapped
// ledger.
type flakyLedger struct {
	store.Ledger
	claimErrs int
}

func (l *flakyLedger) Claim(ctx context.Context, ingestionID, state string) (bool, error) {
	if l.claimErrs > 0 {
		l.claimErrs--
		return false, errors.New("ledger unavailable")
	}
	return l.Ledger.Claim(ctx, ingestionID, state)
}
