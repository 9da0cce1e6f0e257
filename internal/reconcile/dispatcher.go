package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vitormendes140597/data-engineer-challenge-2024/common/logger"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/metrics"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/model"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/store"
)

type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// Republisher puts an in-progress status back on the bus for another pass.
type Republisher interface {
	PublishStatus(ctx context.Context, msg model.StatusMessage) error
}

// ReviewSink parks batches a person has to look at.
type ReviewSink interface {
	Park(ctx context.Context, msg model.StatusMessage, state, reason string) error
}

// Outcome reports what a pass did.
type Outcome struct {
	State       State
	Notified    bool
	Republished bool
	Parked      bool
	Skipped     bool // a terminal decision already existed
}

type Dispatcher struct {
	ledger      store.Ledger
	notifier    Notifier
	republisher Republisher
	review      ReviewSink
}

func NewDispatcher(ledger store.Ledger, notifier Notifier, republisher Republisher, review ReviewSink) *Dispatcher {
	return &Dispatcher{
		ledger:      ledger,
		notifier:    notifier,
		republisher: republisher,
		review:      review,
	}
}

// Dispatch acts on a classified status message. msg must already carry the
// observed count. Errors are transient (bus or ledger) and mean the delivery
// should be retried; a failed notification is not one of them.
func (d *Dispatcher) Dispatch(ctx context.Context, msg model.StatusMessage, c Classification) (Outcome, error) {
	switch c.State {
	case InProgress:
		return d.republish(ctx, msg)
	case Finished:
		return d.finish(ctx, msg, c)
	case Unclassified, Stalled:
		return d.escalate(ctx, msg, c)
	default:
		return Outcome{}, fmt.Errorf("dispatch: unknown state %q", c.State)
	}
}

func (d *Dispatcher) republish(ctx context.Context, msg model.StatusMessage) (Outcome, error) {
	next := msg.Next()
	if next.TraceID == "" {
		next.TraceID = logger.TraceID(ctx)
	}
	if err := d.republisher.PublishStatus(ctx, next); err != nil {
		return Outcome{State: InProgress}, fmt.Errorf("republishing status: %w", err)
	}
	metrics.StatusRepublished.Inc()

	slog.InfoContext(ctx, "batch still in progress, status republished",
		"expected", msg.Count,
		"observed", msg.Observed(),
		"next_attempt", next.Attempt)
	return Outcome{State: InProgress, Republished: true}, nil
}

func (d *Dispatcher) finish(ctx context.Context, msg model.StatusMessage, c Classification) (Outcome, error) {
	out := Outcome{State: Finished}

	claimed, err := d.ledger.Claim(ctx, msg.IngestionID, LedgerState(Finished))
	if err != nil {
		return out, err
	}
	if !claimed {
		slog.InfoContext(ctx, "batch already finished, skipping notification")
		out.Skipped = true
		return out, nil
	}

	out.Notified = d.notify(ctx, msg, c)
	return out, nil
}

// escalate parks the batch before claiming it so a failed park is retried
// while the notification still goes out only once.
func (d *Dispatcher) escalate(ctx context.Context, msg model.StatusMessage, c Classification) (Outcome, error) {
	out := Outcome{State: c.State}

	if err := d.review.Park(ctx, msg, LedgerState(c.State), c.Message); err != nil {
		return out, fmt.Errorf("parking batch for review: %w", err)
	}
	out.Parked = true
	metrics.ReviewSink.WithLabelValues(string(c.State)).Inc()

	claimed, err := d.ledger.Claim(ctx, msg.IngestionID, LedgerState(c.State))
	if err != nil {
		return out, err
	}
	if !claimed {
		out.Skipped = true
		return out, nil
	}

	slog.WarnContext(ctx, "batch needs review",
		"state", c.State,
		"expected", msg.Count,
		"observed", msg.Observed())
	out.Notified = d.notify(ctx, msg, c)
	return out, nil
}

func (d *Dispatcher) notify(ctx context.Context, msg model.StatusMessage, c Classification) bool {
	n := model.Notification{
		IngestionID: msg.IngestionID,
		State:       string(c.State),
		Text:        Render(msg.IngestionID, msg.Count, msg.Observed(), c),
	}
	if err := d.notifier.Notify(ctx, n); err != nil {
		metrics.Notifications.WithLabelValues(string(c.State), metrics.ResultError).Inc()
		slog.ErrorContext(ctx, "notification failed, decision kept",
			"error", err,
			"state", c.State)
		return false
	}
	metrics.Notifications.WithLabelValues(string(c.State), metrics.ResultOK).Inc()
	slog.InfoContext(ctx, "notification sent", "state", c.State)
	return true
}
