package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vitormendes140597/data-engineer-challenge-2024/common/logger"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/metrics"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/model"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/queue"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/store"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/worker"
)

// Counter reports how many events of a batch are in the store.
type Counter interface {
	CountLanded(ctx context.Context, ingestionID string) (int, error)
}

type Config struct {
	// MaxAttempts gives up on a batch whose MaxAttempts-th pass still finds
	// it in progress. Zero never gives up.
	MaxAttempts int
	// MaxAge gives up on a batch still in progress this long after it was
	// submitted. Zero never gives up.
	MaxAge time.Duration
}

type Reconciler struct {
	counter    Counter
	ledger     store.Ledger
	dispatcher *Dispatcher
	cfg        Config
}

func NewReconciler(counter Counter, ledger store.Ledger, dispatcher *Dispatcher, cfg Config) *Reconciler {
	return &Reconciler{
		counter:    counter,
		ledger:     ledger,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// Pass runs one reconciliation of msg: count, classify, act. Passes for
// different batches share nothing and may run concurrently.
func (r *Reconciler) Pass(ctx context.Context, msg model.StatusMessage) (out Outcome, err error) {
	sp := logger.StartSpanFromTraceID(ctx, msg.TraceID, "reconcile.pass",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("ingestion.id", msg.IngestionID),
			attribute.Int("ingestion.expected", msg.Count),
			attribute.Int("ingestion.attempt", msg.Attempt),
		))
	defer sp.End()
	ctx = logger.WithFields(sp.Context(), logger.Fields{
		IngestionID: logger.Ptr(msg.IngestionID),
		Attempt:     logger.Ptr(msg.Attempt),
		Component:   "trips.notifier.reconciler",
	})

	start := time.Now()
	defer func() {
		metrics.ReconcileDuration.Observe(float64(time.Since(start).Milliseconds()))
		if err != nil {
			sp.Fail(err)
			metrics.ReconcilePasses.WithLabelValues("error").Inc()
			return
		}
		sp.Span().SetAttributes(attribute.String("ingestion.state", string(out.State)))
		metrics.ReconcilePasses.WithLabelValues(string(out.State)).Inc()
	}()

	lifecycle := NewLifecycle(msg)
	if recorded, found, err := r.ledger.Lookup(ctx, msg.IngestionID); err != nil {
		return Outcome{}, err
	} else if found {
		// a delivery asks for one more pass; a decided batch refuses it
		lifecycle = ResumeLifecycle(recorded)
		if err := lifecycle.Apply(ctx, InProgress); err != nil {
			if !errors.Is(err, ErrIllegalTransition) {
				return Outcome{}, err
			}
			slog.InfoContext(ctx, "batch already decided, skipping pass", "recorded", recorded)
			return Outcome{State: lifecycle.State(), Skipped: true}, nil
		}
	}

	observed, err := r.counter.CountLanded(ctx, msg.IngestionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("reconcile pass: %w", err)
	}
	msg = msg.WithCurrentCount(observed)

	c := Classify(msg.Count, observed)
	if c.State == InProgress && r.exhausted(msg) {
		c = stalled()
	}

	if err := lifecycle.Apply(ctx, c.State); err != nil {
		return Outcome{}, err
	}

	slog.DebugContext(ctx, "batch classified",
		"state", c.State,
		"expected", msg.Count,
		"observed", observed)

	return r.dispatcher.Dispatch(ctx, msg, c)
}

// HandleMessage is the worker handler for the status stream. A message that
// does not parse can never succeed and is failed permanently.
func (r *Reconciler) HandleMessage(ctx context.Context, msg queue.Message) error {
	status, err := queue.ParseStatus(msg.Values)
	if err != nil {
		return worker.Permanent(fmt.Errorf("parsing status message: %w", err))
	}
	_, err = r.Pass(ctx, status)
	return err
}

func (r *Reconciler) exhausted(msg model.StatusMessage) bool {
	if r.cfg.MaxAttempts > 0 && msg.Attempt+1 >= r.cfg.MaxAttempts {
		return true
	}
	if r.cfg.MaxAge > 0 && !msg.SubmittedAt.IsZero() && time.Since(msg.SubmittedAt) >= r.cfg.MaxAge {
		return true
	}
	return false
}
