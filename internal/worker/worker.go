package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vitormendes140597/data-engineer-challenge-2024/common/logger"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/metrics"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/queue"
)

type Config struct {
	Name        string // component name for logs, e.g. "trips.notifier"
	Stream      string
	MaxAttempts int // deliveries before a failing message goes to the DLQ
	Concurrency int // messages of one read handled at once
	// Settle holds each message until it has been on the stream this long.
	// The notifier uses it to pace in-progress passes.
	Settle time.Duration
}

type Worker struct {
	consumer Consumer
	handler  Handler
	cfg      Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, handler Handler, cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Worker{
		consumer:  consumer,
		handler:   handler,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run reads and handles batches until ctx is done or Stop is called.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithFields(ctx, logger.Fields{
		Stream:    logger.Ptr(w.cfg.Stream),
		Component: w.cfg.Name,
	})
	slog.InfoContext(ctx, "worker started",
		"concurrency", w.cfg.Concurrency,
		"max_attempts", w.cfg.MaxAttempts,
		"settle", w.cfg.Settle)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)
	for _, msg := range messages {
		g.Go(func() error {
			w.Deliver(ctx, msg)
			return nil
		})
	}
	return g.Wait()
}

// Deliver runs one message through the handler and settles it: ack on
// success, requeue or DLQ on failure. The reclaimer uses it too.
func (w *Worker) Deliver(ctx context.Context, msg queue.Message) {
	ctx = logger.WithFields(ctx, logger.Fields{MessageID: logger.Ptr(msg.ID)})

	if err := w.settle(ctx, msg); err != nil {
		// shutting down; the message stays pending for the reclaimer
		return
	}

	if err := w.processMessageSafe(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "message processing failed",
			"error", err,
			"delivery", msg.Delivery)
		w.handleFailedMessage(ctx, msg, err)
		return
	}

	if err := w.consumer.Ack(ctx, msg); err != nil {
		// The reclaimer hands it out again. For a status message whose pass
		// already republished, that forks the chain into two live copies;
		// both run to completion and the terminal ledger keeps the
		// notification single.
		slog.WarnContext(ctx, "failed to ack message", "error", err)
	}
}

func (w *Worker) settle(ctx context.Context, msg queue.Message) error {
	if w.cfg.Settle <= 0 {
		return nil
	}
	enqueued := msg.EnqueuedAt()
	if enqueued.IsZero() {
		return nil
	}
	wait := time.Until(enqueued.Add(w.cfg.Settle))
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.handler(ctx, msg)
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if errors.Is(err, ErrPermanent) || msg.Delivery >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "giving up on message, sending to DLQ",
			"deliveries", msg.Delivery,
			"permanent", errors.Is(err, ErrPermanent))
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
			return
		}
		metrics.DeadLettered.WithLabelValues(w.cfg.Stream).Inc()
		return
	}

	slog.WarnContext(ctx, "requeuing failed message", "delivery", msg.Delivery)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
