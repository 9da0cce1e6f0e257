// Package writer lands trip events from the event stream into the trips
// table. It is what makes the ingestion_control counts move.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vitormendes140597/data-engineer-challenge-2024/common/id"
	"github.com/vitormendes140597/data-engineer-challenge-2024/common/logger"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/metrics"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/model"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/queue"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/worker"
)

// TripInserter lands a batch of trips and reports how many were new.
type TripInserter interface {
	Insert(ctx context.Context, trips []model.Trip) (int64, error)
}

type Writer struct {
	consumer worker.Consumer
	trips    TripInserter
	stream   string

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer worker.Consumer, trips TripInserter, stream string) *Writer {
	return &Writer{
		consumer:  consumer,
		trips:     trips,
		stream:    stream,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Writer) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithFields(ctx, logger.Fields{
		Stream:    logger.Ptr(w.stream),
		Component: "trips.writer",
	})
	slog.InfoContext(ctx, "writer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "writer stopping")
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

func (w *Writer) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

// processOneBatch lands one read in a single transaction. On a store failure
// nothing is acked and the entries are left to the reclaimer.
func (w *Writer) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	trips := make([]model.Trip, 0, len(messages))
	landed := make([]queue.Message, 0, len(messages))
	for _, msg := range messages {
		trip, err := decode(msg)
		if err != nil {
			w.deadLetter(ctx, msg, err)
			continue
		}
		trips = append(trips, trip)
		landed = append(landed, msg)
	}

	if err := w.land(ctx, trips); err != nil {
		return err
	}
	if err := w.consumer.Ack(ctx, landed...); err != nil {
		slog.WarnContext(ctx, "failed to ack landed messages", "error", err, "count", len(landed))
	}
	return nil
}

// HandleOne lands a single entry. It is the per-message path used when the
// reclaimer re-drives entries a crashed writer left pending.
func (w *Writer) HandleOne(ctx context.Context, msg queue.Message) error {
	trip, err := decode(msg)
	if err != nil {
		return worker.Permanent(err)
	}
	return w.land(ctx, []model.Trip{trip})
}

func (w *Writer) land(ctx context.Context, trips []model.Trip) error {
	if len(trips) == 0 {
		return nil
	}
	inserted, err := w.trips.Insert(ctx, trips)
	if err != nil {
		return fmt.Errorf("landing %d trips: %w", len(trips), err)
	}
	metrics.RowsWritten.Add(float64(inserted))
	if dup := int64(len(trips)) - inserted; dup > 0 {
		slog.InfoContext(ctx, "skipped already landed trips", "count", dup)
	}
	slog.DebugContext(ctx, "trips landed", "count", inserted)
	return nil
}

func (w *Writer) deadLetter(ctx context.Context, msg queue.Message, cause error) {
	ctx = logger.WithFields(ctx, logger.Fields{MessageID: logger.Ptr(msg.ID)})
	slog.WarnContext(ctx, "undecodable trip event", "error", cause)
	if err := w.consumer.SendDLQ(ctx, msg, cause.Error()); err != nil {
		slog.ErrorContext(ctx, "failed to send to DLQ", "error", err)
		return
	}
	metrics.DeadLettered.WithLabelValues(w.stream).Inc()
}

func decode(msg queue.Message) (model.Trip, error) {
	raw, ok := msg.Values[queue.EventField]
	if !ok {
		return model.Trip{}, fmt.Errorf("missing %s field", queue.EventField)
	}
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return model.Trip{}, fmt.Errorf("unexpected %s type %T", queue.EventField, raw)
	}

	ev, err := queue.DecodeEvent(data)
	if err != nil {
		return model.Trip{}, err
	}
	return model.Trip{Event: ev, ID: id.New(), StreamMessageID: msg.ID}, nil
}
