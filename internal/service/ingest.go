package service

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/vitormendes140597/data-engineer-challenge-2024/common/logger"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/formatter"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/metrics"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/model"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/queue"
)

// EventPublisher is the batching publisher seen from the service.
type EventPublisher interface {
	Publish(ctx context.Context, events ...model.Event) error
	Flush(ctx context.Context) error
}

// Receipt identifies a submitted batch.
type Receipt struct {
	IngestionID string `json:"ingestion_id"`
	Count       int    `json:"count"`
}

type IngestService interface {
	// IngestCSV parses all of r before publishing anything. A malformed line
	// fails the call with a *formatter.ParseError and nothing is sent.
	IngestCSV(ctx context.Context, r io.Reader, skip int, source string) (Receipt, error)
	// IngestRecords publishes records as they are pulled from the sequence.
	IngestRecords(ctx context.Context, records iter.Seq[model.Record], source string) (Receipt, error)
}

type ingestService struct {
	events EventPublisher
	status queue.StatusProducer
}

func NewIngestService(events EventPublisher, status queue.StatusProducer) IngestService {
	return &ingestService{events: events, status: status}
}

func (s *ingestService) IngestCSV(ctx context.Context, r io.Reader, skip int, source string) (Receipt, error) {
	session := formatter.NewSession()

	events, err := session.CollectCSV(r, skip)
	if err != nil {
		return Receipt{}, err
	}
	if err := s.events.Publish(ctx, events...); err != nil {
		return Receipt{}, fmt.Errorf("publishing events: %w", err)
	}
	return s.submit(ctx, session, len(events), source)
}

func (s *ingestService) IngestRecords(ctx context.Context, records iter.Seq[model.Record], source string) (Receipt, error) {
	session := formatter.NewSession()

	count := 0
	for ev := range session.FromRecords(records) {
		if err := s.events.Publish(ctx, ev); err != nil {
			return Receipt{}, fmt.Errorf("publishing event %d: %w", count, err)
		}
		count++
	}
	return s.submit(ctx, session, count, source)
}

// submit flushes the session's events toward the bus and then announces the
// batch on the status stream, so the first pass rarely starts before the
// events are sent.
func (s *ingestService) submit(ctx context.Context, session formatter.Session, count int, source string) (Receipt, error) {
	ctx = logger.WithFields(ctx, logger.Fields{
		IngestionID: logger.Ptr(session.IngestionID()),
		Component:   "trips.ingest",
	})

	if err := s.events.Flush(ctx); err != nil {
		return Receipt{}, fmt.Errorf("flushing events: %w", err)
	}

	status := session.Status(count)
	status.TraceID = logger.TraceID(ctx)
	if err := s.status.PublishStatus(ctx, status); err != nil {
		return Receipt{}, fmt.Errorf("publishing status: %w", err)
	}

	metrics.IngestionsSubmitted.WithLabelValues(source).Inc()
	slog.InfoContext(ctx, "batch submitted", "count", count, "source", source)

	return Receipt{IngestionID: session.IngestionID(), Count: count}, nil
}
