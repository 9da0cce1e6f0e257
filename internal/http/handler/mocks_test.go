package handler_test

import (
	"context"
	"io"
	"iter"

	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/model"
	"github.com/vitormendes140597/data-engineer-challenge-2024/internal/service"
)

type mockIngestService struct {
	ingestCSVFn     func(ctx context.Context, r io.Reader, skip int, source string) (service.Receipt, error)
	ingestRecordsFn func(ctx context.Context, records iter.Seq[model.Record], source string) (service.Receipt, error)
}

func (m *mockIngestService) IngestCSV(ctx context.Context, r io.Reader, skip int, source string) (service.Receipt, error) {
	if m.ingestCSVFn != nil {
		return m.ingestCSVFn(ctx, r, skip, source)
	}
	return service.Receipt{}, nil
}

func (m *mockIngestService) IngestRecords(ctx context.Context, records iter.Seq[model.Record], source string) (service.Receipt, error) {
	if m.ingestRecordsFn != nil {
		return m.ingestRecordsFn(ctx, records, source)
	}
	return service.Receipt{}, nil
}
