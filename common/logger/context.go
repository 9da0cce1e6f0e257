package logger

import (
	"context"
	"log/slog"
)

type contextKey struct{}

// Fields are attached to every log line written with a context that carries
// them.
type Fields struct {
	IngestionID *string
	MessageID   *string // stream message id
	Stream      *string
	Attempt     *int
	Component   string // dotted name, e.g. "trips.notifier.reconciler"
}

// WithFields merges fields into ctx. Set values in fields win over the ones
// already on the context.
func WithFields(ctx context.Context, fields Fields) context.Context {
	merged := FieldsFromContext(ctx).merge(fields)
	return context.WithValue(ctx, contextKey{}, merged)
}

func FieldsFromContext(ctx context.Context) Fields {
	if f, ok := ctx.Value(contextKey{}).(Fields); ok {
		return f
	}
	return Fields{}
}

func (f Fields) merge(other Fields) Fields {
	if other.IngestionID != nil {
		f.IngestionID = other.IngestionID
	}
	if other.MessageID != nil {
		f.MessageID = other.MessageID
	}
	if other.Stream != nil {
		f.Stream = other.Stream
	}
	if other.Attempt != nil {
		f.Attempt = other.Attempt
	}
	if other.Component != "" {
		f.Component = other.Component
	}
	return f
}

func (f Fields) attrs() []slog.Attr {
	var attrs []slog.Attr
	if f.IngestionID != nil {
		attrs = append(attrs, slog.String("ingestion_id", *f.IngestionID))
	}
	if f.MessageID != nil {
		attrs = append(attrs, slog.String("message_id", *f.MessageID))
	}
	if f.Stream != nil {
		attrs = append(attrs, slog.String("stream", *f.Stream))
	}
	if f.Attempt != nil {
		attrs = append(attrs, slog.Int("attempt", *f.Attempt))
	}
	if f.Component != "" {
		attrs = append(attrs, slog.String("component", f.Component))
	}
	return attrs
}

// Ptr returns a pointer to v, handy for filling Fields inline.
func Ptr[T any](v T) *T {
	return &v
}

// Truncate shortens s to maxLen bytes, marking the cut with "...".
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
