package logger

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "trips"

// Span pairs an OTel span with the context it lives in.
type Span struct {
	ctx  context.Context
	span trace.Span
}

// StartSpan opens a child span of whatever trace ctx carries.
//
//	sp := logger.StartSpan(ctx, "reconcile.pass")
//	defer sp.End()
//	ctx = sp.Context()
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) *Span {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, opts...)
	return &Span{ctx: ctx, span: span}
}

// StartSpanFromTraceID continues a trace whose id travelled inside a stream
// message. An empty or unparsable id starts a fresh trace.
func StartSpanFromTraceID(ctx context.Context, traceIDHex, name string, opts ...trace.SpanStartOption) *Span {
	traceID, err := trace.TraceIDFromHex(traceIDHex)
	if traceIDHex == "" || err != nil {
		return StartSpan(ctx, name, opts...)
	}

	remote := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	opts = append(opts, trace.WithLinks(trace.Link{SpanContext: remote}))
	return StartSpan(trace.ContextWithRemoteSpanContext(ctx, remote), name, opts...)
}

// TraceID returns the hex trace id of the span on ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

func (s *Span) Context() context.Context {
	return s.ctx
}

func (s *Span) End() {
	if s.span != nil {
		s.span.End()
	}
}

// Fail records err on the span and marks it errored.
func (s *Span) Fail(err error) {
	if s.span == nil || err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s *Span) Span() trace.Span {
	return s.span
}
