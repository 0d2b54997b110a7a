package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name of the sync tracer.
const TracerName = "calinsight/sync"

// Span attribute keys
const (
	AttrRunID       = "run_id"
	AttrMode        = "mode"
	AttrUser        = "user_email"
	AttrWindowStart = "window_start"
	AttrWindowEnd   = "window_end"
	AttrBatchSize   = "batch_size"
	AttrErrorType   = "error_type"
)

// Span names
const (
	SpanRun   = "sync.run"
	SpanUser  = "sync.user"
	SpanChunk = "sync.chunk"
	SpanBatch = "sync.batch"
)

// Tracer starts the spans of a sync run. Spans go to the global
// TracerProvider, which is a no-op unless the embedding program installs one.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a sync tracer.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

// StartRun starts the root span of a run.
func (t *Tracer) StartRun(ctx context.Context, runID, mode string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanRun, trace.WithAttributes(
		attribute.String(AttrRunID, runID),
		attribute.String(AttrMode, mode),
	))
}

// StartUser starts the span covering one user's window.
func (t *Tracer) StartUser(ctx context.Context, user string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanUser, trace.WithAttributes(attribute.String(AttrUser, user)))
}

// StartChunk starts the span of one time chunk.
func (t *Tracer) StartChunk(ctx context.Context, start, end time.Time) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanChunk, trace.WithAttributes(
		attribute.String(AttrWindowStart, start.UTC().Format(time.RFC3339)),
		attribute.String(AttrWindowEnd, end.UTC().Format(time.RFC3339)),
	))
}

// StartBatch starts the span of one upsert batch.
func (t *Tracer) StartBatch(ctx context.Context, size int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanBatch, trace.WithAttributes(attribute.Int(AttrBatchSize, size)))
}

// EndSpan records err (if any) and ends span.
func EndSpan(span trace.Span, err error, errorType string) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errorType != "" {
			span.SetAttributes(attribute.String(AttrErrorType, errorType))
		}
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
