package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const ScopeName = "github.com/bryanwahyu/datasheet-lens"

// Tracer falls back to the global provider when tp is nil.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(ScopeName)
}

// StartAnalysisSpan opens the span covering one file's pipeline run.
func StartAnalysisSpan(ctx context.Context, t trace.Tracer, path, recordID string) (context.Context, trace.Span) {
	return t.Start(ctx, "analysis.run",
		trace.WithAttributes(
			attribute.String("file.path", path),
			attribute.String("record.id", recordID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpan completes span, recording err when non-nil.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddEvent annotates the span in ctx, if it is recording.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
