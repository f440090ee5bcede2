package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder records pipeline metrics. Use NewRecorder for OpenTelemetry or
// NoopRecorder{} when metrics are disabled.
type Recorder interface {
	// RecordAnalysis records one finished pipeline run. kind is empty on success.
	RecordAnalysis(ctx context.Context, outcome, kind string, duration time.Duration)
	// QueueDepthChanged adjusts the pending-queue gauge by delta.
	QueueDepthChanged(ctx context.Context, delta int64)
	// RecordDetection counts a file the watcher registered.
	RecordDetection(ctx context.Context)
}

type otelRecorder struct {
	analyses   metric.Int64Counter
	latency    metric.Float64Histogram
	queueDepth metric.Int64UpDownCounter
	detections metric.Int64Counter
}

// NewRecorder creates the instruments on the given provider's meter.
func NewRecorder(mp metric.MeterProvider) (Recorder, error) {
	meter := mp.Meter(ScopeName)

	analyses, err := meter.Int64Counter("datasheet_lens.analyses",
		metric.WithDescription("Completed analyses by outcome"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("datasheet_lens.analysis.duration_ms",
		metric.WithDescription("Render plus model latency per analysis"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	queueDepth, err := meter.Int64UpDownCounter("datasheet_lens.queue.depth",
		metric.WithDescription("Files waiting for the worker"),
	)
	if err != nil {
		return nil, err
	}
	detections, err := meter.Int64Counter("datasheet_lens.watcher.detections",
		metric.WithDescription("New files registered by the watcher"),
	)
	if err != nil {
		return nil, err
	}

	return &otelRecorder{
		analyses:   analyses,
		latency:    latency,
		queueDepth: queueDepth,
		detections: detections,
	}, nil
}

func (m *otelRecorder) RecordAnalysis(ctx context.Context, outcome, kind string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("error_kind", kind),
	)
	m.analyses.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (m *otelRecorder) QueueDepthChanged(ctx context.Context, delta int64) {
	m.queueDepth.Add(ctx, delta)
}

func (m *otelRecorder) RecordDetection(ctx context.Context) {
	m.detections.Add(ctx, 1)
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

var _ Recorder = NoopRecorder{}

func (NoopRecorder) RecordAnalysis(context.Context, string, string, time.Duration) {}
func (NoopRecorder) QueueDepthChanged(context.Context, int64)                      {}
func (NoopRecorder) RecordDetection(context.Context)                               {}
