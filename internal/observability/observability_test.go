package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRecorderWritesText(t *testing.T) {
	p := NewProviders("test")
	t.Cleanup(func() { p.Shutdown(context.Background()) })

	rec, err := NewRecorder(p.Meter)
	require.NoError(t, err)

	ctx := t.Context()
	rec.RecordAnalysis(ctx, "finished", "", 1200*time.Millisecond)
	rec.RecordAnalysis(ctx, "failed", "parse", 300*time.Millisecond)
	rec.QueueDepthChanged(ctx, 2)
	rec.QueueDepthChanged(ctx, -1)
	rec.RecordDetection(ctx)

	var buf bytes.Buffer
	require.NoError(t, p.WriteText(ctx, &buf))
	out := buf.String()

	assert.Contains(t, out, `datasheet_lens_analyses{error_kind="",outcome="finished"} 1`)
	assert.Contains(t, out, `datasheet_lens_analyses{error_kind="parse",outcome="failed"} 1`)
	assert.Contains(t, out, "datasheet_lens_queue_depth 1")
	assert.Contains(t, out, "datasheet_lens_watcher_detections 1")
	assert.Contains(t, out, `datasheet_lens_analysis_duration_ms_count{error_kind="",outcome="finished"} 1`)
}

func TestAnalysisSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	ctx, span := StartAnalysisSpan(t.Context(), Tracer(tp), "/data/a.pdf", "id-1")
	AddEvent(ctx, "rendered")
	EndSpan(span, errors.New("quota"))

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "analysis.run", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	require.NotEmpty(t, ended[0].Events())
	assert.Equal(t, "rendered", ended[0].Events()[0].Name)
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.RecordAnalysis(t.Context(), "finished", "", time.Second)
	r.QueueDepthChanged(t.Context(), 1)
	r.RecordDetection(t.Context())
}
