package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Providers bundles the process meter and tracer providers. Metrics are
// pulled on demand through a manual reader and exposed by /metrics.
type Providers struct {
	Meter  *sdkmetric.MeterProvider
	Tracer *sdktrace.TracerProvider
	reader *sdkmetric.ManualReader
}

func NewProviders(version string) *Providers {
	res := resource.NewSchemaless(
		attribute.String("service.name", "datasheet-lens"),
		attribute.String("service.version", version),
	)
	reader := sdkmetric.NewManualReader()
	return &Providers{
		Meter:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res)),
		Tracer: sdktrace.NewTracerProvider(sdktrace.WithResource(res)),
		reader: reader,
	}
}

func (p *Providers) Shutdown(ctx context.Context) error {
	return errors.Join(p.Meter.Shutdown(ctx), p.Tracer.Shutdown(ctx))
}

// Collect returns the current metric state.
func (p *Providers) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	err := p.reader.Collect(ctx, &rm)
	return rm, err
}

// WriteText renders the collected metrics one data point per line as
// `name{k="v",...} value`. Histograms report _count and _sum.
func (p *Providers) WriteText(ctx context.Context, w io.Writer) error {
	rm, err := p.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collecting metrics: %w", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			name := strings.ReplaceAll(m.Name, ".", "_")
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					fmt.Fprintf(w, "%s%s %d\n", name, labels(dp.Attributes), dp.Value)
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					fmt.Fprintf(w, "%s%s %g\n", name, labels(dp.Attributes), dp.Value)
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					fmt.Fprintf(w, "%s_count%s %d\n", name, labels(dp.Attributes), dp.Count)
					fmt.Fprintf(w, "%s_sum%s %g\n", name, labels(dp.Attributes), dp.Sum)
				}
			}
		}
	}
	return nil
}

func labels(set attribute.Set) string {
	if set.Len() == 0 {
		return ""
	}
	parts := make([]string, 0, set.Len())
	for _, kv := range set.ToSlice() {
		parts = append(parts, fmt.Sprintf("%s=%q", kv.Key, kv.Value.Emit()))
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}
