package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bryanwahyu/datasheet-lens/internal/observability"
)

// Metrics records request counts and latency per route pattern.
func Metrics(mp metric.MeterProvider) (func(http.Handler) http.Handler, error) {
	meter := mp.Meter(observability.ScopeName)
	requests, err := meter.Int64Counter("datasheet_lens.http.requests",
		metric.WithDescription("HTTP requests by route and status"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("datasheet_lens.http.duration_ms",
		metric.WithDescription("HTTP request latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	inFlight, err := meter.Int64UpDownCounter("datasheet_lens.http.in_flight",
		metric.WithDescription("Requests currently being served"),
	)
	if err != nil {
		return nil, err
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			inFlight.Add(r.Context(), 1)
			defer inFlight.Add(r.Context(), -1)

			wrapped := wrapWriter(w)
			next.ServeHTTP(wrapped, r)

			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			attrs := metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("route", route),
				attribute.String("status", strconv.Itoa(wrapped.statusCode)),
			)
			requests.Add(r.Context(), 1, attrs)
			latency.Record(r.Context(), float64(time.Since(start))/float64(time.Millisecond), attrs)
		})
	}, nil
}

// MetricsHandler writes the current metrics as text.
func MetricsHandler(p *observability.Providers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := p.WriteText(r.Context(), w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
