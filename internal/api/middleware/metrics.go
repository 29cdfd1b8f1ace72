package middleware

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/bulkimport/bulkimport/internal/api"

// MetricsConfig configures the HTTP metric instruments.
type MetricsConfig struct {
	// MeterProvider defaults to the global provider.
	MeterProvider metric.MeterProvider
}

// Metrics records request metrics of the import API.
type Metrics struct {
	requestDuration  metric.Float64Histogram
	requestsInFlight metric.Int64UpDownCounter
	uploadSize       metric.Int64Histogram
	problems         metric.Int64Counter
}

// NewMetrics creates the API instruments.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	provider := cfg.MeterProvider
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	var m Metrics
	var err error
	if m.requestDuration, err = meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("Duration of HTTP server requests"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.requestsInFlight, err = meter.Int64UpDownCounter(
		"http.server.active_requests",
		metric.WithDescription("Requests currently being served"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.uploadSize, err = meter.Int64Histogram(
		"bulkimport.api.upload.size",
		metric.WithDescription("Bytes read from source and task file uploads"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if m.problems, err = meter.Int64Counter(
		"bulkimport.api.problems",
		metric.WithDescription("Requests answered with a problem response"),
		metric.WithUnit("{response}"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

// Middleware records the duration of every request by route, the body size
// of uploads and the count of problem responses.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()

			inFlight := metric.WithAttributes(attribute.String("http.request.method", r.Method))
			m.requestsInFlight.Add(ctx, 1, inFlight)
			defer m.requestsInFlight.Add(ctx, -1, inFlight)

			body := &countingBody{body: r.Body}
			if r.Body != nil {
				r.Body = body
			}
			wrapped := newStatusRecorder(w)
			next.ServeHTTP(wrapped, r)

			// Task and record ids stay out of the attributes: the route
			// pattern is only known once chi has routed the request.
			route := routePattern(r)
			attrs := metric.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", route),
				attribute.Int("http.response.status_code", wrapped.statusCode),
			)
			m.requestDuration.Record(ctx, time.Since(start).Seconds(), attrs)

			if r.Method == http.MethodPut && body.n > 0 {
				m.uploadSize.Record(ctx, body.n, metric.WithAttributes(attribute.String("http.route", route)))
			}
			if wrapped.Header().Get("Content-Type") == "application/problem+json" {
				m.problems.Add(ctx, 1, attrs)
			}
		})
	}
}
