package middleware_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/bulkimport/bulkimport/internal/api/middleware"
	"github.com/bulkimport/bulkimport/internal/api/models"
)

func newTestMetrics(t *testing.T) (*middleware.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	metrics, err := middleware.NewMetrics(middleware.MetricsConfig{
		MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	})
	require.NoError(t, err)
	return metrics, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestNewMetrics_GlobalProvider(t *testing.T) {
	metrics, err := middleware.NewMetrics(middleware.MetricsConfig{})
	require.NoError(t, err)
	assert.NotNil(t, metrics)
}

func TestMetrics_RecordsDurationByRoute(t *testing.T) {
	metrics, reader := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(metrics.Middleware())
	r.Get("/v1/tasks/{taskId}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	for _, id := range []string{"tsk_1", "tsk_2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/tasks/"+id, http.NoBody))
	}

	data := collect(t, reader)
	hist, ok := data["http.server.request.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1, "task ids must not split the series")
	dp := hist.DataPoints[0]
	assert.Equal(t, uint64(2), dp.Count)
	route, _ := dp.Attributes.Value("http.route")
	assert.Equal(t, "/v1/tasks/{taskId}", route.AsString())
	status, _ := dp.Attributes.Value("http.response.status_code")
	assert.Equal(t, int64(http.StatusOK), status.AsInt64())

	_, ok = data["bulkimport.api.problems"]
	assert.False(t, ok, "no problem responses were written")
}

func TestMetrics_RecordsUploadSize(t *testing.T) {
	metrics, reader := newTestMetrics(t)

	handler := metrics.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/v1/tasks/tsk_1/source-file", strings.NewReader("title\nOcean\n")))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/tasks", http.NoBody))

	hist, ok := collect(t, reader)["bulkimport.api.upload.size"].(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.Equal(t, int64(len("title\nOcean\n")), hist.DataPoints[0].Sum)
}

func TestMetrics_CountsProblems(t *testing.T) {
	metrics, reader := newTestMetrics(t)

	handler := metrics.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		models.NewNotReady("req_1", "task is created").WithInstance(r.URL.Path).Write(w)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/tasks/tsk_1/import", http.NoBody))
	assert.Equal(t, http.StatusConflict, rec.Code)

	sum, ok := collect(t, reader)["bulkimport.api.problems"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)
	status, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("http.response.status_code"))
	assert.Equal(t, int64(http.StatusConflict), status.AsInt64())
}
