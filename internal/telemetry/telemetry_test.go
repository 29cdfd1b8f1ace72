package telemetry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/bulkimport/bulkimport/internal/telemetry"
)

func TestInit_Disabled(t *testing.T) {
	ctx := context.Background()

	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "bulkimport-api",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		Component:      "api",
		OTLPEndpoint:   "localhost:4317",
		Enabled:        false,
	})

	require.NoError(t, err)
	assert.Nil(t, provider.TracerProvider)
	assert.Nil(t, provider.MeterProvider)
	assert.NoError(t, provider.Shutdown(ctx))
}

func TestProvider_ShutdownStopsBoth(t *testing.T) {
	provider := &telemetry.Provider{
		TracerProvider: sdktrace.NewTracerProvider(),
		MeterProvider:  sdkmetric.NewMeterProvider(),
	}
	require.NoError(t, provider.Shutdown(context.Background()))

	_, span := provider.TracerProvider.Tracer("test").Start(context.Background(), "after shutdown")
	assert.False(t, span.IsRecording())
}

func TestResourceAttributes(t *testing.T) {
	attrs := telemetry.ResourceAttributes(telemetry.Config{
		ServiceName:    "bulkimport-worker",
		ServiceVersion: "1.2.3",
		Environment:    "staging",
		Component:      "worker",
	})

	got := map[attribute.Key]string{}
	for _, kv := range attrs {
		got[kv.Key] = kv.Value.AsString()
	}
	assert.Equal(t, "bulkimport-worker", got["service.name"])
	assert.Equal(t, "1.2.3", got["service.version"])
	assert.Equal(t, "staging", got["deployment.environment"])
	assert.Equal(t, "worker", got[telemetry.AttrComponent])

	without := telemetry.ResourceAttributes(telemetry.Config{ServiceName: "bulkimport-api"})
	for _, kv := range without {
		assert.NotEqual(t, telemetry.AttrComponent, kv.Key)
	}
}

func TestSampler(t *testing.T) {
	assert.Equal(t, "ParentBased{root:AlwaysOnSampler,remoteParentSampled:AlwaysOnSampler,remoteParentNotSampled:AlwaysOffSampler,localParentSampled:AlwaysOnSampler,localParentNotSampled:AlwaysOffSampler}",
		telemetry.Sampler(telemetry.Config{SampleRatio: 1}).Description())
	assert.Contains(t, telemetry.Sampler(telemetry.Config{SampleRatio: 0.25}).Description(), "root:TraceIDRatioBased{0.25}")
	assert.Contains(t, telemetry.Sampler(telemetry.Config{}).Description(), "root:TraceIDRatioBased{0}")
}

func TestTaskAttributes(t *testing.T) {
	assert.Equal(t, []attribute.KeyValue{
		telemetry.AttrTaskID.String("tsk_1"),
		telemetry.AttrRecordID.String("rec_1"),
	}, telemetry.TaskAttributes("tsk_1", "rec_1"))
	assert.Equal(t, []attribute.KeyValue{telemetry.AttrTaskID.String("tsk_1")}, telemetry.TaskAttributes("tsk_1", ""))
	assert.Empty(t, telemetry.TaskAttributes("", ""))
}

func TestEndSpan_RecordsError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	_, span := telemetry.StartSpan(context.Background(), "test", "job.run_record",
		telemetry.TaskAttributes("tsk_1", "rec_1")...)
	telemetry.EndSpan(span, errors.New("boom"))

	_, second := telemetry.StartSpan(context.Background(), "test", "job.finalize")
	telemetry.EndSpan(second, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "job.run_record", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "boom", spans[0].Status().Description)
	assert.Equal(t, codes.Ok, spans[1].Status().Code)
}

func TestSentryReporter_DisabledWithoutDSN(t *testing.T) {
	reporter, err := telemetry.NewSentryReporter(telemetry.SentryConfig{Logger: zerolog.Nop()})
	require.NoError(t, err)

	assert.False(t, reporter.Enabled())
	reporter.CaptureUnexpected(context.Background(), "Unexpected error: boom", nil)
	assert.True(t, reporter.Flush(time.Millisecond))
}

func TestSentryReporter_CapturesTags(t *testing.T) {
	var captured []*sentry.Event
	reporter, err := telemetry.NewSentryReporter(telemetry.SentryConfig{
		DSN: "https://public@sentry.example.com/1",
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			captured = append(captured, event)
			return nil
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	require.True(t, reporter.Enabled())

	reporter.CaptureUnexpected(context.Background(), "Unexpected error: boom", map[string]string{
		"task_id":   "tsk_1",
		"record_id": "rec_1",
	})

	require.Len(t, captured, 1)
	assert.Equal(t, "Unexpected error: boom", captured[0].Message)
	assert.Equal(t, sentry.LevelError, captured[0].Level)
	assert.Equal(t, "tsk_1", captured[0].Tags["task_id"])
	assert.Equal(t, "rec_1", captured[0].Tags["record_id"])
}

func TestSentryReporter_InvalidDSN(t *testing.T) {
	_, err := telemetry.NewSentryReporter(telemetry.SentryConfig{DSN: "::not a dsn"})
	assert.Error(t, err)
}
