package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by request and job spans.
const (
	AttrComponent  = attribute.Key("bulkimport.component")
	AttrTaskID     = attribute.Key("bulkimport.task_id")
	AttrRecordID   = attribute.Key("bulkimport.record_id")
	AttrJobType    = attribute.Key("bulkimport.job_type")
	AttrRecordType = attribute.Key("bulkimport.record_type")
	AttrOperator   = attribute.Key("bulkimport.operator")
)

// TaskAttributes identifies a task and, when set, one of its records.
func TaskAttributes(taskID, recordID string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if taskID != "" {
		attrs = append(attrs, AttrTaskID.String(taskID))
	}
	if recordID != "" {
		attrs = append(attrs, AttrRecordID.String(recordID))
	}
	return attrs
}

// StartSpan starts a span on the named global tracer.
func StartSpan(ctx context.Context, tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracer).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
