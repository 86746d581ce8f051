package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "pmcore"
)

// StartSupervisorSpan creates a span for whole-supervisor operations
// (start, stop, restart_all).
func StartSupervisorSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	return tracer.Start(ctx, "supervisor."+operation, trace.WithAttributes(attrs...))
}

// StartUnitSpan creates a span for an individual process unit's operation.
func StartUnitSpan(ctx context.Context, cohort, id, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	attrs = append(attrs,
		attribute.String("unit.cohort", cohort),
		attribute.String("unit.id", id),
		attribute.String("unit.operation", operation),
	)
	return tracer.Start(ctx, "unit."+operation, trace.WithAttributes(attrs...))
}

// StartReadinessSpan creates a span covering a unit's readiness-check wait.
func StartReadinessSpan(ctx context.Context, cohort, id string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	attrs = append(attrs,
		attribute.String("readiness.cohort", cohort),
		attribute.String("readiness.id", id),
	)
	return tracer.Start(ctx, "readiness.wait", trace.WithAttributes(attrs...))
}

// StartCleanupSpan creates a span covering a cleanup unit's bounded run.
func StartCleanupSpan(ctx context.Context, id string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	attrs = append(attrs, attribute.String("cleanup.id", id))
	return tracer.Start(ctx, "cleanup.run", trace.WithAttributes(attrs...))
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error, description string) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err, trace.WithAttributes(
		attribute.String("error.description", description),
	))
	span.SetStatus(codes.Error, description)
}

// RecordSuccess marks the span as successful
func RecordSuccess(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetAttributes sets additional attributes on the span
func SetAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.SetAttributes(attrs...)
}
