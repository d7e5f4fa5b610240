// Package observability provides the orchestrator's metrics and tracing,
// grounded on the donor's internal/observability package
// (MetricsCollector, InitTracer/StartSpan) but scoped to what a
// non-HTTP core needs: spans around execute_run and counters for
// escalations, interventions, and session trust instead of request
// middleware.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/trace"
)

// InitTracer installs a process-wide TracerProvider tagged with
// serviceName and returns it so callers can flush/shutdown it on exit.
// No exporter is wired by default (spans are recorded but not shipped);
// operators attach a real exporter in cmd/worker's wiring when needed,
// the way the donor's InitTracer takes a backend URL.
func InitTracer(serviceName string) *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp
}

// StartSpan starts a new span for operation on tracer, mirroring the
// donor's StartSpan helper.
func StartSpan(ctx context.Context, tracer trace.Tracer, operation string) (context.Context, trace.Span) {
	return tracer.Start(ctx, operation)
}
