package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of the core's spans; the Gateway
// is the only component that starts them.
const TracerName = "github.com/starpig1129/pigpig-core"

// TracingConfig configures the OTLP/HTTP exporter used by InitTracing.
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
}

// InitTracing wires an OTLP/HTTP trace exporter as the global TracerProvider.
// When cfg.Enabled is false it installs a no-op provider so Tracer() calls
// throughout the codebase remain cheap and safe.
func InitTracing(ctx context.Context, cfg TracingConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the shared tracer for core components to start spans with.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSpan is a small convenience wrapper matching the attribute style the
// teacher's telemetry wiring uses (string key/value pairs).
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}
