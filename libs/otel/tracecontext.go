package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// TraceContextStrings serializes the current span context so it can be stored next to
// an outbox row and restored when the row is published.
func TraceContextStrings(ctx context.Context) (traceparent string, tracestate string) {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.Get("traceparent"), carrier.Get("tracestate")
}

func ContextWithTraceContext(ctx context.Context, traceparent string, tracestate string) context.Context {
	if traceparent == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{"traceparent": traceparent}
	if tracestate != "" {
		carrier.Set("tracestate", tracestate)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
