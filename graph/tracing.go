package graph

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies this package's spans to the installed
// OpenTelemetry provider.
const tracerName = "github.com/dshills/weavegraph-go/graph"

// startSpan opens a span for a runner operation. With no SDK provider
// installed this is the no-op tracer, so the core never pays for
// tracing it didn't configure.
func startSpan(ctx context.Context, name, sessionID string, step uint64) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name,
		trace.WithAttributes(
			attribute.String("weavegraph.session_id", sessionID),
			attribute.Int64("weavegraph.step", int64(step)),
		))
	return ctx, span
}

// recordSpanError marks the span failed when err is non-nil.
func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
}
