package emit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns each event into an OpenTelemetry span.
//
// Span shape:
//   - Name: event.Msg (e.g. "node_start", "superstep_end")
//   - Attributes: run id, step, node id, scope, plus every Meta field
//   - Status: error when event.Meta["error"] holds a string
//
// Events represent points in time, so spans are ended immediately; the
// batch span processor handles buffering and export.
//
// Wiring:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//	emitter := emit.NewOTelEmitter(otel.Tracer("weavegraph"))
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter returns an emitter creating spans on tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit creates and immediately ends a span for the event.
func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Msg)
	defer span.End()
	o.decorate(span, event)
}

// EmitBatch creates one span per event under ctx, preserving order. The
// span processor batches the export.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		_, span := o.tracer.Start(ctx, event.Msg)
		o.decorate(span, event)
		span.End()
	}
	return nil
}

// Flush forces export of pending spans when the installed tracer
// provider supports it (the SDK provider does).
func (o *OTelEmitter) Flush(ctx context.Context) error {
	type forceFlusher interface {
		ForceFlush(ctx context.Context) error
	}
	if provider, ok := otel.GetTracerProvider().(forceFlusher); ok {
		return provider.ForceFlush(ctx)
	}
	return nil
}

func (o *OTelEmitter) decorate(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("weavegraph.run_id", event.RunID),
		attribute.Int64("weavegraph.step", int64(event.Step)),
		attribute.String("weavegraph.node_id", event.NodeID),
		attribute.String("weavegraph.scope", event.Scope),
	)

	o.addMetaAttributes(span, event.Meta)

	if errVal, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, errVal)
		span.RecordError(fmt.Errorf("%s", errVal))
	}
}

// addMetaAttributes converts Meta entries to span attributes. LLM cost
// tracking keys are mapped to the namespaced conventions used by the
// rest of the telemetry pipeline; everything else keeps its key.
func (o *OTelEmitter) addMetaAttributes(span trace.Span, meta map[string]interface{}) {
	for key, value := range meta {
		attrKey := key
		switch key {
		case "tokens_in":
			attrKey = "weavegraph.llm.tokens_in"
		case "tokens_out":
			attrKey = "weavegraph.llm.tokens_out"
		case "cost_usd":
			attrKey = "weavegraph.llm.cost_usd"
		case "latency_ms":
			attrKey = "weavegraph.node.latency_ms"
		case "model":
			attrKey = "weavegraph.llm.model"
		}

		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case uint64:
			span.SetAttributes(attribute.Int64(attrKey, int64(v)))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}
