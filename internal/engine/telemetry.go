package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/roach88/flowgate/internal/engine"

// Span and metric attributes.
var (
	AttrResourceType = attribute.Key("flowgate.resource.type")
	AttrResourceUID  = attribute.Key("flowgate.resource.uid")
	AttrAction       = attribute.Key("flowgate.action")
	AttrOutcome      = attribute.Key("flowgate.outcome")
	AttrEffectKind   = attribute.Key("flowgate.effect.kind")
)

// Outcome values for AttrOutcome.
const (
	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

// telemetry holds the engine's tracer and instruments. Instruments that
// failed to register are left nil and skipped.
type telemetry struct {
	tracer     trace.Tracer
	operations metric.Int64Counter
	errors     metric.Int64Counter
	duration   metric.Float64Histogram
	actions    metric.Int64Counter
	effects    metric.Int64Counter
}

func newTelemetry(tracer trace.Tracer, meter metric.Meter) *telemetry {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	t := &telemetry{tracer: tracer}

	t.operations, _ = meter.Int64Counter("flowgate.operations.total",
		metric.WithDescription("Total number of engine operations"),
		metric.WithUnit("{operation}"),
	)
	t.errors, _ = meter.Int64Counter("flowgate.errors.total",
		metric.WithDescription("Total number of engine operations that returned an error"),
		metric.WithUnit("{error}"),
	)
	t.duration, _ = meter.Float64Histogram("flowgate.operation.duration",
		metric.WithDescription("Engine operation duration in seconds"),
		metric.WithUnit("s"),
	)
	t.actions, _ = meter.Int64Counter("flowgate.actions.total",
		metric.WithDescription("Actions requested, by outcome"),
		metric.WithUnit("{action}"),
	)
	t.effects, _ = meter.Int64Counter("flowgate.effects.total",
		metric.WithDescription("Effects executed, by kind"),
		metric.WithUnit("{effect}"),
	)
	return t
}

// track starts a span for an engine operation. The returned function ends
// it and records the operation's duration and error.
func (t *telemetry) track(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := t.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	if t.operations != nil {
		t.operations.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("operation", name))...))
	}

	return ctx, func(err error) {
		if t.duration != nil {
			t.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("operation", name)))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if t.errors != nil {
				t.errors.Add(ctx, 1, metric.WithAttributes(
					attribute.String("operation", name),
					attribute.String("error.type", fmt.Sprintf("%T", err)),
				))
			}
		}
		span.End()
	}
}

func (t *telemetry) recordAction(ctx context.Context, typ, action, outcome string) {
	trace.SpanFromContext(ctx).SetAttributes(AttrOutcome.String(outcome))
	if t.actions != nil {
		t.actions.Add(ctx, 1, metric.WithAttributes(
			AttrResourceType.String(typ),
			AttrAction.String(action),
			AttrOutcome.String(outcome),
		))
	}
}

func (t *telemetry) recordEffect(ctx context.Context, kind string) {
	trace.SpanFromContext(ctx).AddEvent("effect", trace.WithAttributes(AttrEffectKind.String(kind)))
	if t.effects != nil {
		t.effects.Add(ctx, 1, metric.WithAttributes(AttrEffectKind.String(kind)))
	}
}
