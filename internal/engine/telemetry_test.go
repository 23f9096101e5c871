package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roach88/flowgate/internal/testutil"
)

func newTelemetryFixture(t *testing.T) (*fixture, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	f := newFixture(t, testutil.LoadDefinition(t, switchDef),
		WithTracer(tp.Tracer(instrumentationName)),
		WithMeter(mp.Meter(instrumentationName)),
	)
	return f, spans, reader
}

func TestTelemetry_PerformActionSpan(t *testing.T) {
	f, spans, _ := newTelemetryFixture(t)
	uid := f.create(t, "Switch", nil)

	res := f.perform(t, "Switch", uid, "turnOn", admin, nil)
	require.True(t, res.Success, res.Errors)

	var names []string
	for _, s := range spans.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"engine.CreateResource", "engine.PerformAction"}, names)

	span := spans.Ended()[1]
	attrs := attribute.NewSet(span.Attributes()...)
	v, ok := attrs.Value(AttrAction)
	require.True(t, ok)
	assert.Equal(t, "turnOn", v.AsString())
	v, ok = attrs.Value(AttrOutcome)
	require.True(t, ok)
	assert.Equal(t, outcomeSuccess, v.AsString())

	require.Len(t, span.Events(), 1)
	assert.Equal(t, "effect", span.Events()[0].Name)
}

func TestTelemetry_ErrorStatus(t *testing.T) {
	f, spans, _ := newTelemetryFixture(t)

	_, err := f.engine.GetResource(context.Background(), GetResourceParams{UID: "1", Type: "Lamp", AsUser: admin})
	require.Error(t, err)

	ended := spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
}

func TestTelemetry_ActionCounter(t *testing.T) {
	f, _, reader := newTelemetryFixture(t)
	uid := f.create(t, "Switch", nil)

	f.perform(t, "Switch", uid, "turnOnTurbo", regular, nil)
	f.perform(t, "Switch", uid, "turnOn", regular, nil)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	byOutcome := map[string]int64{}
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "flowgate.actions.total" {
				continue
			}
			found = true
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "got %T", m.Data)
			for _, dp := range sum.DataPoints {
				outcome, _ := dp.Attributes.Value(AttrOutcome)
				byOutcome[outcome.AsString()] += dp.Value
			}
		}
	}
	require.True(t, found, "flowgate.actions.total not recorded")
	assert.Equal(t, map[string]int64{outcomeRejected: 1, outcomeSuccess: 1}, byOutcome)
}
