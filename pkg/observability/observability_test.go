package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestProvider(t *testing.T) (*Provider, *tracetest.InMemoryExporter, *sdkmetric.ManualReader) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Enabled = true
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	p.config = cfg

	res, err := newResource(cfg)
	require.NoError(t, err)
	spans := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()
	require.NoError(t, p.install(res, sdktrace.WithSyncer(spans), reader))
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p, spans, reader
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "reportdesk", cfg.ServiceName)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestDisabledProviderIsUsable(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Meter())

	_, done := p.TrackOperation(context.Background(), "noop")
	done(nil)
	require.NoError(t, p.Shutdown(context.Background()))

	var nilProvider *Provider
	_, done = nilProvider.TrackOperation(context.Background(), "noop")
	done(errors.New("ignored"))
}

func TestTrackOperationRecordsSpanAndMetrics(t *testing.T) {
	p, spans, reader := newTestProvider(t)
	ctx := context.Background()

	_, done := p.TrackOperation(ctx, "workorder.transition", attribute.String("tenant_id", "t1"))
	done(nil)
	_, done = p.TrackOperation(ctx, "workorder.transition", attribute.String("tenant_id", "t1"))
	done(errors.New("billing down"))

	got := spans.GetSpans()
	require.Len(t, got, 2)
	assert.Equal(t, "workorder.transition", got[0].Name)
	assert.Equal(t, codes.Error, got[1].Status.Code)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(2), totals["reportdesk.operations.total"])
	assert.Equal(t, int64(1), totals["reportdesk.errors.total"])
	assert.Equal(t, int64(0), totals["reportdesk.operations.active"])
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased")
}
