package telemetry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/beadforge/forge/internal/storage"
	"github.com/beadforge/forge/internal/storage/memory"
	"github.com/beadforge/forge/internal/types"
)

func collect(t *testing.T, r *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, r.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, agg metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := agg.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum, got %T", agg)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestWrapStorageDisabledReturnsInner(t *testing.T) {
	t.Setenv("FORGE_OTEL_ENABLED", "")
	store := memory.New(memory.Config{})
	assert.Same(t, storage.Storage(store), WrapStorage(store))
}

func TestInstrumentedStorageRecordsOperations(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))

	inner, err := memory.Open(ctx, memory.Config{Path: filepath.Join(t.TempDir(), "graph.json")})
	require.NoError(t, err)
	s := newInstrumentedStorage(inner, mp.Meter("test"), tp.Tracer("test"))
	t.Cleanup(func() { _ = s.Close() })

	item, err := s.CreateItem(ctx, &types.WorkItem{ProjectID: "p", Title: "one"}, storage.CreateOptions{})
	require.NoError(t, err)
	_, err = s.GetItem(ctx, "p", item.ID)
	require.NoError(t, err)
	_, err = s.GetItem(ctx, "p", "missing")
	require.True(t, errors.Is(err, storage.ErrNotFound))
	_, err = s.GetStatistics(ctx, "p")
	require.NoError(t, err)

	got := collect(t, reader)
	assert.EqualValues(t, 4, sumOf(t, got["forge.storage.operations"]))
	assert.EqualValues(t, 1, sumOf(t, got["forge.storage.errors"]))
	assert.Contains(t, got, "forge.storage.operation.duration")
	assert.Contains(t, got, "forge.item.count")

	names := make([]string, 0, len(spans.Ended()))
	for _, sp := range spans.Ended() {
		names = append(names, sp.Name())
	}
	assert.Equal(t, []string{"storage.CreateItem", "storage.GetItem", "storage.GetItem", "storage.GetStatistics"}, names)
	assert.Same(t, storage.Storage(inner), s.Unwrap())
}

func TestBuildMetrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	b := newBuildMetrics(mp.Meter("test"))

	b.Attempt(ctx, "p")
	b.Attempt(ctx, "p")
	b.Failed(ctx, "p", "tests_failed")
	b.Completed(ctx, "p")
	b.Escalated(ctx, "p")
	b.Phase(ctx, "p", "coding", "ok", 2*time.Second)

	got := collect(t, reader)
	assert.EqualValues(t, 2, sumOf(t, got["forge.attempts"]))
	assert.EqualValues(t, 1, sumOf(t, got["forge.items.failed"]))
	assert.EqualValues(t, 1, sumOf(t, got["forge.items.completed"]))
	assert.EqualValues(t, 1, sumOf(t, got["forge.escalations"]))
	hist, ok := got["forge.phase.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.InDelta(t, 2.0, hist.DataPoints[0].Sum, 0.001)
}

func TestNilBuildMetricsIsNoop(t *testing.T) {
	var b *BuildMetrics
	assert.NotPanics(t, func() {
		b.Attempt(context.Background(), "p")
		b.Phase(context.Background(), "p", "review", "ok", time.Second)
	})
}

func TestInitDisabled(t *testing.T) {
	t.Setenv("FORGE_OTEL_ENABLED", "false")
	require.NoError(t, Init(context.Background(), "forge", "test"))
	assert.False(t, Enabled())
	assert.NoError(t, Shutdown(context.Background()))
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("FORGE_OTEL_ENABLED", "true")
	t.Setenv("FORGE_OTEL_STDOUT", "")
	t.Setenv("FORGE_OTEL_INTERVAL", "5s")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")

	opts := OptionsFromEnv()
	assert.True(t, opts.Enabled)
	assert.False(t, opts.Stdout)
	assert.Equal(t, "collector:4318", opts.OTLPEndpoint)
	assert.Equal(t, 5*time.Second, opts.ExportInterval)

	t.Setenv("FORGE_OTEL_INTERVAL", "soon")
	assert.Equal(t, defaultExportInterval, OptionsFromEnv().ExportInterval)
}

func TestInitWithEnabledNoExporters(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, InitWith(ctx, "forge", "test", Options{Enabled: true}))
	assert.NoError(t, Shutdown(ctx))
	assert.NoError(t, Shutdown(ctx))
	require.NoError(t, InitWith(ctx, "forge", "test", Options{}))
}
