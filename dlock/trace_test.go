package dlock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/distlock/metrics"
	"github.com/ceyewan/distlock/testkit"
	"github.com/ceyewan/distlock/trace"
)

func TestAcquire_TraceReachesServer(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tc := trace.DefaultConfig("dlock-test")
	tc.Batcher = "simple"
	shutdown, err := trace.Init(tc, trace.WithExporter(exporter))
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	reader := sdkmetric.NewManualReader()
	meter, err := metrics.New(metrics.NewDevDefaultConfig("dlock-test"), metrics.WithReader(reader))
	require.NoError(t, err)
	defer meter.Shutdown(context.Background())

	ctx, cancel := testkit.NewContext(t, 10*time.Second)
	defer cancel()

	srv := testkit.NewLockServer(t, testkit.WithServerTracing())
	client := newTestClient(t, srv, nil, WithMeter(meter))

	_, err = client.Acquire(ctx, "res")
	require.NoError(t, err)

	var acquire, server tracetest.SpanStub
	for _, s := range exporter.GetSpans() {
		switch {
		case s.Name == trace.SpanNameLock(trace.LockOperationAcquire):
			acquire = s
		case s.SpanKind == oteltrace.SpanKindServer:
			server = s
		}
	}
	require.True(t, acquire.SpanContext.IsValid())
	require.True(t, server.SpanContext.IsValid())

	traceID := acquire.SpanContext.TraceID()
	assert.Equal(t, traceID, server.SpanContext.TraceID())
	assert.Contains(t, srv.Requests()[0].Header.Get("Traceparent"), traceID.String())

	// 尝试计数记录在加锁 Span 的 ctx 上，exemplar 指回同一条链路
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	var attempts metricdata.Sum[int64]
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == MetricAttempts {
				attempts, _ = m.Data.(metricdata.Sum[int64])
			}
		}
	}
	require.Len(t, attempts.DataPoints, 1)
	require.NotEmpty(t, attempts.DataPoints[0].Exemplars)
	assert.Equal(t, traceID[:], attempts.DataPoints[0].Exemplars[0].TraceID)
}
