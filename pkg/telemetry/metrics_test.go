// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*CycleMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewCycleMetrics(mp)
	if err != nil {
		t.Fatalf("failed to create cycle metrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s is %T, not an int64 sum", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestCycleMetricsRecord(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCycle(ctx, "complete", 2*time.Second)
	m.RecordCycle(ctx, "partial", 10*time.Second)
	m.RecordReply(ctx, "weather", true)
	m.RecordReply(ctx, "time", false)
	m.RecordReply(ctx, "buildings", true)
	m.RecordDiscarded(ctx, "stale")
	m.RecordSkippedTick(ctx)
	m.RecordSkippedTick(ctx)

	got := collect(t, reader)
	tests := []struct {
		name string
		want int64
	}{
		{"soundscape.cycles", 2},
		{"soundscape.replies", 3},
		{"soundscape.replies.discarded", 1},
		{"soundscape.ticks.skipped", 2},
	}
	for _, tt := range tests {
		metric, ok := got[tt.name]
		if !ok {
			t.Errorf("missing metric %s", tt.name)
			continue
		}
		if v := sumOf(t, metric); v != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, v, tt.want)
		}
	}

	hist, ok := got["soundscape.cycle.duration"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected duration histogram")
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 2 {
		t.Errorf("expected 2 duration samples, got %d", count)
	}
}

func TestNilCycleMetrics(t *testing.T) {
	var m *CycleMetrics
	ctx := context.Background()

	// Should not panic
	m.RecordCycle(ctx, "complete", time.Second)
	m.RecordReply(ctx, "weather", true)
	m.RecordDiscarded(ctx, "duplicate")
	m.RecordSkippedTick(ctx)
}
