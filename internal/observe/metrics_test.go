package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/tunetrack/pkg/audio/capture"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumValue returns the total of an int64 sum metric across all data points
// whose attributes contain every pair in match.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string, match ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, not an int64 sum", name, met.Data)
	}
	var total int64
next:
	for _, dp := range sum.DataPoints {
		for _, want := range match {
			got, ok := dp.Attributes.Value(want.Key)
			if !ok || got != want.Value {
				continue next
			}
		}
		total += dp.Value
	}
	return total
}

func TestRecordEstimation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEstimation(ctx, 2*time.Millisecond)
	m.RecordEstimation(ctx, 7*time.Millisecond)

	met := findMetric(collect(t, reader), "tunetrack.estimation.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	dp := hist.DataPoints[0]
	if dp.Count != 2 {
		t.Errorf("sample count = %d, want 2", dp.Count)
	}
	if dp.Sum < 0.0089 || dp.Sum > 0.0091 {
		t.Errorf("sum = %v s, want 0.009", dp.Sum)
	}
}

func TestRecordFailure_ByReason(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFailure(ctx, FailureError)
	m.RecordFailure(ctx, FailureError)
	m.RecordFailure(ctx, FailurePanic)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "tunetrack.estimation.failures", Attr("reason", FailureError)); got != 2 {
		t.Errorf("error failures = %d, want 2", got)
	}
	if got := sumValue(t, rm, "tunetrack.estimation.failures", Attr("reason", FailurePanic)); got != 1 {
		t.Errorf("panic failures = %d, want 1", got)
	}
}

func TestRecordOffer(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordOffer(ctx, true)
	m.RecordOffer(ctx, true)
	m.RecordOffer(ctx, false)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "tunetrack.estimates.emitted"); got != 2 {
		t.Errorf("emitted = %d, want 2", got)
	}
	if got := sumValue(t, rm, "tunetrack.estimates.dropped"); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
}

func TestLoopCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ReadMisses.Add(ctx, 3)
	m.FramesGated.Add(ctx, 4)
	m.DisplayClients.Add(ctx, 2)
	m.DisplayClients.Add(ctx, -1)
	m.DisplayMessagesDropped.Add(ctx, 5)

	rm := collect(t, reader)
	tests := []struct {
		name string
		want int64
	}{
		{"tunetrack.buffer.read_misses", 3},
		{"tunetrack.frames.gated", 4},
		{"tunetrack.display.clients", 1},
		{"tunetrack.display.messages_dropped", 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := sumValue(t, rm, tc.name); got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

type fakeStats struct{ s capture.Stats }

func (f *fakeStats) Stats() capture.Stats { return f.s }

func TestObserveCapture_ReadsAtCollection(t *testing.T) {
	m, reader := newTestMetrics(t)

	src := &fakeStats{s: capture.Stats{Blocks: 10, Overflows: 1}}
	reg, err := m.ObserveCapture(src)
	if err != nil {
		t.Fatalf("ObserveCapture: %v", err)
	}
	t.Cleanup(func() { _ = reg.Unregister() })

	rm := collect(t, reader)
	if got := sumValue(t, rm, "tunetrack.capture.blocks"); got != 10 {
		t.Errorf("blocks = %d, want 10", got)
	}
	if got := sumValue(t, rm, "tunetrack.capture.overflows"); got != 1 {
		t.Errorf("overflows = %d, want 1", got)
	}

	src.s = capture.Stats{Blocks: 25, Overflows: 2, Panics: 1}
	rm = collect(t, reader)
	if got := sumValue(t, rm, "tunetrack.capture.blocks"); got != 25 {
		t.Errorf("blocks after update = %d, want 25", got)
	}
	if got := sumValue(t, rm, "tunetrack.capture.panics"); got != 1 {
		t.Errorf("panics = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
