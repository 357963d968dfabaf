// Package observe provides application-wide observability primitives for
// tunetrack: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/tunetrack/pkg/audio/capture"
)

// meterName is the instrumentation scope name used for all tunetrack metrics.
const meterName = "github.com/MrWong99/tunetrack"

// Failure reasons recorded on [Metrics.EstimationFailures].
const (
	FailureError = "error"
	FailurePanic = "panic"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	meter metric.Meter

	// --- Estimation loop ---

	// EstimationDuration tracks how long a single Estimate call takes.
	EstimationDuration metric.Float64Histogram

	// ReadMisses counts polls that found no frame in the rolling buffer.
	ReadMisses metric.Int64Counter

	// FramesGated counts frames rejected by the RMS energy gate.
	FramesGated metric.Int64Counter

	// EstimatesEmitted counts estimates accepted by the output queue.
	EstimatesEmitted metric.Int64Counter

	// EstimatesDropped counts estimates discarded because the output queue
	// was full.
	EstimatesDropped metric.Int64Counter

	// EstimationFailures counts abandoned iterations. Use with attribute:
	//   attribute.String("reason", FailureError|FailurePanic)
	EstimationFailures metric.Int64Counter

	// --- Display ---

	// DisplayClients tracks the number of connected websocket clients.
	DisplayClients metric.Int64UpDownCounter

	// DisplayMessagesDropped counts messages discarded because a client's send
	// queue was full.
	DisplayMessagesDropped metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// estimationBuckets defines histogram bucket boundaries (in seconds) for a
// single pitch estimate over a few thousand samples.
var estimationBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.EstimationDuration, err = m.Float64Histogram("tunetrack.estimation.duration",
		metric.WithDescription("Latency of a single pitch estimate."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(estimationBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ReadMisses, err = m.Int64Counter("tunetrack.buffer.read_misses",
		metric.WithDescription("Polls of the rolling buffer that found no frame."),
	); err != nil {
		return nil, err
	}
	if met.FramesGated, err = m.Int64Counter("tunetrack.frames.gated",
		metric.WithDescription("Frames skipped by the RMS energy gate."),
	); err != nil {
		return nil, err
	}
	if met.EstimatesEmitted, err = m.Int64Counter("tunetrack.estimates.emitted",
		metric.WithDescription("Pitch estimates accepted by the output queue."),
	); err != nil {
		return nil, err
	}
	if met.EstimatesDropped, err = m.Int64Counter("tunetrack.estimates.dropped",
		metric.WithDescription("Pitch estimates discarded on a full output queue."),
	); err != nil {
		return nil, err
	}
	if met.EstimationFailures, err = m.Int64Counter("tunetrack.estimation.failures",
		metric.WithDescription("Estimation iterations abandoned by reason."),
	); err != nil {
		return nil, err
	}

	if met.DisplayClients, err = m.Int64UpDownCounter("tunetrack.display.clients",
		metric.WithDescription("Number of connected display clients."),
	); err != nil {
		return nil, err
	}
	if met.DisplayMessagesDropped, err = m.Int64Counter("tunetrack.display.messages_dropped",
		metric.WithDescription("Display messages discarded on a full client queue."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("tunetrack.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// CaptureStatser is implemented by [capture.Driver].
type CaptureStatser interface {
	Stats() capture.Stats
}

// ObserveCapture registers observable counters that report the capture
// driver's block, overflow and panic totals at collection time. The driver
// keeps those totals in atomics so the audio callback never calls into OTel.
//
// Unregister the returned registration when the driver is discarded.
func (m *Metrics) ObserveCapture(src CaptureStatser) (metric.Registration, error) {
	blocks, err := m.meter.Int64ObservableCounter("tunetrack.capture.blocks",
		metric.WithDescription("Audio blocks delivered by the capture callback."),
	)
	if err != nil {
		return nil, err
	}
	overflows, err := m.meter.Int64ObservableCounter("tunetrack.capture.overflows",
		metric.WithDescription("Audio blocks flagged with an input overflow."),
	)
	if err != nil {
		return nil, err
	}
	panics, err := m.meter.Int64ObservableCounter("tunetrack.capture.panics",
		metric.WithDescription("Panics recovered inside the capture callback."),
	)
	if err != nil {
		return nil, err
	}

	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := src.Stats()
		o.ObserveInt64(blocks, int64(s.Blocks))
		o.ObserveInt64(overflows, int64(s.Overflows))
		o.ObserveInt64(panics, int64(s.Panics))
		return nil
	}, blocks, overflows, panics)
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordEstimation records the latency of one Estimate call.
func (m *Metrics) RecordEstimation(ctx context.Context, d time.Duration) {
	m.EstimationDuration.Record(ctx, d.Seconds())
}

// RecordFailure records an abandoned estimation iteration.
func (m *Metrics) RecordFailure(ctx context.Context, reason string) {
	m.EstimationFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordOffer records the outcome of offering an estimate to the output
// queue.
func (m *Metrics) RecordOffer(ctx context.Context, accepted bool) {
	if accepted {
		m.EstimatesEmitted.Add(ctx, 1)
		return
	}
	m.EstimatesDropped.Add(ctx, 1)
}
