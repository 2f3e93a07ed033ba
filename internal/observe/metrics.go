// Package observe provides observability primitives for Cascade:
// OpenTelemetry metrics, tracing helpers, and HTTP middleware for the
// statistics listener.
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Cascade metrics.
const meterName = "github.com/voicekit-labs/cascade"

// Metrics holds all OpenTelemetry metric instruments for the orchestrator.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// AttemptDuration tracks per-attempt inference latency. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("outcome", ...)
	AttemptDuration metric.Float64Histogram

	// MemoryDelta tracks peak-minus-baseline memory per attempt in MB.
	MemoryDelta metric.Float64Histogram

	// RTF tracks the real-time factor of successful attempts.
	RTF metric.Float64Histogram

	// Attempts counts inference attempts. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("outcome", ...)
	Attempts metric.Int64Counter

	// Fallbacks counts fallback activations by trigger kind. Use with:
	//   attribute.String("trigger", ...)
	Fallbacks metric.Int64Counter

	// Constructions counts lazy backend constructions by identity key.
	Constructions metric.Int64Counter

	// CachedBackends tracks the number of live backends held by the cache.
	CachedBackends metric.Int64UpDownCounter

	// HTTPRequestDuration tracks stats-listener request processing time.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// batch transcription latencies, which run far longer than interactive calls.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// memoryBuckets defines histogram bucket boundaries in MB for per-attempt
// memory deltas.
var memoryBuckets = []float64{
	16, 64, 128, 256, 512, 1024, 2048, 4096, 8192,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.AttemptDuration, err = m.Float64Histogram("cascade.attempt.duration",
		metric.WithDescription("Latency of a single transcription attempt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MemoryDelta, err = m.Float64Histogram("cascade.attempt.memory_delta",
		metric.WithDescription("Peak-minus-baseline process memory per attempt."),
		metric.WithUnit("MBy"),
		metric.WithExplicitBucketBoundaries(memoryBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RTF, err = m.Float64Histogram("cascade.attempt.rtf",
		metric.WithDescription("Real-time factor of successful attempts."),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Attempts, err = m.Int64Counter("cascade.attempts",
		metric.WithDescription("Total transcription attempts by backend and outcome."),
	); err != nil {
		return nil, err
	}
	if met.Fallbacks, err = m.Int64Counter("cascade.fallbacks",
		metric.WithDescription("Total fallback activations by trigger kind."),
	); err != nil {
		return nil, err
	}
	if met.Constructions, err = m.Int64Counter("cascade.backend.constructions",
		metric.WithDescription("Total lazy backend constructions by identity key."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.CachedBackends, err = m.Int64UpDownCounter("cascade.backend.cached",
		metric.WithDescription("Number of live backends held by the cache."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("cascade.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordAttempt records one attempt's counter increment and latency sample
// with the standard attribute set.
func (m *Metrics) RecordAttempt(ctx context.Context, backendName, outcome string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("backend", backendName),
		attribute.String("outcome", outcome),
	)
	m.Attempts.Add(ctx, 1, attrs)
	m.AttemptDuration.Record(ctx, seconds, attrs)
}
