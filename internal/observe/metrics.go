// Package observe provides application-wide observability primitives for
// Auricle: OpenTelemetry metrics and the SDK provider setup.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. Tests should use [NewMetrics]
// with a custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Auricle metrics.
const meterName = "github.com/MrWong99/auricle"

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// EnhanceDuration tracks per-buffer enhancement LLM latency.
	EnhanceDuration metric.Float64Histogram

	// IntelDuration tracks per-buffer intelligence LLM latency. Use with
	// attribute.String("kind", ...).
	IntelDuration metric.Float64Histogram

	// --- Counters ---

	// TurnsReceived counts turn messages from the STT stream. Use with
	// attribute.Bool("final", ...).
	TurnsReceived metric.Int64Counter

	// BuffersFlushed counts transcription buffers handed to the agents.
	BuffersFlushed metric.Int64Counter

	// PCMChunksDropped counts capture chunks dropped on backpressure.
	PCMChunksDropped metric.Int64Counter

	// LLMErrors counts failed or discarded LLM results. Use with
	// attribute.String("stage", "enhance"|"intel").
	LLMErrors metric.Int64Counter

	// --- Gauges ---

	// ActivePipelines tracks whether a pipeline is currently running (0 or 1).
	ActivePipelines metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for LLM round-trip latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.EnhanceDuration, err = m.Float64Histogram("auricle.enhance.duration",
		metric.WithDescription("Latency of per-buffer transcript enhancement."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.IntelDuration, err = m.Float64Histogram("auricle.intel.duration",
		metric.WithDescription("Latency of per-buffer intelligence analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnsReceived, err = m.Int64Counter("auricle.turns.received",
		metric.WithDescription("Turn messages received from the STT stream."),
	); err != nil {
		return nil, err
	}
	if met.BuffersFlushed, err = m.Int64Counter("auricle.buffers.flushed",
		metric.WithDescription("Transcription buffers flushed to the agents."),
	); err != nil {
		return nil, err
	}
	if met.PCMChunksDropped, err = m.Int64Counter("auricle.pcm.dropped",
		metric.WithDescription("PCM chunks dropped because the stream channel was full."),
	); err != nil {
		return nil, err
	}
	if met.LLMErrors, err = m.Int64Counter("auricle.llm.errors",
		metric.WithDescription("LLM results discarded due to request or stream errors."),
	); err != nil {
		return nil, err
	}
	if met.ActivePipelines, err = m.Int64UpDownCounter("auricle.pipelines.active",
		metric.WithDescription("Number of currently running pipelines."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Default returns a [Metrics] instance backed by the global OTel meter
// provider. Call after [InitProvider] so instruments bind to the Prometheus
// bridge.
func Default() (*Metrics, error) {
	return NewMetrics(otel.GetMeterProvider())
}
