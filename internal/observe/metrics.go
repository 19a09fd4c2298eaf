// Package observe provides application-wide observability primitives for
// Agora: OpenTelemetry metrics and HTTP middleware.
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

// meterName is the instrumentation scope name used for all Agora metrics.
const meterName = "github.com/agora-circle/agora"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TurnDuration tracks per-turn generation latency, including retries.
	// Use with attributes:
	//   attribute.String("agent", ...), attribute.String("model", ...)
	TurnDuration metric.Float64Histogram

	// LLMDuration tracks a single chat request's latency.
	LLMDuration metric.Float64Histogram

	// EmbeddingDuration tracks embedding request latency.
	EmbeddingDuration metric.Float64Histogram

	// LLMRequests counts backend calls. Use with attributes:
	//   attribute.String("endpoint", ...), attribute.String("status", ...)
	LLMRequests metric.Int64Counter

	// TurnErrors counts failed generation attempts. Use with attributes:
	//   attribute.String("agent", ...), attribute.String("kind", ...)
	TurnErrors metric.Int64Counter

	// Turns counts completed dialogue turns. Use with attribute:
	//   attribute.String("agent", ...)
	Turns metric.Int64Counter

	// ActiveSessions tracks the number of live dialogue sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveObservers tracks the number of attached stream observers across
	// all sessions.
	ActiveObservers metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// turnBuckets defines histogram bucket boundaries (in seconds) sized for
// local-model generation latencies.
var turnBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("agora.turn.duration",
		metric.WithDescription("Per-turn generation latency including retries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(turnBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("agora.llm.duration",
		metric.WithDescription("Latency of a single chat request."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(turnBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingDuration, err = m.Float64Histogram("agora.embedding.duration",
		metric.WithDescription("Latency of embedding requests."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.LLMRequests, err = m.Int64Counter("agora.llm.requests",
		metric.WithDescription("Total backend requests by endpoint and status."),
	); err != nil {
		return nil, err
	}
	if met.TurnErrors, err = m.Int64Counter("agora.turn.errors",
		metric.WithDescription("Failed generation attempts by agent and kind."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("agora.turns",
		metric.WithDescription("Completed dialogue turns by agent."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("agora.active_sessions",
		metric.WithDescription("Number of live dialogue sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveObservers, err = m.Int64UpDownCounter("agora.active_observers",
		metric.WithDescription("Number of attached stream observers."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("agora.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
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

// RecordLLMRequest records a backend call with the standard attribute set.
func (m *Metrics) RecordLLMRequest(ctx context.Context, endpoint, status string) {
	m.LLMRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("status", status),
		),
	)
}

// RecordTurn records a completed turn for the given agent.
func (m *Metrics) RecordTurn(ctx context.Context, agentID, model string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("agent", agentID),
		attribute.String("model", model),
	)
	m.Turns.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, seconds, attrs)
}

// RecordTurnError records a failed generation attempt.
func (m *Metrics) RecordTurnError(ctx context.Context, agentID, kind string) {
	m.TurnErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("agent", agentID),
			attribute.String("kind", kind),
		),
	)
}
