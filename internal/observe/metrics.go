// Package observe provides application-wide observability primitives for
// Setcue: OpenTelemetry metrics and the HTTP plumbing that exposes them.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all Setcue metrics.
const meterName = "github.com/setcue/setcue"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscriptLatency tracks the delay between an audio frame arriving and
	// a transcript being observed for the stream it fed.
	TranscriptLatency metric.Float64Histogram

	// MatchDuration tracks one full matcher pass (single plus multi-song).
	MatchDuration metric.Float64Histogram

	// --- Counters ---

	// BroadcastMessages counts server messages fanned out to event
	// connections. Use with attribute:
	//   attribute.String("type", ...)
	BroadcastMessages metric.Int64Counter

	// SlideAdvances counts automatic slide advances. Use with attribute:
	//   attribute.String("reason", ...) ("jump" or "end-words")
	SlideAdvances metric.Int64Counter

	// SongSwitches counts automatic song switches.
	SongSwitches metric.Int64Counter

	// RateLimitDrops counts frames dropped by the rate limiter. Use with
	// attribute: attribute.String("kind", ...) ("control" or "audio")
	RateLimitDrops metric.Int64Counter

	// --- Error counters ---

	// ProtocolErrors counts ERROR frames sent, by stable code. Use with
	// attribute: attribute.String("code", ...)
	ProtocolErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live lyric-follow sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveStreams tracks the number of open streaming STT handles.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for live-follow latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptLatency, err = m.Float64Histogram("setcue.transcript.latency",
		metric.WithDescription("Delay between audio arriving and a transcript being observed."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MatchDuration, err = m.Float64Histogram("setcue.match.duration",
		metric.WithDescription("Duration of one full matcher pass."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.BroadcastMessages, err = m.Int64Counter("setcue.broadcast.messages",
		metric.WithDescription("Server messages fanned out to event connections, by type."),
	); err != nil {
		return nil, err
	}
	if met.SlideAdvances, err = m.Int64Counter("setcue.slide.advances",
		metric.WithDescription("Automatic slide advances, by reason."),
	); err != nil {
		return nil, err
	}
	if met.SongSwitches, err = m.Int64Counter("setcue.song.switches",
		metric.WithDescription("Automatic song switches."),
	); err != nil {
		return nil, err
	}
	if met.RateLimitDrops, err = m.Int64Counter("setcue.ratelimit.drops",
		metric.WithDescription("Frames dropped by the per-connection rate limiter, by kind."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProtocolErrors, err = m.Int64Counter("setcue.errors",
		metric.WithDescription("ERROR frames sent, by stable code."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("setcue.active_sessions",
		metric.WithDescription("Number of live lyric-follow sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("setcue.active_streams",
		metric.WithDescription("Number of open streaming STT handles."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("setcue.http.request.duration",
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

// RecordBroadcast records count outbound messages of one type.
func (m *Metrics) RecordBroadcast(ctx context.Context, msgType string, count int64) {
	m.BroadcastMessages.Add(ctx, count,
		metric.WithAttributes(attribute.String("type", msgType)),
	)
}

// RecordError records one ERROR frame by stable code.
func (m *Metrics) RecordError(ctx context.Context, code string) {
	m.ProtocolErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("code", code)),
	)
}

// RecordRateLimitDrop records one dropped frame by limiter kind.
func (m *Metrics) RecordRateLimitDrop(ctx context.Context, kind string) {
	m.RateLimitDrops.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordSlideAdvance records one automatic slide advance by reason.
func (m *Metrics) RecordSlideAdvance(ctx context.Context, reason string) {
	m.SlideAdvances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
