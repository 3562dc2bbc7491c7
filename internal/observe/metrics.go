// Package observe provides the OpenTelemetry metric instruments of go-tdoa.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped
// through the Prometheus exporter installed by [InitProvider]. Tests should
// build their own instance with [NewMetrics] and a ManualReader-backed
// provider. All helpers are safe to call on a nil *Metrics.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/teslashibe/go-tdoa"

// Cycle outcomes reported with the "outcome" attribute.
const (
	OutcomeEmitted       = "emitted"
	OutcomeWindowFilling = "window_filling"
	OutcomeNoPeak        = "no_peak"
	OutcomeFrameMismatch = "frame_mismatch"
	OutcomeStalled       = "stalled"
	OutcomeError         = "error"
)

// Metrics holds every instrument of the daemon
type Metrics struct {
	// PipelineCycles counts pipeline iterations by outcome.
	PipelineCycles metric.Int64Counter

	// CycleDuration tracks processing time of one cycle in seconds.
	CycleDuration metric.Float64Histogram

	// ChannelDrops counts values lost to full queues or mailboxes, by channel.
	ChannelDrops metric.Int64Counter

	// TelemetryRecords counts records handed to the network, by status.
	TelemetryRecords metric.Int64Counter

	// TelemetryReconnects counts reconnect sequences of the telemetry sink.
	TelemetryReconnects metric.Int64Counter

	// Delay is the most recent smoothed delay in seconds.
	Delay metric.Float64Gauge

	// WebSocketClients tracks connected stream clients.
	WebSocketClients metric.Int64UpDownCounter

	// HTTPRequestDuration tracks API request latency by method and path.
	HTTPRequestDuration metric.Float64Histogram
}

var cycleBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

var httpBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates all instruments from the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.PipelineCycles, err = m.Int64Counter("tdoa.pipeline.cycles",
		metric.WithDescription("Pipeline cycles by outcome."),
	); err != nil {
		return nil, err
	}
	if met.CycleDuration, err = m.Float64Histogram("tdoa.pipeline.cycle.duration",
		metric.WithDescription("Processing time of one pipeline cycle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(cycleBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChannelDrops, err = m.Int64Counter("tdoa.channel.drops",
		metric.WithDescription("Values dropped by full queues and mailboxes, by channel."),
	); err != nil {
		return nil, err
	}
	if met.TelemetryRecords, err = m.Int64Counter("tdoa.telemetry.records",
		metric.WithDescription("Telemetry records by delivery status."),
	); err != nil {
		return nil, err
	}
	if met.TelemetryReconnects, err = m.Int64Counter("tdoa.telemetry.reconnects",
		metric.WithDescription("Reconnect sequences of the telemetry sink."),
	); err != nil {
		return nil, err
	}
	if met.Delay, err = m.Float64Gauge("tdoa.delay",
		metric.WithDescription("Most recent smoothed inter-channel delay."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.WebSocketClients, err = m.Int64UpDownCounter("tdoa.websocket.clients",
		metric.WithDescription("Connected bearing stream clients."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("tdoa.http.request.duration",
		metric.WithDescription("HTTP request latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(httpBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordCycle counts one pipeline cycle and its duration.
func (m *Metrics) RecordCycle(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.PipelineCycles.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.CycleDuration.Record(ctx, d.Seconds())
}

// RecordDrops adds n dropped values for channel.
func (m *Metrics) RecordDrops(ctx context.Context, channel string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ChannelDrops.Add(ctx, n, metric.WithAttributes(attribute.String("channel", channel)))
}

// RecordTelemetry counts one record as sent or failed.
func (m *Metrics) RecordTelemetry(ctx context.Context, sent bool) {
	if m == nil {
		return
	}
	status := "sent"
	if !sent {
		status = "failed"
	}
	m.TelemetryRecords.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordReconnect counts one reconnect sequence.
func (m *Metrics) RecordReconnect(ctx context.Context) {
	if m == nil {
		return
	}
	m.TelemetryReconnects.Add(ctx, 1)
}

// RecordDelay stores the latest smoothed delay.
func (m *Metrics) RecordDelay(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.Delay.Record(ctx, seconds)
}

// AddWebSocketClients adjusts the connected client gauge by delta.
func (m *Metrics) AddWebSocketClients(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.WebSocketClients.Add(ctx, delta)
}

// RecordHTTPRequest records the latency of one API request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	))
}
