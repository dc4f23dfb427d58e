package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/authdemo"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Auth flow metrics
	AuthAttemptsTotal metric.Int64Counter

	// Identity provider metrics
	ProviderRequestDuration metric.Float64Histogram

	// Session metrics
	SessionRefreshTotal      metric.Int64Counter
	CookieWritesRefusedTotal metric.Int64Counter

	// Audit metrics
	AuthEventsDroppedTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.AuthAttemptsTotal, _ = meter.Int64Counter(
		"authdemo.auth.attempts",
		metric.WithDescription("Total number of authentication attempts by kind and outcome"),
		metric.WithUnit("{attempt}"),
	)

	m.ProviderRequestDuration, _ = meter.Float64Histogram(
		"authdemo.provider.duration",
		metric.WithDescription("Duration of identity provider requests"),
		metric.WithUnit("ms"),
	)

	m.SessionRefreshTotal, _ = meter.Int64Counter(
		"authdemo.session.refresh.total",
		metric.WithDescription("Total number of session refreshes by outcome"),
		metric.WithUnit("{refresh}"),
	)

	m.CookieWritesRefusedTotal, _ = meter.Int64Counter(
		"authdemo.session.cookie_writes_refused.total",
		metric.WithDescription("Total number of session cookie writes refused because the response was committed"),
		metric.WithUnit("{write}"),
	)

	m.AuthEventsDroppedTotal, _ = meter.Int64Counter(
		"authdemo.audit.events_dropped.total",
		metric.WithDescription("Total number of auth events that could not be recorded"),
		metric.WithUnit("{event}"),
	)

	return m
}
