package telemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments recorded by the build pipeline.
type Metrics struct {
	BuildsTotal      metric.Int64Counter
	BuildErrorsTotal metric.Int64Counter
	BuildDuration    metric.Float64Histogram
	PluginDuration   metric.Float64Histogram

	AssetsWrittenTotal metric.Int64Counter
	AssetsSkippedTotal metric.Int64Counter
}

// NewMetrics creates the build instruments from mp. Instrument creation only
// fails on invalid names, in which case the SDK hands back a no-op instrument.
func NewMetrics(mp metric.MeterProvider) *Metrics {
	meter := mp.Meter(InstrumentationName)

	m := &Metrics{}

	m.BuildsTotal, _ = meter.Int64Counter(
		"wasmbundle.builds.total",
		metric.WithDescription("Total number of builds started"),
		metric.WithUnit("{build}"),
	)

	m.BuildErrorsTotal, _ = meter.Int64Counter(
		"wasmbundle.builds.errors.total",
		metric.WithDescription("Total number of builds that failed"),
		metric.WithUnit("{build}"),
	)

	m.BuildDuration, _ = meter.Float64Histogram(
		"wasmbundle.build.duration",
		metric.WithDescription("Duration of complete builds"),
		metric.WithUnit("ms"),
	)

	m.PluginDuration, _ = meter.Float64Histogram(
		"wasmbundle.plugin.duration",
		metric.WithDescription("Duration of a single plugin application"),
		metric.WithUnit("ms"),
	)

	m.AssetsWrittenTotal, _ = meter.Int64Counter(
		"wasmbundle.assets.written.total",
		metric.WithDescription("Total number of assets written to the output directory"),
		metric.WithUnit("{asset}"),
	)

	m.AssetsSkippedTotal, _ = meter.Int64Counter(
		"wasmbundle.assets.skipped.total",
		metric.WithDescription("Total number of assets left in place because their content was unchanged"),
		metric.WithUnit("{asset}"),
	)

	return m
}
