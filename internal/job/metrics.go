package job

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/maauso/voicetrack/internal/job"

// metrics records pipeline activity on the global meter provider, which is
// a no-op until telemetry is set up.
type metrics struct {
	units         metric.Int64Counter
	unitDuration  metric.Float64Histogram
	stageDuration metric.Float64Histogram
	jobs          metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter(meterName)
	fallback := noop.NewMeterProvider().Meter(meterName)

	m := &metrics{}
	var err error
	if m.units, err = meter.Int64Counter("voicetrack.units",
		metric.WithDescription("Synthesized units by outcome")); err != nil {
		m.units, _ = fallback.Int64Counter("voicetrack.units")
	}
	if m.unitDuration, err = meter.Float64Histogram("voicetrack.unit.duration",
		metric.WithDescription("Time spent synthesizing one unit"),
		metric.WithUnit("s")); err != nil {
		m.unitDuration, _ = fallback.Float64Histogram("voicetrack.unit.duration")
	}
	if m.stageDuration, err = meter.Float64Histogram("voicetrack.stage.duration",
		metric.WithDescription("Time spent in a pipeline stage"),
		metric.WithUnit("s")); err != nil {
		m.stageDuration, _ = fallback.Float64Histogram("voicetrack.stage.duration")
	}
	if m.jobs, err = meter.Int64Counter("voicetrack.jobs",
		metric.WithDescription("Jobs reaching a terminal status")); err != nil {
		m.jobs, _ = fallback.Int64Counter("voicetrack.jobs")
	}
	return m
}

func (m *metrics) unitDone(ctx context.Context, status UnitStatus, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", string(status)))
	m.units.Add(ctx, 1, attrs)
	m.unitDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *metrics) stageDone(ctx context.Context, stage Status, failed bool, elapsed time.Duration) {
	m.stageDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("stage", string(stage)),
		attribute.Bool("failed", failed),
	))
}

func (m *metrics) jobDone(ctx context.Context, kind Kind, status Status) {
	m.jobs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("status", string(status)),
	))
}
