package otelhelper

import (
	"context"
	"time"

	"github.com/dukex/stagehand/pkg/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/dukex/stagehand"

// Metrics records execution outcomes on OpenTelemetry instruments. Without a configured
// MeterProvider every instrument is a no-op.
type Metrics struct {
	executions        metric.Int64Counter
	executionDuration metric.Float64Histogram
	states            metric.Int64Counter
	expired           metric.Int64Counter
}

func NewMetrics() *Metrics {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter builds the instruments on meter. Creation errors leave no-op
// instruments behind.
func NewMetricsWithMeter(meter metric.Meter) *Metrics {
	executions, _ := meter.Int64Counter("stagehand.execution.completed",
		metric.WithDescription("Workflow executions that reached a final status"),
		metric.WithUnit("{execution}"),
	)

	executionDuration, _ := meter.Float64Histogram("stagehand.execution.duration",
		metric.WithDescription("Time from execution start to its final status"),
		metric.WithUnit("s"),
	)

	states, _ := meter.Int64Counter("stagehand.state.responses",
		metric.WithDescription("Responses returned by state executions"),
		metric.WithUnit("{response}"),
	)

	expired, _ := meter.Int64Counter("stagehand.instance.expired",
		metric.WithDescription("Waiting instances failed by the timeout supervisor"),
		metric.WithUnit("{instance}"),
	)

	return &Metrics{
		executions:        executions,
		executionDuration: executionDuration,
		states:            states,
		expired:           expired,
	}
}

func (m *Metrics) RecordExecution(ctx context.Context, status models.ExecutionStatus, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String(StatusKey, string(status)))

	m.executions.Add(ctx, 1, attrs)
	m.executionDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *Metrics) RecordState(ctx context.Context, stateType string, response *models.ExecutionResponse) {
	m.states.Add(ctx, 1, metric.WithAttributes(
		attribute.String(StateTypeKey, stateType),
		attribute.String(StatusKey, string(response.Status)),
		attribute.Bool("stagehand.response.async", response.Async),
	))
}

func (m *Metrics) RecordExpired(ctx context.Context, count int) {
	if count == 0 {
		return
	}

	m.expired.Add(ctx, int64(count))
}
