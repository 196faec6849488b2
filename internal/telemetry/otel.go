package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"ceilq/internal/hw"
	"ceilq/internal/sched"
)

// OtelMetrics reports scheduler counters through an OpenTelemetry meter.
type OtelMetrics struct {
	dispatches metric.Int64Counter
	wall       metric.Float64Histogram
	rejected   metric.Int64Counter
	locks      metric.Int64Counter
	expired    metric.Int64Counter
}

var _ sched.Metrics = (*OtelMetrics)(nil)

func NewOtelMetrics(meter metric.Meter) (*OtelMetrics, error) {
	m := &OtelMetrics{}
	var err error
	if m.dispatches, err = meter.Int64Counter("ceilq.task.dispatches",
		metric.WithDescription("Completed task invocations.")); err != nil {
		return nil, err
	}
	if m.wall, err = meter.Float64Histogram("ceilq.task.wall",
		metric.WithDescription("Wall time of one invocation, preemptions included."),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.rejected, err = meter.Int64Counter("ceilq.task.rejected",
		metric.WithDescription("Spawns and schedules refused for capacity.")); err != nil {
		return nil, err
	}
	if m.locks, err = meter.Int64Counter("ceilq.resource.locks",
		metric.WithDescription("Locks taken on shared resources.")); err != nil {
		return nil, err
	}
	if m.expired, err = meter.Int64Counter("ceilq.timer.expired",
		metric.WithDescription("Timer-queue entries moved to a ready queue.")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *OtelMetrics) RecordDispatch(task string, level hw.Level, wall time.Duration) {
	attrs := metric.WithAttributes(attribute.String("task", task), attribute.Int("level", int(level)))
	m.dispatches.Add(context.Background(), 1, attrs)
	m.wall.Record(context.Background(), wall.Seconds(), attrs)
}

func (m *OtelMetrics) RecordRejected(task string, queue string) {
	m.rejected.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("task", task), attribute.String("queue", queue)))
}

func (m *OtelMetrics) RecordLock(resource string, ceiling hw.Level) {
	m.locks.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("resource", resource), attribute.Int("ceiling", int(ceiling))))
}

func (m *OtelMetrics) RecordTimerExpired(task string) {
	m.expired.Add(context.Background(), 1, metric.WithAttributes(attribute.String("task", task)))
}
