package sched

import (
	"time"

	"ceilq/internal/hw"
)

// Metrics collects runtime counters. Methods run inside interrupt handlers
// and must not block.
type Metrics interface {
	// RecordDispatch records one completed task invocation and its wall time,
	// preemptions included.
	RecordDispatch(task string, level hw.Level, wall time.Duration)

	// RecordRejected records a spawn or schedule refused for capacity.
	// queue is "ready" or "timer".
	RecordRejected(task string, queue string)

	// RecordLock records one lock of a shared resource.
	RecordLock(resource string, ceiling hw.Level)

	// RecordTimerExpired records a timer-queue entry moved to a ready queue.
	RecordTimerExpired(task string)
}

// NilMetrics is the default no-op implementation.
type NilMetrics struct{}

func (m *NilMetrics) RecordDispatch(task string, level hw.Level, wall time.Duration) {}

func (m *NilMetrics) RecordRejected(task string, queue string) {}

func (m *NilMetrics) RecordLock(resource string, ceiling hw.Level) {}

func (m *NilMetrics) RecordTimerExpired(task string) {}
