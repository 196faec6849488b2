// internal/sched/schedulerEvent.go

package sched

import (
	"time"

	"github.com/google/uuid"

	"ceilq/internal/hw"
)

// StatusKind represents the type of scheduler event
type StatusKind int

const (
	StatusIdle StatusKind = iota
	StatusEnqueue
	StatusDispatch
	StatusPreempt
	StatusFinish
	StatusSchedule
	StatusTimer
	StatusReject
	StatusInit
)

// StatusEvent is emitted synchronously on every key action. Preempt names the
// task being interrupted, every other kind names the task acted upon.
type StatusEvent struct {
	Time    time.Time
	Instant hw.Instant
	Kind    StatusKind
	TaskID  TaskID
	Task    string
	Level   hw.Level
	System  uuid.UUID
}

func (sk StatusKind) String() string {
	switch sk {
	case StatusIdle:
		return "Idle"
	case StatusEnqueue:
		return "Enqueued"
	case StatusDispatch:
		return "Dispatch"
	case StatusPreempt:
		return "Preempt"
	case StatusFinish:
		return "Finish"
	case StatusSchedule:
		return "Scheduled"
	case StatusTimer:
		return "Timer"
	case StatusReject:
		return "Rejected"
	case StatusInit:
		return "InitDone"
	default:
		return "Unknown"
	}
}
