package sched

import (
	"errors"
	"fmt"
)

// Static configuration errors. Every one of them wraps ErrConfig and is
// reported by Build before any System exists.
var (
	ErrConfig               = errors.New("invalid system declaration")
	ErrTaskLocalShared      = fmt.Errorf("%w: task-local resource claimed more than once", ErrConfig)
	ErrTaskLocalUnowned     = fmt.Errorf("%w: task-local resource has no owner", ErrConfig)
	ErrUnknownResource      = fmt.Errorf("%w: unknown resource", ErrConfig)
	ErrDuplicateResource    = fmt.Errorf("%w: duplicate resource", ErrConfig)
	ErrDuplicateAccess      = fmt.Errorf("%w: resource listed twice by one task", ErrConfig)
	ErrDuplicateTask        = fmt.Errorf("%w: duplicate task", ErrConfig)
	ErrInitCount            = fmt.Errorf("%w: exactly one init task required", ErrConfig)
	ErrIdleCount            = fmt.Errorf("%w: at most one idle task allowed", ErrConfig)
	ErrPriorityRange        = fmt.Errorf("%w: priority out of range", ErrConfig)
	ErrIRQConflict          = fmt.Errorf("%w: interrupt line conflict", ErrConfig)
	ErrNoDispatcher         = fmt.Errorf("%w: not enough dispatcher interrupts", ErrConfig)
	ErrCeilingBelowAccessor = fmt.Errorf("%w: ceiling below an accessing task", ErrConfig)
	ErrCapacityRange        = fmt.Errorf("%w: capacity must not be negative", ErrConfig)
	ErrMissingBody          = fmt.Errorf("%w: task has no body", ErrConfig)
)

// Runtime errors returned to callers of spawn and schedule, and the panics
// raised for capabilities misused by task code.
//
// ErrReadyQueueFull and ErrTimerQueueFull name the queue the rejected call
// targeted. A task's capacity is shared by its ready-queue and timer-queue
// entries, so a schedule can be refused because spawned invocations hold
// every slot; CapacityError.Pending tells the two cases apart.
var (
	ErrCapacity            = errors.New("queue capacity exhausted")
	ErrReadyQueueFull      = fmt.Errorf("%w: ready queue full", ErrCapacity)
	ErrTimerQueueFull      = fmt.Errorf("%w: timer queue full", ErrCapacity)
	ErrNotSpawnable        = errors.New("task is not a software task")
	ErrNotSchedulable      = errors.New("task is not schedulable")
	ErrAlreadyStarted      = errors.New("system already started")
	ErrLateResourceMissing = errors.New("late resource not initialised by init")
	ErrStaleContext        = errors.New("capability used outside the invocation that owns it")
	ErrNotGranted          = errors.New("resource not in the task's access set")
	ErrLateAssigned        = errors.New("late resource already initialised")
	ErrNotLateResource     = errors.New("resource is not late")
)

// CapacityError reports a spawn or schedule that found its queue full. The
// rejected payload is handed back so the caller can retry or drop it.
type CapacityError struct {
	Task    string
	Payload any
	Err     error

	// Pending is how many invocations of the task held a slot, in either
	// queue, when the call was refused. Capacity is the task's slot count.
	Pending  int
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: %v (%d of %d slots pending)", e.Task, e.Err, e.Pending, e.Capacity)
}

func (e *CapacityError) Unwrap() error { return e.Err }
