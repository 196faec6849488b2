package sched

import (
	"fmt"
	"strings"
	"sync/atomic"

	"ceilq/internal/hw"
)

// TaskID indexes the static task table.
type TaskID uint16

// TaskKind says how a task gets invoked.
type TaskKind int

const (
	KindInit TaskKind = iota
	KindIdle
	KindHardware
	KindSoftware
)

func (k TaskKind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindIdle:
		return "idle"
	case KindHardware:
		return "hardware"
	case KindSoftware:
		return "software"
	default:
		return "unknown"
	}
}

// UnmarshalYAML accepts the kind names produced by String.
func (k *TaskKind) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	for _, c := range []TaskKind{KindInit, KindIdle, KindHardware, KindSoftware} {
		if strings.EqualFold(s, c.String()) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown task kind %q", s)
}

// Body signatures, one per kind.
type (
	InitFunc     func(cx *InitContext) error
	IdleFunc     func(cx *IdleContext)
	HardwareFunc func(cx *HardwareContext)
	SoftwareFunc func(cx *SoftwareContext)
)

// TaskDecl is one row of the static task table.
type TaskDecl struct {
	Name      string   `yaml:"name"`
	Kind      TaskKind `yaml:"kind"`
	Priority  hw.Level `yaml:"priority"`  // 1..MaxLevel for hardware and software tasks
	Binds     hw.IRQ   `yaml:"binds"`     // hardware tasks only
	Resources []string `yaml:"resources"` // access set, by resource name
	Capacity  int      `yaml:"capacity"`  // software tasks: pending invocations; 0 = default

	// Schedulable lets the task be the target of a timer-queue schedule.
	Schedulable bool `yaml:"schedulable"`
	// Schedules gives the task a Schedule capability. Only these tasks, init
	// and the timer handler touch the timer queue, so only they count toward
	// its ceiling.
	Schedules bool `yaml:"schedules"`

	// Body names a task body in an external registry. The runtime ignores it.
	Body string `yaml:"body"`
}

// Task is one entry of the built task table.
type Task struct {
	ID          TaskID
	Name        string
	Kind        TaskKind
	Priority    hw.Level
	Binds       hw.IRQ
	Capacity    int
	Schedulable bool
	Schedules   bool

	access   map[ResourceID]bool
	body     any
	inflight atomic.Int32 // entries held in the ready or timer queue
}

// reserve claims one of the task's queue slots.
func (t *Task) reserve() bool {
	for {
		n := t.inflight.Load()
		if int(n) >= t.Capacity {
			return false
		}
		if t.inflight.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (t *Task) release() { t.inflight.Add(-1) }

// Pending returns how many invocations of t are queued.
func (t *Task) Pending() int { return int(t.inflight.Load()) }
