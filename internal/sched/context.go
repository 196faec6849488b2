package sched

import (
	"fmt"

	"ceilq/internal/hw"
)

// Executor is implemented by every task context. Resource access and the
// spawn/schedule capabilities accept any of them.
type Executor interface {
	context() *Context
}

// Context is the part of the capability bundle every kind shares. It is
// built right before a task body runs and is dead once the body returns.
type Context struct {
	// Spawn enqueues software tasks.
	Spawn *Spawner
	// Schedule enqueues software tasks for a later instant. Only init and
	// tasks declared with Schedules get one, and only when some task in the
	// system is schedulable.
	Schedule *Scheduler

	sys  *System
	task *Task
	prio *Priority
}

func (c *Context) context() *Context { return c }

// Task is the name of the running task.
func (c *Context) Task() string { return c.task.Name }

// Priority is the invocation's priority token.
func (c *Context) Priority() *Priority { return c.prio }

// Now reads the monotonic clock.
func (c *Context) Now() hw.Instant { return c.sys.hw.Now() }

// InitContext is handed to init. Core, Device and CS are only reachable here.
type InitContext struct {
	Context
	// Start is the system start time, instant zero.
	Start  hw.Instant
	Core   hw.Platform
	Device any
	CS     CriticalSection
}

// IdleContext is handed to idle.
type IdleContext struct {
	Context
}

// HardwareContext is handed to a task bound to an interrupt line.
type HardwareContext struct {
	Context
	// Start is when the interrupt fired.
	Start hw.Instant
}

// SoftwareContext is handed to a spawned or scheduled task.
type SoftwareContext struct {
	Context
	// Scheduled is the instant the invocation was requested for.
	Scheduled hw.Instant
	Payload   any
}

// CriticalSection proves interrupts are globally masked. Init holds one.
type CriticalSection struct {
	prio *Priority
}

// Valid reports whether the token is still inside init.
func (cs CriticalSection) Valid() bool { return cs.prio != nil && cs.prio.live }

// Spawner enqueues software tasks from inside a running task.
type Spawner struct {
	sys      *System
	prio     *Priority
	baseline hw.Instant
	from     string
}

// Task enqueues one invocation of id carrying payload. The spawned task sees
// the spawner's baseline instant as its Scheduled time.
func (sp *Spawner) Task(id TaskID, payload any) error {
	sp.prio.check()
	t, err := sp.sys.softwareTask(id)
	if err != nil {
		return err
	}
	return sp.sys.spawn(t, entry{task: id, payload: payload, at: sp.baseline}, sp.from)
}

// Scheduler enqueues software tasks for a given instant.
type Scheduler struct {
	sys  *System
	prio *Priority
	from string
}

// Task runs id once the clock reaches at. Entries for the same instant run
// in the order they were scheduled.
func (sc *Scheduler) Task(id TaskID, at hw.Instant, payload any) error {
	sc.prio.check()
	t, err := sc.sys.softwareTask(id)
	if err != nil {
		return err
	}
	if !t.Schedulable {
		return fmt.Errorf("%w: %s", ErrNotSchedulable, t.Name)
	}
	return sc.sys.schedule(sc.prio, t, entry{task: id, payload: payload, at: at}, sc.from)
}

// newContext builds the shared part of a bundle for one invocation of t.
func (s *System) newContext(t *Task, p *Priority, baseline hw.Instant) Context {
	c := Context{
		sys:   s,
		task:  t,
		prio:  p,
		Spawn: &Spawner{sys: s, prio: p, baseline: baseline, from: t.Name},
	}
	if s.tq != nil && (t.Schedules || t.Kind == KindInit) {
		c.Schedule = &Scheduler{sys: s, prio: p, from: t.Name}
	}
	return c
}

func (s *System) initContext(p *Priority) *InitContext {
	return &InitContext{
		Context: s.newContext(s.init, p, 0),
		Start:   0,
		Core:    s.hw,
		Device:  s.device,
		CS:      CriticalSection{prio: p},
	}
}

func (s *System) idleContext(p *Priority) *IdleContext {
	return &IdleContext{Context: s.newContext(s.idle, p, s.hw.Now())}
}

func (s *System) hardwareContext(t *Task, p *Priority, start hw.Instant) *HardwareContext {
	return &HardwareContext{Context: s.newContext(t, p, start), Start: start}
}

func (s *System) softwareContext(t *Task, p *Priority, e entry) *SoftwareContext {
	return &SoftwareContext{
		Context:   s.newContext(t, p, e.at),
		Scheduled: e.at,
		Payload:   e.payload,
	}
}
