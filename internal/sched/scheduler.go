// internal/sched/scheduler.go

package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ceilq/internal/hw"
)

// State is the init state machine of a System.
type State int

const (
	StateNotStarted State = iota
	StateRunning          // init executing, every interrupt masked
	StateDone             // late resources published, interrupts live
)

func (st State) String() string {
	switch st {
	case StateNotStarted:
		return "NotStarted"
	case StateRunning:
		return "Running"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// dispatcher drains the ready queue of one software priority level. It runs
// as the handler of its own interrupt line at exactly that level.
type dispatcher struct {
	level hw.Level
	irq   hw.IRQ
	queue *Ring[entry]
}

// System is a built, immutable task graph bound to a platform. There is no
// run loop: the interrupt controller decides what runs, and the System only
// supplies the handlers.
type System struct {
	id        uuid.UUID
	hw        hw.Platform
	tasks     []*Task
	byName    map[string]TaskID
	init      *Task
	idle      *Task
	resources []*resource
	levels    map[hw.Level]*dispatcher

	tq         *timerQueue // nil when nothing is schedulable
	timerLevel hw.Level
	tqCeiling  hw.Level

	state  State
	ran    bool
	stack  []*Task // invocations in progress, innermost last
	device any

	logger   *slog.Logger
	metrics  Metrics
	observer func(StatusEvent)
}

// ID identifies this System instance in logs and events.
func (s *System) ID() uuid.UUID { return s.id }

func (s *System) State() State { return s.state }

// Now reads the platform clock.
func (s *System) Now() hw.Instant { return s.hw.Now() }

// Lookup finds a task by name.
func (s *System) Lookup(name string) (TaskID, bool) {
	id, ok := s.byName[name]
	return id, ok
}

// Tasks returns the task table.
func (s *System) Tasks() []*Task { return s.tasks }

// Dispatcher returns the interrupt line serving a software priority level.
func (s *System) Dispatcher(level hw.Level) (hw.IRQ, bool) {
	d, ok := s.levels[level]
	if !ok {
		return "", false
	}
	return d.irq, true
}

// TimerLevel is the priority of the timer handler, 0 if there is none.
func (s *System) TimerLevel() hw.Level { return s.timerLevel }

// TimerCeiling is the ceiling guarding the timer queue.
func (s *System) TimerCeiling() hw.Level { return s.tqCeiling }

// Ceiling returns the computed ceiling of a resource by name.
func (s *System) Ceiling(name string) (hw.Level, bool) {
	for _, r := range s.resources {
		if r.decl.Name == name {
			return r.ceiling, true
		}
	}
	return 0, false
}

// Start runs init with every interrupt masked, checks that each late resource
// got a value and then unmasks, which lets anything init spawned or a device
// pended run. It succeeds at most once.
func (s *System) Start() error {
	if s.state != StateNotStarted {
		return ErrAlreadyStarted
	}
	s.state = StateRunning

	top := s.hw.MaxLevel()
	prev := s.hw.Mask(top)
	p := &Priority{base: 0, current: top, live: true}
	cx := s.initContext(p)
	body := s.init.body.(InitFunc)

	var err error
	s.invoke(s.init, p, func() { err = body(cx) })
	if err != nil {
		s.logger.Error("init failed", "system", s.id, "err", err)
		return fmt.Errorf("init %s: %w", s.init.Name, err)
	}

	var missing []error
	for _, r := range s.resources {
		if !r.ready {
			missing = append(missing, fmt.Errorf("%w: %s", ErrLateResourceMissing, r.decl.Name))
		}
	}
	if len(missing) > 0 {
		return errors.Join(missing...)
	}

	s.state = StateDone
	s.emit(StatusEvent{Kind: StatusInit, TaskID: s.init.ID, Task: s.init.Name})
	s.logger.Info("init done, unmasking interrupts", "system", s.id)
	s.hw.UnmaskTo(prev)
	return nil
}

// Run starts the system if needed, runs idle once and then sleeps in thread
// mode, servicing interrupts until ctx ends.
func (s *System) Run(ctx context.Context) error {
	if s.state == StateNotStarted {
		if err := s.Start(); err != nil {
			return err
		}
	}
	if s.state != StateDone || s.ran {
		return fmt.Errorf("%w: state %s", ErrAlreadyStarted, s.state)
	}
	s.ran = true

	if s.idle != nil {
		p := newPriority(0)
		cx := s.idleContext(p)
		body := s.idle.body.(IdleFunc)
		s.emit(StatusEvent{Kind: StatusIdle, TaskID: s.idle.ID, Task: s.idle.Name})
		s.invoke(s.idle, p, func() { body(cx) })
	}

	for {
		if err := s.hw.WaitForInterrupt(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *System) softwareTask(id TaskID) (*Task, error) {
	if int(id) >= len(s.tasks) || s.tasks[id].Kind != KindSoftware {
		return nil, fmt.Errorf("%w: #%d", ErrNotSpawnable, id)
	}
	return s.tasks[id], nil
}

func (s *System) spawn(t *Task, e entry, from string) error {
	if !t.reserve() {
		return s.reject(t, e, ErrReadyQueueFull, from)
	}
	s.emit(StatusEvent{Kind: StatusEnqueue, TaskID: t.ID, Task: t.Name, Level: t.Priority})
	s.logger.Debug("spawn", "task", t.Name, "from", from)
	s.enqueue(t, e)
	return nil
}

// enqueue pushes a reserved entry and pends the level's dispatcher. The push
// cannot fail: each ring holds the sum of its tasks' capacities.
func (s *System) enqueue(t *Task, e entry) {
	d := s.levels[t.Priority]
	if !d.queue.TryPush(e) {
		panic(fmt.Sprintf("sched: ready queue of level %d overflowed", d.level))
	}
	s.hw.Pend(d.irq)
}

func (s *System) reject(t *Task, e entry, cause error, from string) error {
	queue := "ready"
	if errors.Is(cause, ErrTimerQueueFull) {
		queue = "timer"
	}
	s.metrics.RecordRejected(t.Name, queue)
	s.logger.Warn("invocation rejected", "task", t.Name, "from", from, "queue", queue, "pending", t.Pending())
	s.emit(StatusEvent{Kind: StatusReject, TaskID: t.ID, Task: t.Name, Level: t.Priority})
	return &CapacityError{
		Task:     t.Name,
		Payload:  e.payload,
		Err:      cause,
		Pending:  t.Pending(),
		Capacity: t.Capacity,
	}
}

func (s *System) schedule(p *Priority, t *Task, e entry, from string) error {
	if !t.reserve() {
		return s.reject(t, e, ErrTimerQueueFull, from)
	}
	var ok bool
	s.lock(p, s.tqCeiling, func() {
		var head bool
		head, ok = s.tq.push(e)
		if !ok {
			return
		}
		s.emit(StatusEvent{Kind: StatusSchedule, TaskID: t.ID, Task: t.Name, Level: t.Priority})
		if head {
			s.hw.Arm(e.at)
		}
	})
	if !ok {
		t.release()
		return s.reject(t, e, ErrTimerQueueFull, from)
	}
	s.logger.Debug("schedule", "task", t.Name, "from", from, "at", e.at)
	return nil
}

// onTimer moves every due entry from the timer queue to its ready queue in
// instant order and re-arms the timer for the next one.
func (s *System) onTimer() {
	p := newPriority(s.timerLevel)
	defer p.retire()

	for {
		var (
			e   entry
			due bool
		)
		s.lock(p, s.tqCeiling, func() {
			head, ok := s.tq.peek()
			switch {
			case !ok:
				s.hw.Disarm()
			case s.hw.Now().Before(head.at):
				s.hw.Arm(head.at)
			default:
				s.tq.pop()
				e, due = head, true
			}
		})
		if !due {
			return
		}
		t := s.tasks[e.task]
		s.metrics.RecordTimerExpired(t.Name)
		s.emit(StatusEvent{Kind: StatusTimer, TaskID: t.ID, Task: t.Name, Level: t.Priority})
		s.enqueue(t, e)
	}
}

func (s *System) dispatch(d *dispatcher) {
	for {
		e, ok := d.queue.TryPop()
		if !ok {
			return
		}
		t := s.tasks[e.task]
		t.release()

		p := newPriority(t.Priority)
		cx := s.softwareContext(t, p, e)
		body := t.body.(SoftwareFunc)
		s.invoke(t, p, func() { body(cx) })
	}
}

func (s *System) runHardware(t *Task) {
	p := newPriority(t.Priority)
	cx := s.hardwareContext(t, p, s.hw.Now())
	body := t.body.(HardwareFunc)
	s.invoke(t, p, func() { body(cx) })
}

// invoke runs one task body and retires its priority token afterwards.
func (s *System) invoke(t *Task, p *Priority, body func()) {
	if n := len(s.stack); n > 0 {
		prev := s.stack[n-1]
		s.emit(StatusEvent{Kind: StatusPreempt, TaskID: prev.ID, Task: prev.Name, Level: prev.Priority})
	}
	s.stack = append(s.stack, t)
	s.emit(StatusEvent{Kind: StatusDispatch, TaskID: t.ID, Task: t.Name, Level: t.Priority})
	s.logger.Debug("dispatch", "task", t.Name, "level", t.Priority)

	begin := time.Now()
	defer func() {
		p.retire()
		s.stack = s.stack[:len(s.stack)-1]
		s.metrics.RecordDispatch(t.Name, t.Priority, time.Since(begin))
		s.emit(StatusEvent{Kind: StatusFinish, TaskID: t.ID, Task: t.Name, Level: t.Priority})
	}()
	body()
}

func (s *System) emit(ev StatusEvent) {
	if s.observer == nil {
		return
	}
	ev.Time = time.Now()
	ev.Instant = s.hw.Now()
	ev.System = s.id
	s.observer(ev)
}
