package sched

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"ceilq/internal/hw"
)

// Declaration is the static task graph in the form a code generator or a
// YAML file supplies it.
type Declaration struct {
	// Dispatchers are free interrupt lines for software priority levels,
	// handed out highest level first. Empty means auto-named lines.
	Dispatchers []hw.IRQ       `yaml:"dispatchers"`
	Resources   []ResourceDecl `yaml:"resources"`
	Tasks       []TaskDecl     `yaml:"tasks"`
}

// Options carries the runtime collaborators of a System.
type Options struct {
	Logger   *slog.Logger
	Metrics  Metrics
	Observer func(StatusEvent)
	// Device is handed to init as its peripheral bundle.
	Device any
	// DefaultCapacity applies to software tasks declared with capacity 0.
	DefaultCapacity int
}

// Builder collects resources and task bodies, then validates the whole graph
// in Build. Nothing is checked before Build.
type Builder struct {
	dispatchers []hw.IRQ
	resources   []*resource
	tasks       []TaskDecl
	bodies      []any
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) addResource(decl ResourceDecl) *resource {
	r := &resource{decl: decl, id: ResourceID(len(b.resources))}
	b.resources = append(b.resources, r)
	return r
}

// Dispatchers appends free interrupt lines for software task dispatch.
func (b *Builder) Dispatchers(irqs ...hw.IRQ) {
	b.dispatchers = append(b.dispatchers, irqs...)
}

func (b *Builder) add(decl TaskDecl, kind TaskKind, body any) TaskID {
	decl.Kind = kind
	b.tasks = append(b.tasks, decl)
	b.bodies = append(b.bodies, body)
	return TaskID(len(b.tasks) - 1)
}

func (b *Builder) Init(decl TaskDecl, fn InitFunc) TaskID { return b.add(decl, KindInit, fn) }

func (b *Builder) Idle(decl TaskDecl, fn IdleFunc) TaskID { return b.add(decl, KindIdle, fn) }

func (b *Builder) Hardware(decl TaskDecl, fn HardwareFunc) TaskID {
	return b.add(decl, KindHardware, fn)
}

func (b *Builder) Software(decl TaskDecl, fn SoftwareFunc) TaskID {
	return b.add(decl, KindSoftware, fn)
}

// Build validates the declaration against p and, if it is sound, binds every
// dispatcher, hardware task and the timer to p. A declaration with any static
// error yields no System; all errors are reported together.
func (b *Builder) Build(p hw.Platform, opts Options) (*System, error) {
	pl, err := b.compile(p.MaxLevel(), opts.DefaultCapacity, p.TimerIRQ())
	if err != nil {
		return nil, err
	}

	s := &System{
		id:        uuid.New(),
		hw:        p,
		tasks:     pl.tasks,
		byName:    make(map[string]TaskID, len(pl.tasks)),
		levels:    make(map[hw.Level]*dispatcher, len(pl.levels)),
		resources: b.resources,
		device:    opts.Device,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		observer:  opts.Observer,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.metrics == nil {
		s.metrics = &NilMetrics{}
	}

	for _, t := range pl.tasks {
		s.byName[t.Name] = t.ID
		switch t.Kind {
		case KindInit:
			s.init = t
		case KindIdle:
			s.idle = t
		}
	}

	for _, level := range pl.levels {
		d := &dispatcher{level: level, irq: pl.dispatch[level]}
		capacity := 0
		for _, t := range pl.tasks {
			if t.Kind == KindSoftware && t.Priority == level {
				capacity += t.Capacity
			}
		}
		d.queue = NewRing[entry](capacity)
		s.levels[level] = d
		p.Bind(d.irq, level, func() { s.dispatch(d) })
	}

	for _, t := range pl.tasks {
		if t.Kind == KindHardware {
			p.Bind(t.Binds, t.Priority, func() { s.runHardware(t) })
		}
	}

	if pl.timerLevel > 0 {
		s.tq = newTimerQueue(pl.tqCapacity)
		s.timerLevel = pl.timerLevel
		s.tqCeiling = pl.tqCeiling
		p.Bind(p.TimerIRQ(), pl.timerLevel, s.onTimer)
	}

	s.logger.Info("system built",
		"system", s.id,
		"tasks", len(pl.tasks),
		"resources", len(b.resources),
		"dispatchers", len(pl.levels),
		"timer_level", pl.timerLevel)
	return s, nil
}

type plan struct {
	tasks      []*Task
	levels     []hw.Level // software priorities, highest first
	dispatch   map[hw.Level]hw.IRQ
	timerLevel hw.Level // 0 when nothing is schedulable
	tqCeiling  hw.Level
	tqCapacity int
}

func hasBody(body any) bool {
	switch f := body.(type) {
	case InitFunc:
		return f != nil
	case IdleFunc:
		return f != nil
	case HardwareFunc:
		return f != nil
	case SoftwareFunc:
		return f != nil
	}
	return false
}

// compile checks the declaration and derives ceilings, owners, dispatcher
// lines and the timer configuration.
func (b *Builder) compile(top hw.Level, defaultCap int, timer hw.IRQ) (*plan, error) {
	var errs []error
	fail := func(base error, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", base, fmt.Sprintf(format, args...)))
	}
	if defaultCap <= 0 {
		defaultCap = 1
	}

	byName := make(map[string]*resource, len(b.resources))
	for _, r := range b.resources {
		r.accessors, r.ceiling = nil, 0
		switch {
		case r.decl.Name == "":
			fail(ErrConfig, "resource #%d has no name", r.id)
		case byName[r.decl.Name] != nil:
			fail(ErrDuplicateResource, "%s", r.decl.Name)
		default:
			byName[r.decl.Name] = r
		}
	}

	pl := &plan{dispatch: make(map[hw.Level]hw.IRQ)}
	names := make(map[string]bool, len(b.tasks))
	lines := make(map[hw.IRQ]string)
	var inits, idles int

	for i, d := range b.tasks {
		t := &Task{
			ID:          TaskID(i),
			Name:        d.Name,
			Kind:        d.Kind,
			Priority:    d.Priority,
			Binds:       d.Binds,
			Capacity:    d.Capacity,
			Schedulable: d.Schedulable,
			Schedules:   d.Schedules,
			access:      make(map[ResourceID]bool, len(d.Resources)),
			body:        b.bodies[i],
		}
		pl.tasks = append(pl.tasks, t)

		if d.Name == "" {
			fail(ErrConfig, "task #%d has no name", i)
		} else if names[d.Name] {
			fail(ErrDuplicateTask, "%s", d.Name)
		}
		names[d.Name] = true
		if !hasBody(t.body) {
			fail(ErrMissingBody, "%s", d.Name)
		}

		switch d.Kind {
		case KindInit, KindIdle:
			if d.Kind == KindInit {
				inits++
			} else {
				idles++
			}
			if d.Priority != 0 {
				fail(ErrPriorityRange, "%s %s runs at priority 0, declared %d", d.Kind, d.Name, d.Priority)
			}
			if d.Binds != "" {
				fail(ErrIRQConflict, "%s %s cannot bind %s", d.Kind, d.Name, d.Binds)
			}
			t.Schedulable = false
		case KindHardware, KindSoftware:
			if d.Priority == 0 || d.Priority > top {
				fail(ErrPriorityRange, "%s: %d not in 1..%d", d.Name, d.Priority, top)
			}
		}

		switch d.Kind {
		case KindHardware:
			switch {
			case d.Binds == "":
				fail(ErrIRQConflict, "hardware task %s binds no interrupt", d.Name)
			case lines[d.Binds] != "":
				fail(ErrIRQConflict, "%s bound by %s and %s", d.Binds, lines[d.Binds], d.Name)
			default:
				lines[d.Binds] = d.Name
			}
			t.Schedulable = false
		case KindSoftware:
			if d.Binds != "" {
				fail(ErrIRQConflict, "software task %s cannot bind %s", d.Name, d.Binds)
			}
			switch {
			case d.Capacity < 0:
				fail(ErrCapacityRange, "%s: %d", d.Name, d.Capacity)
			case d.Capacity == 0:
				t.Capacity = defaultCap
			}
		}

		for _, name := range d.Resources {
			r, ok := byName[name]
			if !ok {
				fail(ErrUnknownResource, "%s used by %s", name, d.Name)
				continue
			}
			if t.access[r.id] {
				if r.decl.TaskLocal {
					fail(ErrTaskLocalShared, "%s listed twice by %s", name, d.Name)
				} else {
					fail(ErrDuplicateAccess, "%s listed twice by %s", name, d.Name)
				}
				continue
			}
			t.access[r.id] = true
			r.accessors = append(r.accessors, t.ID)
		}
	}

	if inits != 1 {
		fail(ErrInitCount, "found %d", inits)
	}
	if idles > 1 {
		fail(ErrIdleCount, "found %d", idles)
	}

	for _, r := range b.resources {
		var ceiling hw.Level
		for _, id := range r.accessors {
			ceiling = max(ceiling, pl.tasks[id].Priority)
		}
		if r.decl.TaskLocal {
			switch len(r.accessors) {
			case 0:
				fail(ErrTaskLocalUnowned, "%s", r.decl.Name)
			case 1:
				r.owner = r.accessors[0]
			default:
				owners := make([]string, len(r.accessors))
				for i, id := range r.accessors {
					owners[i] = pl.tasks[id].Name
				}
				fail(ErrTaskLocalShared, "%s claimed by %s", r.decl.Name, strings.Join(owners, ", "))
			}
		}
		if c := r.decl.Ceiling; c != 0 {
			switch {
			case c < ceiling:
				fail(ErrCeilingBelowAccessor, "%s: ceiling %d, accessor at %d", r.decl.Name, c, ceiling)
			case c > top:
				fail(ErrPriorityRange, "%s: ceiling %d not in 1..%d", r.decl.Name, c, top)
			default:
				ceiling = c
			}
		}
		r.ceiling = ceiling
	}

	for _, t := range pl.tasks {
		if t.Kind != KindSoftware {
			continue
		}
		if !slices.Contains(pl.levels, t.Priority) {
			pl.levels = append(pl.levels, t.Priority)
		}
		if t.Schedulable {
			pl.timerLevel = max(pl.timerLevel, t.Priority)
			pl.tqCapacity += t.Capacity
		}
	}
	slices.SortFunc(pl.levels, func(a, b hw.Level) int { return int(b) - int(a) })

	if pl.timerLevel > 0 {
		if user := lines[timer]; user != "" {
			fail(ErrIRQConflict, "timer line %s bound by %s", timer, user)
		}
		lines[timer] = "timer"
		pl.tqCeiling = pl.timerLevel
		for _, t := range pl.tasks {
			if t.Schedules {
				pl.tqCeiling = max(pl.tqCeiling, t.Priority)
			}
		}
	}

	if n := len(b.dispatchers); n > 0 && n < len(pl.levels) {
		fail(ErrNoDispatcher, "%d software priorities, %d dispatchers", len(pl.levels), n)
	}
	for i, level := range pl.levels {
		irq := hw.IRQ(fmt.Sprintf("DISPATCH%d", level))
		if i < len(b.dispatchers) {
			irq = b.dispatchers[i]
		}
		if user := lines[irq]; user != "" {
			fail(ErrIRQConflict, "dispatcher line %s bound by %s", irq, user)
			continue
		}
		lines[irq] = "dispatcher"
		pl.dispatch[level] = irq
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return pl, nil
}
