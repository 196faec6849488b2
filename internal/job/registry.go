// Package job turns a YAML declaration into a runnable system by resolving
// each task's body name to one of a small set of demo bodies. Every resource
// is an int64 counter.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"ceilq/internal/hw"
	"ceilq/internal/sched"
)

var (
	ErrUnknownBody = errors.New("job: unknown task body")
	ErrBodyArgs    = errors.New("job: bad task body arguments")
)

// LateValue is what the init body stores in every late resource.
const LateValue int64 = 42

// Body names and the kinds they fit. An empty body name picks the first
// entry for the kind.
//
//	init            set every late resource, then spawn the listed tasks
//	idle            read the task's resources once and report them
//	count           increment every resource in the access set
//	spawn T...      count, then spawn each listed task
//	periodic N      count, then schedule itself N ticks after its own instant
//	work MS         hold the core for MS milliseconds, then count
var bodies = map[sched.TaskKind][]string{
	sched.KindInit:     {"init"},
	sched.KindIdle:     {"idle"},
	sched.KindHardware: {"count", "spawn", "work"},
	sched.KindSoftware: {"count", "spawn", "periodic", "work"},
}

// App is the bound declaration: resource handles plus what the bodies
// observed while running.
type App struct {
	Resources map[string]*sched.Resource[int64]

	runs   map[string]int64
	report map[string]int64
}

// Runs is how many times the named task body has completed.
func (a *App) Runs(task string) int64 { return a.runs[task] }

// Reported is the value idle read from a resource, if it read it.
func (a *App) Reported(resource string) (int64, bool) {
	v, ok := a.report[resource]
	return v, ok
}

type worker struct {
	app     *App
	log     *slog.Logger
	ctx     context.Context
	name    string
	self    sched.TaskID
	res     []*sched.Resource[int64]
	spawns  []string // target names, resolved once every task is declared
	targets []sched.TaskID
	period  uint64
	work    int64
}

// Bind declares decl's dispatchers, resources and tasks on b. Spawn targets
// are resolved to the IDs b hands out. ctx bounds the "work" bodies.
func Bind(ctx context.Context, b *sched.Builder, decl sched.Declaration, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	app := &App{
		Resources: make(map[string]*sched.Resource[int64], len(decl.Resources)),
		runs:      make(map[string]int64),
		report:    make(map[string]int64),
	}

	b.Dispatchers(decl.Dispatchers...)
	for _, rd := range decl.Resources {
		app.Resources[rd.Name] = sched.Declare(b, rd, int64(0))
	}

	var errs []error
	ids := make(map[string]sched.TaskID, len(decl.Tasks))
	workers := make([]*worker, 0, len(decl.Tasks))
	for _, td := range decl.Tasks {
		w := &worker{app: app, log: logger.With("task", td.Name), ctx: ctx, name: td.Name}
		for _, rn := range td.Resources {
			// unknown names are reported by Build
			if r, ok := app.Resources[rn]; ok {
				w.res = append(w.res, r)
			}
		}
		name, err := w.parse(&td)
		if err != nil {
			errs = append(errs, err)
		}
		w.self = w.add(b, td, name)
		ids[td.Name] = w.self
		workers = append(workers, w)
	}

	for _, w := range workers {
		for _, target := range w.spawns {
			id, ok := ids[target]
			if !ok {
				errs = append(errs, fmt.Errorf("%w: %s spawns unknown task %q", ErrBodyArgs, w.name, target))
				continue
			}
			w.targets = append(w.targets, id)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return app, nil
}

// parse resolves td's body name and arguments. A periodic body marks td as
// a task that schedules.
func (w *worker) parse(td *sched.TaskDecl) (string, error) {
	fields := strings.Fields(td.Body)
	allowed := bodies[td.Kind]
	if len(fields) == 0 {
		if len(allowed) == 0 {
			return "", fmt.Errorf("%w: %s has kind %s", ErrUnknownBody, td.Name, td.Kind)
		}
		return allowed[0], nil
	}
	name, args := fields[0], fields[1:]
	known := false
	for _, a := range allowed {
		known = known || a == name
	}
	if !known {
		return "", fmt.Errorf("%w: %q for %s task %s", ErrUnknownBody, name, td.Kind, td.Name)
	}

	switch name {
	case "init", "spawn":
		w.spawns = args
	case "periodic", "work":
		if len(args) != 1 {
			return name, fmt.Errorf("%w: %s %s wants one number", ErrBodyArgs, td.Name, name)
		}
		n, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil || n == 0 {
			return name, fmt.Errorf("%w: %s %s %q", ErrBodyArgs, td.Name, name, args[0])
		}
		if name == "periodic" {
			if !td.Schedulable {
				return name, fmt.Errorf("%w: periodic task %s must be schedulable", ErrBodyArgs, td.Name)
			}
			w.period = n
			td.Schedules = true
		} else {
			w.work = int64(n)
		}
	default:
		if len(args) > 0 {
			return name, fmt.Errorf("%w: %s %s takes none", ErrBodyArgs, td.Name, name)
		}
	}
	return name, nil
}

// add registers the task with the body for name. A body that failed to parse
// is still registered so Build can report the declaration's own errors.
func (w *worker) add(b *sched.Builder, td sched.TaskDecl, name string) sched.TaskID {
	switch td.Kind {
	case sched.KindInit:
		return b.Init(td, w.init)
	case sched.KindIdle:
		return b.Idle(td, w.idle)
	case sched.KindHardware:
		return b.Hardware(td, func(cx *sched.HardwareContext) { w.step(&cx.Context, name, cx.Start) })
	default:
		return b.Software(td, func(cx *sched.SoftwareContext) { w.step(&cx.Context, name, cx.Scheduled) })
	}
}

func (w *worker) init(cx *sched.InitContext) error {
	for _, r := range w.app.Resources {
		if r.Unset() {
			r.Set(cx, LateValue)
		}
	}
	w.spawn(&cx.Context)
	w.app.runs[w.name]++
	return nil
}

func (w *worker) idle(cx *sched.IdleContext) {
	for _, r := range w.res {
		r.Lock(cx, func(v *int64) {
			w.app.report[r.Name()] = *v
			w.log.Info("idle read", "resource", r.Name(), "value", *v)
		})
	}
	w.app.runs[w.name]++
}

func (w *worker) step(cx *sched.Context, name string, baseline hw.Instant) {
	switch name {
	case "work":
		if left, err := Sleep(w.work)(w.ctx); err != nil {
			w.log.Warn("work cut short", "left", left, "err", err)
		}
	case "spawn":
		w.spawn(cx)
	case "periodic":
		if err := cx.Schedule.Task(w.self, baseline.Add(w.period), nil); err != nil {
			w.log.Warn("reschedule failed", "err", err)
		}
	}
	w.count(cx)
	w.app.runs[w.name]++
}

func (w *worker) count(cx sched.Executor) {
	for _, r := range w.res {
		r.Lock(cx, func(v *int64) { *v++ })
	}
}

func (w *worker) spawn(cx *sched.Context) {
	for _, id := range w.targets {
		if err := cx.Spawn.Task(id, w.app.runs[w.name]); err != nil {
			w.log.Warn("spawn failed", "target", id, "err", err)
		}
	}
}
