package sched

import (
	"fmt"

	"ceilq/internal/hw"
)

// ResourceID indexes the static resource table.
type ResourceID uint16

// ResourceDecl is one row of the static resource table.
type ResourceDecl struct {
	Name string `yaml:"name"`
	// TaskLocal resources belong to exactly one task and are never locked.
	TaskLocal bool `yaml:"task_local"`
	// Late resources get their value from init instead of a static initialiser.
	Late bool `yaml:"late"`
	// Ceiling overrides the computed ceiling. It may only raise it.
	Ceiling hw.Level `yaml:"ceiling"`
}

type resource struct {
	decl      ResourceDecl
	id        ResourceID
	ceiling   hw.Level
	owner     TaskID
	accessors []TaskID
	ready     bool
}

// Resource is a typed handle on a declared resource. The value lives in the
// handle; tasks reach it through Lock or Local with their context.
type Resource[T any] struct {
	meta  *resource
	value T
}

// Declare adds a resource to the builder's table.
func Declare[T any](b *Builder, decl ResourceDecl, init T) *Resource[T] {
	r := &Resource[T]{meta: b.addResource(decl), value: init}
	r.meta.ready = !decl.Late
	return r
}

// Shared declares a resource guarded by the ceiling protocol.
func Shared[T any](b *Builder, name string, init T) *Resource[T] {
	return Declare(b, ResourceDecl{Name: name}, init)
}

// Late declares a shared resource that init must initialise.
func Late[T any](b *Builder, name string) *Resource[T] {
	var zero T
	return Declare(b, ResourceDecl{Name: name, Late: true}, zero)
}

// TaskLocal declares a resource owned by a single task.
func TaskLocal[T any](b *Builder, name string, init T) *Resource[T] {
	return Declare(b, ResourceDecl{Name: name, TaskLocal: true}, init)
}

func (r *Resource[T]) Name() string { return r.meta.decl.Name }

// Ceiling is the highest priority among the tasks that access r. It is only
// meaningful once the system is built.
func (r *Resource[T]) Ceiling() hw.Level { return r.meta.ceiling }

// Unset reports whether r is a late resource still waiting for init.
func (r *Resource[T]) Unset() bool { return r.meta.decl.Late && !r.meta.ready }

// Lock runs fn with exclusive access to the value. For a shared resource the
// running priority is raised to the ceiling for the duration of fn and then
// restored to exactly what it was; a task-local resource is handed over
// directly.
func (r *Resource[T]) Lock(cx Executor, fn func(v *T)) {
	c := cx.context()
	c.sys.grant(c, r.meta)
	if r.meta.decl.TaskLocal {
		fn(&r.value)
		return
	}
	c.sys.metrics.RecordLock(r.meta.decl.Name, r.meta.ceiling)
	c.sys.lock(c.prio, r.meta.ceiling, func() { fn(&r.value) })
}

// Local returns the value of a task-local resource. Only the owning task may
// call it.
func (r *Resource[T]) Local(cx Executor) *T {
	c := cx.context()
	c.sys.grant(c, r.meta)
	if !r.meta.decl.TaskLocal {
		panic(fmt.Errorf("%w: %s is shared, use Lock", ErrNotGranted, r.meta.decl.Name))
	}
	return &r.value
}

// Set publishes the initial value of a late resource. It is only valid inside
// init and only once per resource.
func (r *Resource[T]) Set(cx *InitContext, v T) {
	cx.prio.check()
	switch {
	case !r.meta.decl.Late:
		panic(fmt.Errorf("%w: %s", ErrNotLateResource, r.meta.decl.Name))
	case r.meta.ready:
		panic(fmt.Errorf("%w: %s", ErrLateAssigned, r.meta.decl.Name))
	}
	r.value = v
	r.meta.ready = true
}

// grant panics unless the invocation behind c may touch res.
func (s *System) grant(c *Context, res *resource) {
	c.prio.check()
	if !c.task.access[res.id] {
		panic(fmt.Errorf("%w: %s by %s", ErrNotGranted, res.decl.Name, c.task.Name))
	}
	if !res.ready {
		panic(fmt.Errorf("%w: %s", ErrLateResourceMissing, res.decl.Name))
	}
}
