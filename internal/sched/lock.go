package sched

import "ceilq/internal/hw"

// Priority witnesses the level an invocation runs at. Only the runtime makes
// one, and it dies when the invocation returns; every capability derived
// from it checks that it is still live.
type Priority struct {
	base    hw.Level
	current hw.Level
	live    bool
}

func newPriority(level hw.Level) *Priority {
	return &Priority{base: level, current: level, live: true}
}

// Level is the task's static priority.
func (p *Priority) Level() hw.Level { return p.base }

// Current is the running priority, raised while a lock is held.
func (p *Priority) Current() hw.Level { return p.current }

func (p *Priority) check() {
	if p == nil || !p.live {
		panic(ErrStaleContext)
	}
}

func (p *Priority) retire() { p.live = false }

// lock runs fn at max(current, ceiling). The controller mask is raised only
// when the ceiling is above the running priority and is put back to the value
// it had before, even if fn panics, so nested locks unwind in order.
func (s *System) lock(p *Priority, ceiling hw.Level, fn func()) {
	p.check()
	if p.current >= ceiling {
		fn()
		return
	}

	saved := p.current
	prev := s.hw.Mask(ceiling)
	p.current = ceiling
	defer func() {
		p.current = saved
		s.hw.UnmaskTo(prev)
	}()
	fn()
}
