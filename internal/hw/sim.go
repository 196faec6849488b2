package hw

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// DefaultTimerIRQ is the line a Sim pends when its armed instant is reached.
const DefaultTimerIRQ IRQ = "SysTick"

const externalSlots = 64

type line struct {
	irq     IRQ
	level   Level
	handler func()
	pending bool
}

// Sim is a single-core interrupt controller and monotonic timer.
//
// Handlers run nested on the stack of whoever made them runnable, which is
// how a preempting interrupt looks to the code it interrupts. A pending line
// fires only when its level is strictly above both the mask and the level of
// the handler currently executing; equal levels never preempt each other and
// ties between pending lines go to the one bound first.
//
// Everything except Raise, Now and the TickClock must be called from the
// goroutine that owns the core.
type Sim struct {
	max     Level
	basepri Level
	running []Level
	lines   map[IRQ]*line
	order   []*line

	now      atomic.Uint64
	armed    bool
	deadline Instant
	timer    IRQ

	external chan IRQ
	clock    *TickClock
	ticks    chan struct{}
}

// NewSim returns a controller supporting priorities 1..top.
func NewSim(top Level) *Sim {
	if top == 0 {
		top = 1
	}
	return &Sim{
		max:      top,
		lines:    make(map[IRQ]*line),
		timer:    DefaultTimerIRQ,
		external: make(chan IRQ, externalSlots),
	}
}

func (s *Sim) MaxLevel() Level { return s.max }

func (s *Sim) Bind(irq IRQ, level Level, handler func()) {
	if level == 0 || level > s.max {
		panic(fmt.Sprintf("hw: level %d out of range 1..%d for %s", level, s.max, irq))
	}
	if _, dup := s.lines[irq]; dup {
		panic(fmt.Sprintf("hw: %s bound twice", irq))
	}
	l := &line{irq: irq, level: level, handler: handler}
	s.lines[irq] = l
	s.order = append(s.order, l)
}

func (s *Sim) Mask(level Level) Level {
	prev := s.basepri
	if level > s.basepri {
		s.basepri = level
	}
	return prev
}

func (s *Sim) UnmaskTo(prev Level) {
	s.basepri = prev
	s.service()
}

func (s *Sim) Pend(irq IRQ) {
	l, ok := s.lines[irq]
	if !ok {
		panic(fmt.Sprintf("hw: pend of unbound line %s", irq))
	}
	l.pending = true
	s.service()
}

// Raise pends irq from any goroutine. It takes effect the next time the core
// waits for an interrupt. Raise never blocks: when the core has stopped
// draining and the queue is full, the request is dropped and Raise reports
// false.
func (s *Sim) Raise(irq IRQ) bool {
	select {
	case s.external <- irq:
		return true
	default:
		return false
	}
}

// Basepri is the current mask threshold.
func (s *Sim) Basepri() Level { return s.basepri }

// Running is the level of the innermost executing handler, 0 in thread mode.
func (s *Sim) Running() Level {
	if len(s.running) == 0 {
		return 0
	}
	return s.running[len(s.running)-1]
}

// Pending reports whether irq is waiting to fire.
func (s *Sim) Pending(irq IRQ) bool {
	l, ok := s.lines[irq]
	return ok && l.pending
}

func (s *Sim) threshold() Level {
	t := s.basepri
	if r := s.Running(); r > t {
		t = r
	}
	return t
}

func (s *Sim) next() *line {
	var best *line
	t := s.threshold()
	for _, l := range s.order {
		if !l.pending || l.level <= t {
			continue
		}
		if best == nil || l.level > best.level {
			best = l
		}
	}
	return best
}

func (s *Sim) service() {
	for {
		l := s.next()
		if l == nil {
			return
		}
		l.pending = false
		s.enter(l)
	}
}

func (s *Sim) enter(l *line) {
	s.running = append(s.running, l.level)
	defer func() { s.running = s.running[:len(s.running)-1] }()
	l.handler()
}

// Clock

func (s *Sim) Now() Instant { return Instant(s.now.Load()) }

func (s *Sim) TimerIRQ() IRQ { return s.timer }

// SetTimerIRQ renames the timer line. Call it before anything is bound.
func (s *Sim) SetTimerIRQ(irq IRQ) { s.timer = irq }

func (s *Sim) Arm(at Instant) {
	if s.Now().Before(at) {
		s.armed = true
		s.deadline = at
		return
	}
	s.armed = false
	s.Pend(s.timer)
}

func (s *Sim) Disarm() { s.armed = false }

// Deadline returns the armed instant, if any.
func (s *Sim) Deadline() (Instant, bool) { return s.deadline, s.armed }

// Advance moves the clock forward n ticks, firing the timer line at the
// exact tick its deadline is reached.
func (s *Sim) Advance(n uint64) {
	for i := uint64(0); i < n; i++ {
		now := Instant(s.now.Add(1))
		if s.armed && !now.Before(s.deadline) {
			s.armed = false
			s.Pend(s.timer)
		}
	}
}

// StartClock drives the timer from a real-time TickClock, one tick per
// interval, serviced in WaitForInterrupt.
func (s *Sim) StartClock(interval time.Duration) {
	if s.clock != nil {
		return
	}
	s.clock = NewTickClock(256)
	s.ticks = s.clock.Ch
	s.clock.Start(interval)
}

// StopClock halts a clock started with StartClock.
func (s *Sim) StopClock() {
	if s.clock == nil {
		return
	}
	s.clock.Stop()
	s.clock = nil
}

// WaitForInterrupt blocks thread mode until one external event (a raised line
// or a clock tick) has been serviced, or ctx is done.
func (s *Sim) WaitForInterrupt(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case irq := <-s.external:
		s.Pend(irq)
	case _, ok := <-s.ticks:
		if !ok {
			s.ticks = nil
			return nil
		}
		s.Advance(1)
	}
	return nil
}

var _ Platform = (*Sim)(nil)
