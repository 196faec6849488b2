// Package hw describes the hardware capabilities the runtime is built on:
// a priority-masking interrupt controller and a monotonic timer.
package hw

import (
	"context"
	"strconv"
)

// Level is an interrupt priority. Higher values are more urgent; 0 is thread
// mode (idle) and is never used by an interrupt line.
type Level uint8

// IRQ names an interrupt line.
type IRQ string

// Instant is a monotonic clock reading in ticks.
type Instant uint64

// Add returns the instant n ticks after i.
func (i Instant) Add(n uint64) Instant { return i + Instant(n) }

// Before reports whether i is strictly earlier than o.
func (i Instant) Before(o Instant) bool { return i < o }

func (i Instant) String() string { return strconv.FormatUint(uint64(i), 10) }

// Controller is the interrupt controller capability.
type Controller interface {
	// Mask raises the masking threshold to level so that no line with a
	// priority <= level can fire. It never lowers the threshold and returns
	// the value that was in effect before the call.
	Mask(level Level) Level
	// UnmaskTo restores a threshold previously returned by Mask.
	UnmaskTo(prev Level)
	// Pend marks irq pending. It fires as soon as the running level and the
	// mask are both below its priority.
	Pend(irq IRQ)
	// Bind installs handler on irq at the given priority.
	Bind(irq IRQ, level Level, handler func())
}

// Clock is the monotonic timer capability.
type Clock interface {
	Now() Instant
	// Arm requests the timer line to be pended at or after at.
	Arm(at Instant)
	Disarm()
	// TimerIRQ is the line pended when an armed instant is reached.
	TimerIRQ() IRQ
}

// Platform bundles the capabilities of one single-core target.
type Platform interface {
	Controller
	Clock
	// MaxLevel is the most urgent priority the controller supports.
	MaxLevel() Level
	// WaitForInterrupt sleeps thread mode until an external event has been
	// serviced or ctx ends.
	WaitForInterrupt(ctx context.Context) error
}
