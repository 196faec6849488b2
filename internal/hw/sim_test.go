package hw

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestSimHigherPriorityPreemptsImmediately(t *testing.T) {
	s := NewSim(4)
	var trace []string

	s.Bind("HIGH", 3, func() { trace = append(trace, "high") })
	s.Bind("LOW", 1, func() {
		trace = append(trace, "low:start")
		s.Pend("HIGH")
		trace = append(trace, "low:end")
	})

	s.Pend("LOW")

	want := []string{"low:start", "high", "low:end"}
	if !reflect.DeepEqual(trace, want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
}

func TestSimEqualPriorityDoesNotPreempt(t *testing.T) {
	s := NewSim(4)
	var trace []string

	s.Bind("B", 2, func() { trace = append(trace, "b") })
	s.Bind("A", 2, func() {
		trace = append(trace, "a:start")
		s.Pend("B")
		trace = append(trace, "a:end")
	})

	s.Pend("A")

	want := []string{"a:start", "a:end", "b"}
	if !reflect.DeepEqual(trace, want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
}

func TestSimMaskDefersUntilUnmask(t *testing.T) {
	s := NewSim(4)
	var trace []string
	s.Bind("MID", 2, func() { trace = append(trace, "mid") })

	prev := s.Mask(2)
	s.Pend("MID")
	if len(trace) != 0 {
		t.Fatalf("MID ran while masked at its own level")
	}
	if !s.Pending("MID") {
		t.Fatalf("Pending(MID) = false, want true")
	}

	s.UnmaskTo(prev)
	if !reflect.DeepEqual(trace, []string{"mid"}) {
		t.Fatalf("trace = %v, want [mid]", trace)
	}
	if s.Basepri() != 0 {
		t.Fatalf("Basepri() = %d, want 0", s.Basepri())
	}
}

func TestSimMaskNeverLowers(t *testing.T) {
	s := NewSim(4)

	outer := s.Mask(3)
	inner := s.Mask(1)
	if s.Basepri() != 3 {
		t.Fatalf("Basepri() = %d after lower Mask, want 3", s.Basepri())
	}
	s.UnmaskTo(inner)
	s.UnmaskTo(outer)
	if s.Basepri() != 0 {
		t.Fatalf("Basepri() = %d, want 0", s.Basepri())
	}
}

func TestSimHighestPendingFirst(t *testing.T) {
	s := NewSim(4)
	var trace []string
	for _, tc := range []struct {
		irq   IRQ
		level Level
	}{{"ONE", 1}, {"THREE", 3}, {"TWO", 2}, {"TWO_B", 2}} {
		irq := tc.irq
		s.Bind(irq, tc.level, func() { trace = append(trace, string(irq)) })
	}

	prev := s.Mask(4)
	s.Pend("TWO_B")
	s.Pend("ONE")
	s.Pend("TWO")
	s.Pend("THREE")
	s.UnmaskTo(prev)

	want := []string{"THREE", "TWO", "TWO_B", "ONE"}
	if !reflect.DeepEqual(trace, want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
}

func TestSimTimerFiresAtDeadline(t *testing.T) {
	s := NewSim(2)
	var fired []Instant
	s.Bind(s.TimerIRQ(), 1, func() { fired = append(fired, s.Now()) })

	s.Arm(5)
	s.Advance(4)
	if len(fired) != 0 {
		t.Fatalf("timer fired early at %v", fired)
	}
	s.Advance(10)
	if !reflect.DeepEqual(fired, []Instant{5}) {
		t.Fatalf("fired = %v, want [5]", fired)
	}
	if _, armed := s.Deadline(); armed {
		t.Fatalf("timer still armed after firing")
	}
}

func TestSimArmInThePastPendsNow(t *testing.T) {
	s := NewSim(2)
	var n int
	s.Bind(s.TimerIRQ(), 1, func() { n++ })

	s.Advance(3)
	s.Arm(2)
	if n != 1 {
		t.Fatalf("timer ran %d times, want 1", n)
	}
}

func TestSimWaitForInterruptServicesRaise(t *testing.T) {
	s := NewSim(2)
	done := make(chan struct{})
	s.Bind("EXT", 1, func() { close(done) })

	go s.Raise("EXT")
	if err := s.WaitForInterrupt(context.Background()); err != nil {
		t.Fatalf("WaitForInterrupt() error = %v", err)
	}
	select {
	case <-done:
	default:
		t.Fatalf("EXT handler did not run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.WaitForInterrupt(ctx); err == nil {
		t.Fatalf("WaitForInterrupt() on idle core returned nil, want deadline error")
	}
}

// TestSimRaiseNeverBlocks
// Given: a core that is not draining raised lines
// When: more lines are raised than the queue holds
// Then: the excess raises are dropped without blocking the caller
func TestSimRaiseNeverBlocks(t *testing.T) {
	s := NewSim(2)
	var n int
	s.Bind("EXT", 1, func() { n++ })

	for i := 0; i < externalSlots; i++ {
		if !s.Raise("EXT") {
			t.Fatalf("Raise #%d dropped below capacity", i)
		}
	}
	if s.Raise("EXT") {
		t.Fatalf("Raise on a full queue reported success")
	}

	if err := s.WaitForInterrupt(context.Background()); err != nil {
		t.Fatalf("WaitForInterrupt() error = %v", err)
	}
	if n != 1 || !s.Raise("EXT") {
		t.Fatalf("after one drain: handler ran %d times, want 1, and Raise should succeed", n)
	}
}

func TestSimBindRejectsBadLevel(t *testing.T) {
	s := NewSim(2)
	defer func() {
		if recover() == nil {
			t.Fatalf("Bind at level 3 on a 2-level controller did not panic")
		}
	}()
	s.Bind("X", 3, func() {})
}
