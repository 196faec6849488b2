package sched

import (
	"runtime"
	"sync"
	"testing"
)

func TestRingTryPopEmpty(t *testing.T) {
	q := NewRing[int](4)

	if _, ok := q.TryPop(); ok {
		t.Fatalf("TryPop() ok = true on empty ring, want false")
	}
}

func TestRingRoundsCapacityUp(t *testing.T) {
	for _, tc := range []struct{ in, want int }{{0, 1}, {1, 1}, {3, 4}, {8, 8}, {9, 16}} {
		if got := NewRing[int](tc.in).Cap(); got != tc.want {
			t.Errorf("NewRing(%d).Cap() = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestRingFIFOAndFull(t *testing.T) {
	q := NewRing[int](4)

	for i := 0; i < 4; i++ {
		if !q.TryPush(i) {
			t.Fatalf("TryPush(%d) = false, want true", i)
		}
	}
	if q.TryPush(99) {
		t.Fatalf("TryPush() on full ring = true, want false")
	}
	if q.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", q.Len())
	}

	for i := 0; i < 4; i++ {
		v, ok := q.TryPop()
		if !ok || v != i {
			t.Fatalf("TryPop() = (%d, %v), want (%d, true)", v, ok, i)
		}
	}

	// wraps around
	for round := 0; round < 3; round++ {
		q.TryPush(round)
		if v, _ := q.TryPop(); v != round {
			t.Fatalf("round %d: TryPop() = %d", round, v)
		}
	}
}

func TestRingConcurrentProducers(t *testing.T) {
	oldProcs := runtime.GOMAXPROCS(1)
	defer runtime.GOMAXPROCS(oldProcs)

	const (
		producers = 4
		perProd   = 5_000
		total     = producers * perProd
	)

	q := NewRing[int](64)
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			<-start
			for i := 0; i < perProd; i++ {
				for !q.TryPush(p*perProd + i) {
					runtime.Gosched()
				}
			}
		}(p)
	}
	close(start)

	seen := make([]bool, total)
	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	for n := 0; n < total; {
		v, ok := q.TryPop()
		if !ok {
			runtime.Gosched()
			continue
		}
		if seen[v] {
			t.Fatalf("TryPop() duplicate %d", v)
		}
		seen[v] = true
		p, i := v/perProd, v%perProd
		if i <= last[p] {
			t.Fatalf("producer %d: %d popped after %d", p, i, last[p])
		}
		last[p] = i
		n++
	}
	wg.Wait()
}
