package sched

import (
	"testing"

	"ceilq/internal/hw"
)

func TestTimerQueueOrder(t *testing.T) {
	q := newTimerQueue(8)
	pushes := []struct {
		at   hw.Instant
		head bool
	}{
		{at: 10, head: true},
		{at: 5, head: true},
		{at: 5, head: false},
		{at: 7, head: false},
		{at: 1, head: true},
	}
	for i, p := range pushes {
		head, ok := q.push(entry{task: TaskID(i), at: p.at})
		if !ok {
			t.Fatalf("push #%d rejected", i)
		}
		if head != p.head {
			t.Errorf("push #%d at %d: head = %v, want %v", i, p.at, head, p.head)
		}
	}

	var got []TaskID
	for q.len() > 0 {
		e, _ := q.peek()
		got = append(got, e.task)
		q.pop()
	}
	want := []TaskID{4, 1, 2, 3, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pop order = %v, want %v", got, want)
		}
	}
	if _, ok := q.peek(); ok {
		t.Fatalf("peek on empty queue succeeded")
	}
}

func TestTimerQueueCapacity(t *testing.T) {
	q := newTimerQueue(2)
	for i := 0; i < 2; i++ {
		if _, ok := q.push(entry{at: hw.Instant(i)}); !ok {
			t.Fatalf("push #%d rejected below capacity", i)
		}
	}
	if _, ok := q.push(entry{at: 9}); ok {
		t.Fatalf("push beyond capacity accepted")
	}
	q.pop()
	if _, ok := q.push(entry{at: 9}); !ok {
		t.Fatalf("push after pop rejected")
	}
}
