package sched

import (
	"github.com/emirpasic/gods/trees/redblacktree"

	"ceilq/internal/hw"
)

// entry is one pending invocation of a software task.
type entry struct {
	task    TaskID
	payload any
	at      hw.Instant
}

// timerKey orders the timer queue by instant, then by insertion.
type timerKey struct {
	at  hw.Instant
	seq uint64
}

func timerCmp(a, b any) int {
	ka, kb := a.(timerKey), b.(timerKey)
	switch {
	case ka.at < kb.at:
		return -1
	case ka.at > kb.at:
		return 1
	case ka.seq < kb.seq:
		return -1
	case ka.seq > kb.seq:
		return 1
	default:
		return 0
	}
}

// timerQueue is a bounded min-queue of deferred invocations. It is a shared
// resource: every access happens under its ceiling.
type timerQueue struct {
	tree     *redblacktree.Tree
	seq      uint64
	capacity int
}

func newTimerQueue(capacity int) *timerQueue {
	return &timerQueue{tree: redblacktree.NewWith(timerCmp), capacity: capacity}
}

// push inserts e and reports whether it became the earliest entry.
func (q *timerQueue) push(e entry) (head, ok bool) {
	if q.tree.Size() >= q.capacity {
		return false, false
	}
	k := timerKey{at: e.at, seq: q.seq}
	q.seq++
	q.tree.Put(k, e)
	return q.tree.Left().Key.(timerKey) == k, true
}

func (q *timerQueue) peek() (entry, bool) {
	n := q.tree.Left()
	if n == nil {
		return entry{}, false
	}
	return n.Value.(entry), true
}

func (q *timerQueue) pop() {
	if n := q.tree.Left(); n != nil {
		q.tree.Remove(n.Key)
	}
}

func (q *timerQueue) len() int { return q.tree.Size() }
