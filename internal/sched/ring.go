package sched

import "sync/atomic"

type slot[T any] struct {
	seq atomic.Uint64
	val T
}

// Ring is a fixed-capacity lock-free FIFO. Producers and the consumer may
// preempt each other at any point: a slot is only visible to the consumer
// once its sequence number has been published, so an interrupted push reads
// as "not yet there" rather than as garbage.
type Ring[T any] struct {
	mask  uint64
	slots []slot[T]
	head  atomic.Uint64 // next push position
	tail  atomic.Uint64 // next pop position
}

// NewRing returns a ring holding at least capacity entries.
func NewRing[T any](capacity int) *Ring[T] {
	n := uint64(1)
	for n < uint64(capacity) {
		n <<= 1
	}
	q := &Ring[T]{mask: n - 1, slots: make([]slot[T], n)}
	for i := range q.slots {
		q.slots[i].seq.Store(uint64(i))
	}
	return q
}

// TryPush appends v, returning false if the ring is full.
func (q *Ring[T]) TryPush(v T) bool {
	for {
		pos := q.head.Load()
		s := &q.slots[pos&q.mask]
		switch d := int64(s.seq.Load()) - int64(pos); {
		case d == 0:
			if q.head.CompareAndSwap(pos, pos+1) {
				s.val = v
				s.seq.Store(pos + 1)
				return true
			}
		case d < 0:
			return false
		}
	}
}

// TryPop removes the oldest published entry.
func (q *Ring[T]) TryPop() (T, bool) {
	var zero T
	for {
		pos := q.tail.Load()
		s := &q.slots[pos&q.mask]
		switch d := int64(s.seq.Load()) - int64(pos+1); {
		case d == 0:
			if q.tail.CompareAndSwap(pos, pos+1) {
				v := s.val
				s.val = zero
				s.seq.Store(pos + q.mask + 1)
				return v, true
			}
		case d < 0:
			return zero, false
		}
	}
}

// Len is the number of claimed slots; it may include a push still in flight.
func (q *Ring[T]) Len() int { return int(q.head.Load() - q.tail.Load()) }

func (q *Ring[T]) Cap() int { return len(q.slots) }
