// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmq

import "time"

// KeepNewest is a bounded FIFO queue that evicts its oldest elements to
// admit new ones.
//
// When full, EnqueueNowait pops the head until the new item fits or the
// queue is empty. If the item fits it is inserted; if it still does not fit
// (its footprint alone exceeds the memory budget) it is dropped instead.
// Dequeues yield Counted pairs carrying the drops since the previous
// dequeue.
type KeepNewest[T any] struct {
	bounded[T]
}

// NewKeepNewest creates a KeepNewest queue bounded to capacity elements and
// memory bytes. Zero selects an effectively unbounded limit.
func NewKeepNewest[T any](capacity int, memory uint64) *KeepNewest[T] {
	q := &KeepNewest[T]{}
	q.bounded.init(capacity, memory)
	return q
}

// EnqueueNowait adds an element to the queue without waiting, evicting
// from the head as needed. Returns the number of elements dropped by this
// call: evicted heads, plus one if the new item itself could not be
// admitted. All drops are folded into the drop counter.
func (q *KeepNewest[T]) EnqueueNowait(elem *T) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	itemSize := q.footprint(elem)
	removed := 0
	for !q.admits(itemSize) && q.size.LoadRelaxed() > 0 {
		q.evictHead()
		removed++
	}
	if q.admits(itemSize) {
		q.insert(elem, itemSize)
	} else {
		removed++
	}
	q.dropped += uint64(removed)
	return removed
}

// DequeueNowait removes and returns the head element and the drops since
// the previous dequeue, resetting the drop counter. Returns ok=false if
// the queue is empty.
func (q *KeepNewest[T]) DequeueNowait() (Counted[T], bool) {
	elem, drops, ok := q.deqNowait(true)
	return Counted[T]{Value: elem, Drops: drops}, ok
}

// Dequeue removes and returns the head element and the drops since the
// previous dequeue, waiting until the queue is nonempty.
func (q *KeepNewest[T]) Dequeue() Counted[T] {
	elem, drops := q.deqWait(true)
	return Counted[T]{Value: elem, Drops: drops}
}

// DequeueTimed removes and returns the head element and the drops since
// the previous dequeue, waiting up to d.
func (q *KeepNewest[T]) DequeueTimed(d time.Duration) (Counted[T], bool) {
	elem, drops, ok := q.deqTimed(d, true)
	return Counted[T]{Value: elem, Drops: drops}, ok
}
