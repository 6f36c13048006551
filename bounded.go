// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmq

import (
	"math"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"github.com/eapache/queue"
)

// unbounded is the default element and byte limit. A zero capacity or
// memory argument selects it.
const unbounded = math.MaxUint64

// bounded is the core shared by the three policy queues: a FIFO of T
// bounded by element count and aggregate byte use.
//
// One mutex guards the element sequence, the count/byte accounting, the
// drop counter, and the bounds. The count/byte/bound getters read relaxed
// atomic snapshots without the lock.
//
// Blocking operations wait on broadcast channels that are closed and
// replaced on every insert (notEmpty) and every removal (notFull); timed
// variants select on the channel and a timer, then make one final attempt.
// The channel-in-place-of-sync.Cond idiom is what allows the timed wait.
type bounded[T any] struct {
	mu       sync.Mutex
	notEmpty chan struct{}
	notFull  chan struct{}

	// Growable ring FIFO. Capacity defaults are effectively unbounded,
	// so a preallocated slab cannot serve as storage.
	elements  *queue.Queue
	footprint func(*T) uintptr

	size     atomix.Uint64
	used     atomix.Uint64
	capacity atomix.Uint64
	memory   atomix.Uint64

	dropped     uint64
	readerReady atomix.Bool
	readyTime   time.Time
}

// init prepares the core in place; the embedding constructors call it once
// before the queue is shared.
func (q *bounded[T]) init(capacity int, memory uint64) {
	cap64 := uint64(unbounded)
	if capacity > 0 {
		cap64 = uint64(capacity)
	}
	if memory == 0 {
		memory = unbounded
	}
	q.notEmpty = make(chan struct{})
	q.notFull = make(chan struct{})
	q.elements = queue.New()
	q.footprint = footprintOf[T]()
	q.readyTime = time.Now()
	q.capacity.StoreRelaxed(cap64)
	q.memory.StoreRelaxed(memory)
}

// isFull reports whether the queue can accept no new entries.
// Callers must hold mu.
func (q *bounded[T]) isFull() bool {
	return q.size.LoadRelaxed() >= q.capacity.LoadRelaxed() ||
		q.used.LoadRelaxed() >= q.memory.LoadRelaxed()
}

// admits reports whether an item of the given byte cost fits right now.
// Callers must hold mu.
func (q *bounded[T]) admits(itemSize uintptr) bool {
	return q.size.LoadRelaxed() < q.capacity.LoadRelaxed() &&
		q.used.LoadRelaxed()+uint64(itemSize) <= q.memory.LoadRelaxed()
}

// insert appends the element and updates the accounting.
// Callers must hold mu.
func (q *bounded[T]) insert(elem *T, itemSize uintptr) {
	q.elements.Add(*elem)
	q.size.StoreRelaxed(q.size.LoadRelaxed() + 1)
	q.used.StoreRelaxed(q.used.LoadRelaxed() + uint64(itemSize))
	q.signalNotEmpty()
}

// evictHead removes the oldest element and updates the accounting without
// waking producers; it runs only inside an enqueue that is making room.
// Callers must hold mu and guarantee the queue is nonempty.
func (q *bounded[T]) evictHead() {
	head := q.elements.Remove().(T)
	q.size.StoreRelaxed(q.size.LoadRelaxed() - 1)
	q.used.StoreRelaxed(q.used.LoadRelaxed() - uint64(q.footprint(&head)))
}

// takeHead removes and returns the oldest element. When resetDrops is set
// the drop counter is snapshotted and zeroed in the same critical section.
// Callers must hold mu and guarantee the queue is nonempty.
func (q *bounded[T]) takeHead(resetDrops bool) (T, uint64) {
	elem := q.elements.Remove().(T)
	q.size.StoreRelaxed(q.size.LoadRelaxed() - 1)
	q.used.StoreRelaxed(q.used.LoadRelaxed() - uint64(q.footprint(&elem)))
	q.signalNotFull()
	var drops uint64
	if resetDrops {
		drops = q.dropped
		q.dropped = 0
	}
	return elem, drops
}

func (q *bounded[T]) signalNotEmpty() {
	close(q.notEmpty)
	q.notEmpty = make(chan struct{})
}

func (q *bounded[T]) signalNotFull() {
	close(q.notFull)
	q.notFull = make(chan struct{})
}

// Enqueue adds an element to the queue, waiting until the queue is not
// full. The element is copied into the queue's internal buffer. Blocking
// enqueues bypass the admission policy: they never drop and never fail.
func (q *bounded[T]) Enqueue(elem *T) {
	q.mu.Lock()
	for q.isFull() {
		ch := q.notFull
		q.mu.Unlock()
		<-ch
		q.mu.Lock()
	}
	q.insert(elem, q.footprint(elem))
	q.mu.Unlock()
}

// EnqueueTimed adds an element to the queue, waiting up to d for the queue
// to become not-full. It performs one bounded wait and one final attempt.
// Returns true if the element was inserted; on false the element has been
// counted as dropped.
func (q *bounded[T]) EnqueueTimed(elem *T, d time.Duration) bool {
	q.mu.Lock()
	if q.isFull() {
		ch := q.notFull
		q.mu.Unlock()
		t := time.NewTimer(d)
		select {
		case <-ch:
		case <-t.C:
		}
		t.Stop()
		q.mu.Lock()
	}
	inserted := false
	if !q.isFull() {
		q.insert(elem, q.footprint(elem))
		inserted = true
	} else {
		q.dropped++
	}
	q.mu.Unlock()
	return inserted
}

// deqNowait removes the head if the queue is nonempty.
func (q *bounded[T]) deqNowait(resetDrops bool) (T, uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size.LoadRelaxed() == 0 {
		var zero T
		return zero, 0, false
	}
	elem, drops := q.takeHead(resetDrops)
	return elem, drops, true
}

// deqWait removes the head, waiting until the queue is nonempty.
func (q *bounded[T]) deqWait(resetDrops bool) (T, uint64) {
	q.mu.Lock()
	for q.size.LoadRelaxed() == 0 {
		ch := q.notEmpty
		q.mu.Unlock()
		<-ch
		q.mu.Lock()
	}
	elem, drops := q.takeHead(resetDrops)
	q.mu.Unlock()
	return elem, drops
}

// deqTimed removes the head, waiting up to d for the queue to become
// nonempty: one bounded wait, then one final attempt.
func (q *bounded[T]) deqTimed(d time.Duration, resetDrops bool) (T, uint64, bool) {
	q.mu.Lock()
	if q.size.LoadRelaxed() == 0 {
		ch := q.notEmpty
		q.mu.Unlock()
		t := time.NewTimer(d)
		select {
		case <-ch:
		case <-t.C:
		}
		t.Stop()
		q.mu.Lock()
	}
	defer q.mu.Unlock()
	if q.size.LoadRelaxed() == 0 {
		var zero T
		return zero, 0, false
	}
	elem, drops := q.takeHead(resetDrops)
	return elem, drops, true
}

// Empty reports whether the queue holds no elements.
func (q *bounded[T]) Empty() bool {
	return q.size.LoadRelaxed() == 0
}

// Full reports whether the queue can accept no new entries.
func (q *bounded[T]) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isFull()
}

// Len returns the number of elements currently held.
func (q *bounded[T]) Len() int {
	return int(q.size.LoadRelaxed())
}

// Used returns the aggregate byte cost of the held elements.
func (q *bounded[T]) Used() uint64 {
	return q.used.LoadRelaxed()
}

// Cap returns the maximum element count. Unbounded queues report
// math.MaxInt.
func (q *bounded[T]) Cap() int {
	c := q.capacity.LoadRelaxed()
	if c > math.MaxInt {
		return math.MaxInt
	}
	return int(c)
}

// Memory returns the byte budget.
func (q *bounded[T]) Memory() uint64 {
	return q.memory.LoadRelaxed()
}

// SetCap replaces the element-count bound; 0 means unbounded. The bound
// can be changed only while the queue is empty. Returns true if applied.
func (q *bounded[T]) SetCap(n int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size.LoadRelaxed() != 0 {
		return false
	}
	if n <= 0 {
		q.capacity.StoreRelaxed(unbounded)
	} else {
		q.capacity.StoreRelaxed(uint64(n))
	}
	return true
}

// SetMemory replaces the byte budget; 0 means unbounded. The budget can be
// changed only while the queue is empty. Returns true if applied.
func (q *bounded[T]) SetMemory(n uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size.LoadRelaxed() != 0 {
		return false
	}
	if n == 0 {
		n = unbounded
	}
	q.memory.StoreRelaxed(n)
	return true
}

// Clear removes all elements, counting each as dropped. Returns the number
// of elements removed.
func (q *bounded[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	cleared := q.size.LoadRelaxed()
	q.dropped += cleared
	q.elements = queue.New()
	q.size.StoreRelaxed(0)
	q.used.StoreRelaxed(0)
	if cleared > 0 {
		q.signalNotFull()
	}
	return int(cleared)
}

// AddDropped folds n externally observed drops into the drop counter, so
// they are reported through the same dequeued pairs as policy drops.
func (q *bounded[T]) AddDropped(n uint64) {
	q.mu.Lock()
	q.dropped += n
	q.mu.Unlock()
}

// ReaderReady reports whether a consumer has signalled it is attached and
// consuming. Producers use it as a liveness hint before enqueueing.
func (q *bounded[T]) ReaderReady() bool {
	return q.readerReady.Load()
}

// SetReaderReady records consumer liveness and stamps ReadyTime.
func (q *bounded[T]) SetReaderReady(ready bool) {
	q.mu.Lock()
	q.readyTime = time.Now()
	q.mu.Unlock()
	q.readerReady.Store(ready)
}

// ReadyTime returns the time of the last SetReaderReady call.
func (q *bounded[T]) ReadyTime() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readyTime
}
