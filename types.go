// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmq

import "unsafe"

// Footprinter reports the byte cost of one element held in a bounded queue.
//
// Element types that carry variable-size payloads (a record header plus a
// data slice, say) should implement Footprinter so the queue's memory bound
// tracks real usage. Types that do not implement it are costed at
// unsafe.Sizeof, which covers only the fixed in-memory size.
type Footprinter interface {
	// Footprint returns the number of bytes one element occupies.
	Footprint() uintptr
}

// footprintOf resolves the byte-cost function for T once per queue.
// The hot path calls one function value; it never re-checks the interface.
func footprintOf[T any]() func(*T) uintptr {
	var zero T
	if _, ok := any(zero).(Footprinter); ok {
		return func(t *T) uintptr { return any(*t).(Footprinter).Footprint() }
	}
	size := unsafe.Sizeof(zero)
	return func(*T) uintptr { return size }
}

// Counted is the value yielded by KeepNewest and RejectNewest dequeues:
// the dequeued element together with the number of elements dropped since
// the previous successful dequeue. Drops folds together policy rejections,
// evictions, cleared elements, and externally reported drops.
type Counted[T any] struct {
	Value T
	Drops uint64
}

// BufferState is the per-slot state flag of a ring buffer.
type BufferState int32

const (
	// StateEmpty: the buffer holds no data and is unowned.
	StateEmpty BufferState = iota
	// StateWriting: a producer handle owns the buffer and is filling it.
	StateWriting
	// StateFull: the buffer holds published data, available to readers.
	StateFull
	// StateReading: a consumer handle owns the buffer and is draining it.
	StateReading
)

// String returns the state name.
func (s BufferState) String() string {
	switch s {
	case StateEmpty:
		return "Empty"
	case StateWriting:
		return "Writing"
	case StateFull:
		return "Full"
	case StateReading:
		return "Reading"
	default:
		return "Unknown"
	}
}

// AnyOwner is the owner id of an unowned buffer. Passing it as the
// destination of MarkFull publishes the buffer to any reader.
const AnyOwner int32 = -1

// BufferStatus is one entry of Ring.BufferReport: the owner id and state of
// a single slot at scan time.
type BufferStatus struct {
	Owner int32
	State BufferState
}
