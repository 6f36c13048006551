// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmq

import (
	"errors"
	"fmt"

	"code.hybscloud.com/iox"
)

// ErrWouldBlock is the ecosystem's control-flow signal for an operation
// that cannot proceed immediately, re-exported as an alias of
// [iox.ErrWouldBlock] so callers combining shmq with other
// code.hybscloud.com packages can classify errors uniformly through
// IsWouldBlock, IsSemantic, and IsNonFailure.
var ErrWouldBlock = iox.ErrWouldBlock

// ErrQueueFull is returned by FailIfFull.EnqueueNowait when the queue cannot
// admit the item. The item is counted in the queue's drop counter.
var ErrQueueFull = errors.New("shmq: cannot add item to a full queue")

// ErrRingInvalid is returned by ring operations on a handle that has been
// detached or torn down by a fault. It is a sentinel, not a fault: query
// operations on an invalid handle return zero values without error.
var ErrRingInvalid = errors.New("shmq: ring handle is not attached")

// ErrNotOwner is returned when an operation requires buffer ownership that
// this handle no longer holds, typically because an overwriting producer or
// stale-buffer reclamation pre-empted the claim. The operation had no
// effect; the caller should drop the buffer index and re-acquire.
var ErrNotOwner = errors.New("shmq: buffer is not owned by this handle")

// ErrBufferOverflow is returned by AdvanceWritePos when the advance would
// move the write position past the end of the buffer. The position is
// unchanged.
var ErrBufferOverflow = errors.New("shmq: write position would exceed buffer size")

// ErrAttachFailed wraps OS-level failures to create, look up, or map the
// shared-memory segment, and parameter mismatches against an existing
// segment. AttachRing then returns no handle.
var ErrAttachFailed = errors.New("shmq: failed to attach shared memory segment")

// FaultCategory classifies fatal ring faults.
type FaultCategory uint8

const (
	// FaultStateAccess: a buffer was not in the state the operation
	// requires under strict checking.
	FaultStateAccess FaultCategory = iota
	// FaultOwnerAccess: a buffer was not owned by this handle under
	// strict checking.
	FaultOwnerAccess
	// FaultSharedMemoryWrite: a write would overrun the buffer payload.
	FaultSharedMemoryWrite
	// FaultSharedMemoryRead: a read would underrun the buffer payload.
	FaultSharedMemoryRead
	// FaultLogic: a zero-length position advance.
	FaultLogic
)

// String returns the category name.
func (c FaultCategory) String() string {
	switch c {
	case FaultStateAccess:
		return "StateAccessViolation"
	case FaultOwnerAccess:
		return "OwnerAccessViolation"
	case FaultSharedMemoryWrite:
		return "SharedMemoryWrite"
	case FaultSharedMemoryRead:
		return "SharedMemoryRead"
	case FaultLogic:
		return "LogicError"
	default:
		return "Unknown"
	}
}

// RingFault is a fatal ring error. Before a RingFault is returned the handle
// has been torn down: owned buffers were reset to a safe neutral state, the
// segment was unmapped, and - if this handle is the creator - the segment was
// marked for removal. Afterwards, operations on the handle that return an
// error report ErrRingInvalid, and the others return -1, zero, false, or
// nil.
type RingFault struct {
	Category FaultCategory
	msg      string
}

// Error implements the error interface.
func (f *RingFault) Error() string {
	return fmt.Sprintf("shmq: %s: %s", f.Category, f.msg)
}

// IsWouldBlock reports whether err indicates the operation would block.
// Delegates to [iox.IsWouldBlock] for wrapped error support.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsSemantic reports whether err is a control flow signal (not a failure).
// Delegates to [iox.IsSemantic].
func IsSemantic(err error) bool {
	return iox.IsSemantic(err)
}

// IsNonFailure reports whether err represents a non-failure condition.
// Delegates to [iox.IsNonFailure].
func IsNonFailure(err error) bool {
	return iox.IsNonFailure(err)
}

// IsRingFault reports whether err is a fatal ring fault, and returns it.
func IsRingFault(err error) (*RingFault, bool) {
	var f *RingFault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
