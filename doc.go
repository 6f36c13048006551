// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package shmq provides bounded producer-consumer queues and a cross-process
// shared-memory buffer ring for shuttling variable-size binary records
// through a data-acquisition pipeline.
//
// The package offers two independent primitives:
//
//   - Bounded queues: in-process FIFO queues bounded by both element count
//     and aggregate memory, with three admission policies for a full queue
//     (FailIfFull, KeepNewest, RejectNewest).
//   - Ring: a cross-process pool of fixed-size buffers backed by a System V
//     shared-memory segment, coordinating one creator plus any number of
//     attachers, in either destructive (single-consumer) or broadcast
//     (multi-consumer) read mode.
//
// # Bounded Queues
//
// All three queue types share the same blocking, timed, and non-blocking
// operations; they differ only in what happens when the queue is full and in
// what a dequeue yields:
//
//	q := shmq.NewFailIfFull[Record](1024, 0)
//
//	// Non-blocking enqueue; ErrQueueFull when no room
//	if err := q.EnqueueNowait(&rec); err != nil {
//	    // full - record was counted as dropped
//	}
//
//	// Blocking dequeue
//	rec := q.Dequeue()
//
// KeepNewest evicts from the head of the queue to admit new items;
// RejectNewest refuses new items. Both report the number of elements dropped
// since the previous dequeue alongside each dequeued element:
//
//	q := shmq.NewKeepNewest[Record](1024, 64<<20)
//
//	evicted := q.EnqueueNowait(&rec) // number of head elements evicted
//
//	out, ok := q.DequeueNowait()
//	if ok {
//	    process(out.Value)
//	    stats.AddDrops(out.Drops) // drops since previous dequeue
//	}
//
// Queues are bounded by element count and by aggregate byte use. The byte
// cost of an element is taken from its Footprint method when the element
// type implements [Footprinter], and from unsafe.Sizeof otherwise.
//
// # Shared-Memory Ring
//
// A Ring is a fixed array of equal-size buffers in a System V shared-memory
// segment, treated as a circular pool rather than a strict circular queue.
// The first handle to attach with a nonzero buffer count creates and
// initializes the segment (the "creator", manager id 0); later handles spin
// on a ready marker and take the next manager id:
//
//	ring, err := shmq.AttachRing(shmq.RingConfig{
//	    Key:                 0x4009,
//	    BufferCount:         16,
//	    BufferSize:          1 << 20,
//	    BufferTimeout:       time.Second,
//	    DestructiveReadMode: true,
//	})
//	if err != nil {
//	    // segment could not be created or attached
//	}
//	defer ring.Close()
//
// Producers claim a buffer, fill it, and publish it:
//
//	buf := ring.GetBufferForWriting(false)
//	if buf >= 0 {
//	    ring.Write(buf, payload)
//	    ring.MarkFull(buf, shmq.AnyOwner)
//	}
//
// Consumers claim published buffers in sequence-id order and release them:
//
//	buf := ring.GetBufferForReading()
//	if buf >= 0 {
//	    data := make([]byte, ring.DataSize(buf))
//	    ring.Read(buf, data)
//	    ring.MarkEmpty(buf, false)
//	}
//
// In destructive read mode each buffer is consumed by at most one reader and
// MarkEmpty returns it to the empty pool. In broadcast mode MarkEmpty leaves
// the buffer full so additional readers can consume it; each handle tracks
// its own sequence-id watermark and observes every published buffer at most
// once.
//
// Buffers carry a last-touch timestamp. A buffer claimed for reading by a
// handle that then stalls or dies is returned to Full by any other handle's
// scan once the configured timeout elapses. A stale buffer that another
// handle claimed for writing is not reclaimed by the scan.
//
// # Crash-Safe Teardown
//
// Every live Ring handle is tracked in a process-wide registry. The first
// handle arms a signal relay (SIGINT, SIGTERM, SIGSEGV and friends) that
// detaches all live handles on a fatal signal - returning owned buffers to a
// safe state and unmapping the segment without destroying it, so peer
// processes survive - and then re-raises the signal with its previous
// disposition. SIGUSR2 is translated to SIGINT on re-raise.
//
// # Error Handling
//
// Queue and ring operations that cannot proceed return sentinel errors
// (ErrQueueFull, ErrRingInvalid, ErrNotOwner, ErrBufferOverflow) that can be
// tested with errors.Is. Violated ownership or state preconditions, payload
// over-runs, and zero-length position advances are programming or peer
// faults: the operation tears the handle down and returns a *RingFault
// carrying the fault category. Out-of-range buffer indices panic.
//
// # Dependencies
//
// This package uses [code.hybscloud.com/iox] for semantic errors and
// backoff, [code.hybscloud.com/atomix] for atomic primitives with explicit
// memory ordering, [code.hybscloud.com/spin] for CPU pause instructions,
// [github.com/eapache/queue] for the growable FIFO backing the bounded
// queues, and [golang.org/x/sys/unix] for the System V shared-memory
// syscalls. The ring is supported on Linux only.
package shmq
