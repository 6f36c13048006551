// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package shmq

import (
	"math"

	"code.hybscloud.com/spin"
)

// maxClaimAttempts bounds the scan-claim-verify loop of the acquisition
// routines. A lost CAS or a failed re-verification restarts the scan; five
// losses in a row means the ring is too contended to serve this call.
const maxClaimAttempts = 5

// readEligible reports whether a slot can be claimed for reading by this
// handle: published (Full), unowned or already directed at this handle,
// and - in broadcast mode - not yet seen by this handle's watermark.
func (r *Ring) readEligible(m *bufferMeta) (owner int32, seq uint64, ok bool) {
	owner = m.owner.LoadAcquire()
	st := BufferState(m.state.LoadAcquire())
	seq = m.sequenceID.Load()
	if st != StateFull || (owner != AnyOwner && owner != r.id) {
		return owner, seq, false
	}
	if !r.destructive() && seq <= r.lastSeen.Load() {
		return owner, seq, false
	}
	return owner, seq, true
}

// GetBufferForReading claims an eligible buffer and returns its slot index,
// or -1 when no buffer is ready.
//
// The scan starts at the shared reader hint and keeps the eligible buffer
// with the lowest sequence id seen so far. In destructive mode it stops at
// the first eligible buffer; in broadcast mode it stops early only at the
// buffer whose sequence id is one past this handle's watermark.
//
// On success the buffer is in Reading state, owned by this handle, with
// its read position reset to 0. In destructive mode the claim advances the
// shared reader hint and, when this handle was the laggard, the ring's
// lowest-read watermark.
func (r *Ring) GetBufferForReading() int {
	if !r.IsValid() {
		return -1
	}
	r.searchMu.Lock()
	defer r.searchMu.Unlock()

	count := r.count()
	sw := spin.Wait{}
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		rp := int(r.hdr.readerPos.Load())
		best := -1
		bestSeq := uint64(math.MaxUint64)
		var bestOwner int32
		for i := 0; i < count; i++ {
			buf := (i + rp) % count
			r.reclaimStale(buf)
			owner, seq, ok := r.readEligible(r.meta(buf))
			if !ok || seq >= bestSeq {
				continue
			}
			best, bestSeq, bestOwner = buf, seq, owner
			if r.destructive() || seq == r.lastSeen.Load()+1 {
				break
			}
		}
		if best < 0 {
			return -1
		}

		m := r.meta(best)
		if !m.owner.CompareAndSwapAcqRel(bestOwner, r.id) {
			sw.Once()
			continue
		}
		if !m.state.CompareAndSwapAcqRel(int32(StateFull), int32(StateReading)) {
			sw.Once()
			continue
		}
		r.touch(m)
		if m.owner.LoadAcquire() != r.id || BufferState(m.state.LoadAcquire()) != StateReading {
			sw.Once()
			continue
		}

		m.readPos.Store(0)
		prev := r.lastSeen.Load()
		if r.destructive() {
			r.hdr.lowestSeqRead.CompareAndSwapAcqRel(prev, bestSeq)
		}
		r.lastSeen.Store(bestSeq)
		if r.destructive() {
			r.hdr.readerPos.Store(int32((best + 1) % count))
		}
		return best
	}
	return -1
}

// ReadyForRead reports whether at least one buffer is eligible for a
// GetBufferForReading claim by this handle. It never claims.
func (r *Ring) ReadyForRead() bool {
	if !r.IsValid() {
		return false
	}
	r.searchMu.Lock()
	defer r.searchMu.Unlock()
	count := r.count()
	rp := int(r.hdr.readerPos.Load())
	for i := 0; i < count; i++ {
		buf := (rp + i) % count
		r.reclaimStale(buf)
		if _, _, ok := r.readEligible(r.meta(buf)); ok {
			return true
		}
	}
	return false
}

// ReadReadyCount returns the number of buffers currently eligible for a
// GetBufferForReading claim by this handle. It never claims.
func (r *Ring) ReadReadyCount() int {
	if !r.IsValid() {
		return 0
	}
	r.searchMu.Lock()
	defer r.searchMu.Unlock()
	ready := 0
	for buf := 0; buf < r.count(); buf++ {
		r.reclaimStale(buf)
		if _, _, ok := r.readEligible(r.meta(buf)); ok {
			ready++
		}
	}
	return ready
}
