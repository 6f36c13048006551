// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package shmq

// GetBufferForWriting claims a buffer for writing and returns its slot
// index, or -1 when none can be claimed.
//
// Claims run in three passes of descending preference: Empty slots first;
// then, only with overwrite set, Full slots (discarding unread data) and
// finally Reading slots, pre-empting the prior reader - its next position
// advance observes the ownership change and yields. Without overwrite only
// Empty slots are claimed.
//
// On success the buffer is in Writing state, owned by this handle, stamped
// with a fresh sequence id and a write position of 0, and the shared
// writer hint points past it.
func (r *Ring) GetBufferForWriting(overwrite bool) int {
	if !r.IsValid() {
		return -1
	}
	r.searchMu.Lock()
	defer r.searchMu.Unlock()

	if buf := r.claimForWriting(StateEmpty, true); buf >= 0 {
		return buf
	}
	if overwrite {
		if buf := r.claimForWriting(StateFull, false); buf >= 0 {
			return buf
		}
		if buf := r.claimForWriting(StateReading, false); buf >= 0 {
			return buf
		}
	}
	return -1
}

// claimForWriting scans one pass from the writer hint for slots in state
// from, claiming the first whose (owner, state) CAS pair succeeds. With
// mustBeUnowned set only unowned slots qualify (the Empty pass); otherwise
// the claim pre-empts whatever handle held the slot. Callers must hold the
// search mutex.
func (r *Ring) claimForWriting(from BufferState, mustBeUnowned bool) int {
	count := r.count()
	wp := int(r.hdr.writerPos.Load())
	for i := 0; i < count; i++ {
		buf := (i + wp) % count
		r.reclaimStale(buf)
		m := r.meta(buf)
		owner := m.owner.LoadAcquire()
		if BufferState(m.state.LoadAcquire()) != from {
			continue
		}
		if mustBeUnowned && owner != AnyOwner {
			continue
		}
		if !m.owner.CompareAndSwapAcqRel(owner, r.id) {
			continue
		}
		if !m.state.CompareAndSwapAcqRel(int32(from), int32(StateWriting)) {
			continue
		}
		seq := r.hdr.nextSequenceID.AddAcqRel(1)
		m.sequenceID.Store(seq)
		m.writePos.Store(0)
		r.hdr.writerPos.Store(int32((buf + 1) % count))
		r.touch(m)
		return buf
	}
	return -1
}

// writeEligible reports whether a slot would qualify for a
// GetBufferForWriting(overwrite) claim.
func (r *Ring) writeEligible(m *bufferMeta, overwrite bool) bool {
	st := BufferState(m.state.LoadAcquire())
	if st == StateEmpty && m.owner.LoadAcquire() == AnyOwner {
		return true
	}
	return overwrite && st != StateWriting
}

// ReadyForWrite reports whether at least one buffer could be claimed by
// GetBufferForWriting(overwrite). It never claims.
func (r *Ring) ReadyForWrite(overwrite bool) bool {
	if !r.IsValid() {
		return false
	}
	r.searchMu.Lock()
	defer r.searchMu.Unlock()
	count := r.count()
	wp := int(r.hdr.writerPos.Load())
	for i := 0; i < count; i++ {
		buf := (wp + i) % count
		r.reclaimStale(buf)
		if r.writeEligible(r.meta(buf), overwrite) {
			return true
		}
	}
	return false
}

// WriteReadyCount returns the number of buffers a
// GetBufferForWriting(overwrite) call could currently claim. It never
// claims.
func (r *Ring) WriteReadyCount(overwrite bool) int {
	if !r.IsValid() {
		return 0
	}
	r.searchMu.Lock()
	defer r.searchMu.Unlock()
	ready := 0
	for buf := 0; buf < r.count(); buf++ {
		r.reclaimStale(buf)
		if r.writeEligible(r.meta(buf), overwrite) {
			ready++
		}
	}
	return ready
}
