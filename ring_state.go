// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package shmq

import "log/slog"

// CheckBuffer probes whether the buffer is in the given state and
// accessible to this handle (owned by it, or unowned for the unowned
// states Full and Empty). It never faults.
func (r *Ring) CheckBuffer(buf int, state BufferState) bool {
	if !r.IsValid() {
		return false
	}
	r.checkSlot(buf)
	r.slotMu[buf].Lock()
	defer r.slotMu[buf].Unlock()
	return r.bufferIs(r.meta(buf), state)
}

// MarkFull publishes a buffer this handle owns: its state becomes Full and
// its owner becomes destination - a specific reader's manager id, or
// AnyOwner to let any reader claim it. The call is a no-op when this
// handle does not own the buffer.
func (r *Ring) MarkFull(buf int, destination int32) {
	if !r.IsValid() {
		return
	}
	r.checkSlot(buf)
	r.slotMu[buf].Lock()
	defer r.slotMu[buf].Unlock()
	m := r.meta(buf)
	r.touch(m)
	if m.owner.Load() != r.id {
		return
	}
	if BufferState(m.state.Load()) != StateFull {
		m.state.StoreRelease(int32(StateFull))
	}
	m.owner.StoreRelease(destination)
}

// MarkEmpty releases a buffer this handle finished reading.
//
// Without force the buffer must be owned and in Reading state (a violation
// is a fatal fault). The read position rewinds and the buffer returns to
// Full; in destructive mode it continues to Empty so a writer can reuse
// it. With force, a handle that owns the buffer - or the creator - resets
// it to Empty regardless of state; in broadcast mode the shared reader
// hint is advanced past an emptied slot it pointed at. Ownership is always
// released.
func (r *Ring) MarkEmpty(buf int, force bool) error {
	if !r.IsValid() {
		return ErrRingInvalid
	}
	r.checkSlot(buf)
	r.slotMu[buf].Lock()
	defer r.slotMu[buf].Unlock()
	m := r.meta(buf)
	if !force {
		if err := r.requireBuffer(m, StateReading); err != nil {
			return err
		}
	}
	r.touch(m)

	m.readPos.Store(0)
	m.state.StoreRelease(int32(StateFull))

	owner := m.owner.Load()
	if (force && (r.id == 0 || r.id == owner)) || (!force && r.destructive()) {
		m.writePos.Store(0)
		m.state.StoreRelease(int32(StateEmpty))
		if !r.destructive() && int(r.hdr.readerPos.Load()) == buf {
			r.hdr.readerPos.Store(int32((buf + 1) % r.count()))
		}
	}
	m.owner.StoreRelease(AnyOwner)
	return nil
}

// reclaimStale runs the stale-buffer policy on one slot. It is invoked
// opportunistically by every scan. Returns true when the slot was reset,
// or when it is this handle's own stale Writing buffer (reported and left
// usable); a stale slot that no rule applies to yields false.
//
// A slot is stale when its last touch is older than the configured
// timeout. A timeout of 0 disables reclamation; Empty slots are never
// stale; a touch timestamp in the future is forward-repaired and the slot
// left alone.
func (r *Ring) reclaimStale(buf int) bool {
	timeout := r.hdr.bufferTimeoutUs
	if timeout == 0 {
		return false
	}
	r.slotMu[buf].Lock()
	defer r.slotMu[buf].Unlock()
	m := r.meta(buf)

	now := nowMicros()
	last := m.lastTouchUs.Load()
	if now < last {
		m.lastTouchUs.Store(now)
		return false
	}
	delta := uint64(now - last)
	if delta <= timeout || BufferState(m.state.Load()) == StateEmpty {
		return false
	}

	st := BufferState(m.state.Load())
	owner := m.owner.Load()

	// Our own stalled write: report stale, leave it usable.
	if owner == r.id && st == StateWriting {
		slog.Warn("own writing buffer is stale",
			"buffer", buf, "delta_us", delta, "timeout_us", timeout)
		return true
	}

	// Broadcast leftovers: a published buffer this handle's watermark has
	// passed - or any published buffer, when seen by the creator - goes
	// back to the empty pool. The creator rule can drop data a slow
	// consumer has not reached yet; operators trade that for a ring that
	// cannot wedge on a dead subscriber.
	if !r.destructive() && st == StateFull &&
		(m.sequenceID.Load() < r.lastSeen.Load() || r.id == 0) {
		slog.Debug("resetting stale broadcast buffer", "buffer", buf)
		m.writePos.Store(0)
		m.state.StoreRelease(int32(StateEmpty))
		m.owner.StoreRelease(AnyOwner)
		if int(r.hdr.readerPos.Load()) == buf {
			r.hdr.readerPos.Store(int32((buf + 1) % r.count()))
		}
		return true
	}

	// A reader that claimed the buffer and disappeared. Re-check the
	// clock right before resetting: a racing legitimate touch must win.
	if owner != r.id && st == StateReading {
		delta2 := nowMicros() - m.lastTouchUs.Load()
		if delta2 < 0 || uint64(delta2) <= timeout {
			return false
		}
		slog.Warn("stale reading buffer detected; resetting",
			"buffer", buf, "owner", owner, "delta_us", delta, "timeout_us", timeout)
		m.readPos.Store(0)
		m.state.StoreRelease(int32(StateFull))
		m.owner.StoreRelease(AnyOwner)
		return true
	}
	return false
}
