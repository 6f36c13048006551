// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package shmq

// DataSize returns the number of bytes written into the buffer so far (its
// current write position), or 0 when the handle is invalid.
func (r *Ring) DataSize(buf int) uint64 {
	if !r.IsValid() {
		return 0
	}
	r.checkSlot(buf)
	r.slotMu[buf].Lock()
	defer r.slotMu[buf].Unlock()
	m := r.meta(buf)
	r.touch(m)
	return m.writePos.Load()
}

// MoreData reports whether unread bytes remain in the buffer.
func (r *Ring) MoreData(buf int) bool {
	if !r.IsValid() {
		return false
	}
	r.checkSlot(buf)
	r.slotMu[buf].Lock()
	defer r.slotMu[buf].Unlock()
	m := r.meta(buf)
	return m.readPos.Load() < m.writePos.Load()
}

// ResetReadPos rewinds the buffer's read position to 0 so its payload can
// be read again. Only the current owner may reset; otherwise the call
// returns ErrNotOwner without side effects.
func (r *Ring) ResetReadPos(buf int) error {
	if !r.IsValid() {
		return ErrRingInvalid
	}
	r.checkSlot(buf)
	r.slotMu[buf].Lock()
	defer r.slotMu[buf].Unlock()
	m := r.meta(buf)
	if m.owner.Load() != r.id {
		return ErrNotOwner
	}
	r.touch(m)
	m.readPos.Store(0)
	return nil
}

// ResetWritePos rewinds the buffer's write position to 0, discarding what
// was staged. The buffer must be owned by this handle and in Writing
// state; a violation is a fatal fault.
func (r *Ring) ResetWritePos(buf int) error {
	if !r.IsValid() {
		return ErrRingInvalid
	}
	r.checkSlot(buf)
	r.slotMu[buf].Lock()
	defer r.slotMu[buf].Unlock()
	m := r.meta(buf)
	if err := r.requireBuffer(m, StateWriting); err != nil {
		return err
	}
	r.touch(m)
	m.writePos.Store(0)
	return nil
}

// AdvanceReadPos moves the read position forward by n bytes, as after an
// external copy out of BufferData. Advancing by 0 is a fatal fault. If the
// buffer is no longer owned by this handle (a pre-empting writer or
// reclamation took it), the call yields with ErrNotOwner and no side
// effects.
func (r *Ring) AdvanceReadPos(buf int, n uint64) error {
	if !r.IsValid() {
		return ErrRingInvalid
	}
	r.checkSlot(buf)
	r.slotMu[buf].Lock()
	defer r.slotMu[buf].Unlock()
	if n == 0 {
		return r.fault(FaultLogic, "cannot advance read position by 0 (buffer=%d)", buf)
	}
	m := r.meta(buf)
	if m.owner.Load() != r.id {
		return ErrNotOwner
	}
	r.touch(m)
	m.readPos.Store(m.readPos.Load() + n)
	return nil
}

// AdvanceWritePos moves the write position forward by n bytes, as after an
// external fill of Payload. Advancing by 0 is a fatal fault; advancing
// past the buffer size fails with ErrBufferOverflow and no side effects.
// If the buffer is no longer owned by this handle the call yields with
// ErrNotOwner.
func (r *Ring) AdvanceWritePos(buf int, n uint64) error {
	if !r.IsValid() {
		return ErrRingInvalid
	}
	r.checkSlot(buf)
	r.slotMu[buf].Lock()
	defer r.slotMu[buf].Unlock()
	if n == 0 {
		return r.fault(FaultLogic, "cannot advance write position by 0 (buffer=%d)", buf)
	}
	m := r.meta(buf)
	if m.owner.Load() != r.id {
		return ErrNotOwner
	}
	if m.writePos.Load()+n > r.hdr.bufferSize {
		return ErrBufferOverflow
	}
	r.touch(m)
	m.writePos.Store(m.writePos.Load() + n)
	return nil
}

// Write copies p into the buffer at its write position and advances it.
// The buffer must be owned by this handle and in Writing state; a
// violation, or a copy that would overrun the payload, is a fatal fault.
// Returns the number of bytes written.
func (r *Ring) Write(buf int, p []byte) (int, error) {
	if !r.IsValid() {
		return 0, ErrRingInvalid
	}
	r.checkSlot(buf)
	r.slotMu[buf].Lock()
	defer r.slotMu[buf].Unlock()
	m := r.meta(buf)
	if err := r.requireBuffer(m, StateWriting); err != nil {
		return 0, err
	}
	r.touch(m)
	pos := m.writePos.Load()
	if pos+uint64(len(p)) > r.hdr.bufferSize {
		return 0, r.fault(FaultSharedMemoryWrite,
			"write of %d bytes at %d exceeds buffer size %d; re-run with a larger buffer size",
			len(p), pos, r.hdr.bufferSize)
	}
	copy(r.payload(buf)[pos:], p)
	m.writePos.Store(pos + uint64(len(p)))

	// CAS-max: remember the highest sequence id this handle produced so
	// broadcast scans do not hand our own output back to us.
	seq := m.sequenceID.Load()
	for {
		last := r.lastSeen.Load()
		if last >= seq || r.lastSeen.CompareAndSwapAcqRel(last, seq) {
			break
		}
	}
	return len(p), nil
}

// Read copies the next len(p) unread bytes out of the buffer into p.
// The buffer must be owned by this handle and in Reading state; a
// violation, or a copy past the payload end, is a fatal fault. After the
// copy the claim is re-verified: if the buffer was pre-empted mid-read the
// read position is left unchanged and ErrNotOwner is returned.
func (r *Ring) Read(buf int, p []byte) error {
	if !r.IsValid() {
		return ErrRingInvalid
	}
	r.checkSlot(buf)
	r.slotMu[buf].Lock()
	defer r.slotMu[buf].Unlock()
	m := r.meta(buf)
	if err := r.requireBuffer(m, StateReading); err != nil {
		return err
	}
	r.touch(m)
	pos := m.readPos.Load()
	if pos+uint64(len(p)) > r.hdr.bufferSize {
		return r.fault(FaultSharedMemoryRead,
			"read of %d bytes at %d exceeds buffer size %d",
			len(p), pos, r.hdr.bufferSize)
	}
	copy(p, r.payload(buf)[pos:])
	if !r.bufferIs(m, StateReading) {
		return ErrNotOwner
	}
	m.readPos.Store(pos + uint64(len(p)))
	r.touch(m)
	return nil
}

// BufferData returns the buffer's unread window (read position up to write
// position) as a direct view into shared memory. The view is only stable
// while this handle owns the buffer.
func (r *Ring) BufferData(buf int) []byte {
	if !r.IsValid() {
		return nil
	}
	r.checkSlot(buf)
	r.slotMu[buf].Lock()
	defer r.slotMu[buf].Unlock()
	m := r.meta(buf)
	return r.payload(buf)[m.readPos.Load():m.writePos.Load()]
}

// Payload returns the buffer's full raw payload as a direct view into
// shared memory. The view is only stable while this handle owns the
// buffer.
func (r *Ring) Payload(buf int) []byte {
	if !r.IsValid() {
		return nil
	}
	r.checkSlot(buf)
	return r.payload(buf)
}
