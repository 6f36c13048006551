// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package shmq

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
)

// defaultAttachTimeout bounds both the segment lookup retry loop and the
// attacher's spin on the ready marker.
const defaultAttachTimeout = time.Second

// RingConfig carries the parameters of AttachRing.
//
// A handle that passes BufferCount > 0 creates the segment when no segment
// exists for Key, becoming the creator (manager id 0). A handle that passes
// BufferCount == 0 only ever attaches, adopting the segment's parameters.
// When both the config and the segment specify geometry they must agree or
// the attach fails.
type RingConfig struct {
	// Key identifies the System V segment.
	Key uint32
	// BufferCount is the number of fixed-size slots; 0 means attach-only.
	BufferCount int
	// BufferSize is the payload byte size of each slot.
	BufferSize uint64
	// BufferTimeout is the stale-buffer reclamation timeout; 0 disables
	// reclamation.
	BufferTimeout time.Duration
	// DestructiveReadMode selects single-consumer reads: a consumed
	// buffer returns to the empty pool instead of staying full for
	// other readers.
	DestructiveReadMode bool
	// AttachTimeout bounds segment lookup and the ready-marker spin.
	// Zero selects one second.
	AttachTimeout time.Duration
	// Rank tags the segment header; informational only.
	Rank uint16
}

// Ring is a process-local handle on a shared-memory buffer ring.
//
// A Ring is safe for concurrent use by multiple goroutines, and the segment
// it attaches is safe for concurrent use by multiple processes: one search
// mutex serializes this handle's multi-slot scans, one mutex per slot
// serializes this handle's operations on that slot, and atomic CAS on the
// (owner, state) pair mediates cross-process claims.
type Ring struct {
	cfg   RingConfig
	segID int
	mem   []byte
	hdr   *ringHeader

	// id is the manager id: 0 for the creator, positive for attachers.
	id    int32
	valid atomix.Bool

	// lastSeen is this handle's sequence-id watermark: the highest
	// sequence id written or claimed through it.
	lastSeen atomix.Uint64

	searchMu sync.Mutex
	slotMu   []sync.Mutex
}

// AttachRing creates or attaches the shared-memory ring for cfg.Key and
// returns a live handle registered for signal teardown.
//
// The creator zeroes every slot, publishes the layout parameters, and
// writes the ready marker last. Attachers spin on the ready marker (up to
// cfg.AttachTimeout), then take the next manager id and adopt the
// segment's parameters. Errors wrap ErrAttachFailed.
func AttachRing(cfg RingConfig) (*Ring, error) {
	if cfg.AttachTimeout <= 0 {
		cfg.AttachTimeout = defaultAttachTimeout
	}
	r := &Ring{cfg: cfg, segID: -1, id: -1}
	if err := r.attach(); err != nil {
		return nil, err
	}
	register(r)
	return r, nil
}

func (r *Ring) attach() error {
	shmSize := segmentSize(r.cfg.BufferCount, r.cfg.BufferSize)
	deadline := time.Now().Add(r.cfg.AttachTimeout)

	segID, err := shmGet(r.cfg.Key, shmSize, false)
	if err != nil && r.cfg.BufferCount > 0 {
		slog.Debug("creating shared memory segment",
			"key", fmt.Sprintf("0x%x", r.cfg.Key), "size", shmSize)
		segID, err = shmGet(r.cfg.Key, shmSize, true)
		if err != nil {
			return fmt.Errorf("%w: shmget(create) key 0x%x: %v",
				ErrAttachFailed, r.cfg.Key, err)
		}
		r.id = 0
	} else if err != nil {
		backoff := iox.Backoff{}
		for err != nil && time.Now().Before(deadline) {
			backoff.Wait()
			segID, err = shmGet(r.cfg.Key, shmSize, false)
		}
		if err != nil {
			return fmt.Errorf("%w: shmget key 0x%x: %v (check for a stale segment with ipcs, ipcrm -m <segId>)",
				ErrAttachFailed, r.cfg.Key, err)
		}
	}
	r.segID = segID

	mem, err := shmAttach(segID)
	if err != nil {
		return fmt.Errorf("%w: shmat segment %d: %v", ErrAttachFailed, segID, err)
	}
	r.mem = mem
	r.hdr = (*ringHeader)(unsafe.Pointer(&mem[0]))

	if r.id == 0 {
		r.initializeSegment()
	} else if err := r.adoptSegment(deadline); err != nil {
		r.mem = nil
		r.hdr = nil
		_ = shmDetach(mem)
		return err
	}

	r.slotMu = make([]sync.Mutex, r.count())
	r.valid.Store(true)
	slog.Debug("attached to shared memory ring",
		"key", fmt.Sprintf("0x%x", r.cfg.Key), "manager", r.id,
		"buffers", r.count(), "buffer_size", r.hdr.bufferSize)
	return nil
}

// initializeSegment runs only on the creator: publish parameters, zero all
// slots, then write the ready marker.
func (r *Ring) initializeSegment() {
	if r.hdr.readyMagic.LoadAcquire() == ringReadyMagic {
		// A previous owner left the segment behind. Proceed anyway;
		// the operator must clean up stale rings externally.
		slog.Warn("ring owner encountered already-initialized shared memory",
			"key", fmt.Sprintf("0x%x", r.cfg.Key))
	}
	r.hdr.nextID.Store(1)
	r.hdr.nextSequenceID.Store(0)
	r.hdr.lowestSeqRead.Store(0)
	r.hdr.readerPos.Store(0)
	r.hdr.writerPos.Store(0)
	r.hdr.bufferSize = r.cfg.BufferSize
	r.hdr.bufferTimeoutUs = uint64(r.cfg.BufferTimeout.Microseconds())
	r.hdr.bufferCount = int32(r.cfg.BufferCount)
	if r.cfg.DestructiveReadMode {
		r.hdr.destructiveRead = 1
	} else {
		r.hdr.destructiveRead = 0
	}
	r.hdr.rank = r.cfg.Rank

	now := nowMicros()
	for i := 0; i < r.cfg.BufferCount; i++ {
		m := r.meta(i)
		m.sequenceID.Store(0)
		m.writePos.Store(0)
		m.readPos.Store(0)
		m.state.Store(int32(StateEmpty))
		m.owner.Store(AnyOwner)
		m.lastTouchUs.Store(now)
	}

	r.hdr.readyMagic.StoreRelease(ringReadyMagic)
}

// adoptSegment runs only on attachers: wait for the ready marker, validate
// requested geometry against the segment, take a manager id, and cache the
// segment's parameters.
func (r *Ring) adoptSegment(deadline time.Time) error {
	backoff := iox.Backoff{}
	for r.hdr.readyMagic.LoadAcquire() != ringReadyMagic {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: segment for key 0x%x never became ready",
				ErrAttachFailed, r.cfg.Key)
		}
		backoff.Wait()
	}

	if r.cfg.BufferCount > 0 &&
		(int(r.hdr.bufferCount) != r.cfg.BufferCount || r.hdr.bufferSize != r.cfg.BufferSize) {
		return fmt.Errorf("%w: segment key 0x%x has %d buffers of %d bytes, requested %d of %d",
			ErrAttachFailed, r.cfg.Key, r.hdr.bufferCount, r.hdr.bufferSize,
			r.cfg.BufferCount, r.cfg.BufferSize)
	}

	r.id = int32(r.hdr.nextID.AddAcqRel(1) - 1)
	r.hdr.lowestSeqRead.Store(0)

	r.cfg.BufferCount = int(r.hdr.bufferCount)
	r.cfg.BufferSize = r.hdr.bufferSize
	r.cfg.BufferTimeout = time.Duration(r.hdr.bufferTimeoutUs) * time.Microsecond
	r.cfg.DestructiveReadMode = r.hdr.destructiveRead != 0
	return nil
}

// IsValid reports whether the handle is attached and usable.
func (r *Ring) IsValid() bool {
	return r.valid.Load()
}

// ID returns this handle's manager id: 0 for the creator, positive for
// attachers.
func (r *Ring) ID() int32 {
	return r.id
}

// Key returns the segment key.
func (r *Ring) Key() uint32 {
	return r.cfg.Key
}

// Size returns the number of buffers in the ring.
func (r *Ring) Size() int {
	if !r.IsValid() {
		return 0
	}
	return r.count()
}

// BufferSize returns the payload byte size of each buffer.
func (r *Ring) BufferSize() uint64 {
	if !r.IsValid() {
		return 0
	}
	return r.hdr.bufferSize
}

// Rank returns the rank tag stored in the segment header.
func (r *Ring) Rank() uint16 {
	if !r.IsValid() {
		return 0
	}
	return r.hdr.rank
}

// SetRank stores the rank tag in the segment header.
func (r *Ring) SetRank(rank uint16) {
	if !r.IsValid() {
		return
	}
	r.hdr.rank = rank
}

// AttachedCount returns the number of processes currently attached to the
// segment as reported by the kernel, or 0 when that cannot be determined.
func (r *Ring) AttachedCount() int {
	if !r.IsValid() {
		return 0
	}
	desc, err := shmStat(r.segID)
	if err != nil {
		slog.Debug("shmctl(IPC_STAT) failed", "segment", r.segID, "err", err)
		return 0
	}
	return int(desc.Nattch)
}

// IsEndOfData reports whether the segment has been marked for destruction
// (or the handle is invalid): no producer will publish again.
func (r *Ring) IsEndOfData() bool {
	if !r.IsValid() {
		return true
	}
	desc, err := shmStat(r.segID)
	if err != nil {
		slog.Debug("shmctl(IPC_STAT) failed", "segment", r.segID, "err", err)
		return true
	}
	if shmMarkedForRemoval(desc) {
		slog.Info("shared memory marked for destruction; end-of-data",
			"key", fmt.Sprintf("0x%x", r.cfg.Key))
		return true
	}
	return false
}

// Detach releases the handle: owned buffers return to a safe neutral state
// (Writing slots to Empty, Reading slots to Full, owner released), the
// segment is unmapped, and - when force is set or this handle is the
// creator - the segment is marked for removal.
func (r *Ring) Detach(force bool) {
	r.detach(force || r.id == 0)
}

// Close detaches the handle (removing the segment when creator) and drops
// it from the signal-teardown registry. It always returns nil; the error
// return exists for io.Closer call sites.
func (r *Ring) Close() error {
	unregister(r)
	r.Detach(false)
	return nil
}

func (r *Ring) detach(remove bool) {
	if r.valid.Load() {
		r.valid.Store(false)
		r.releaseOwnedBuffers()
	}
	if r.mem != nil {
		if err := shmDetach(r.mem); err != nil {
			slog.Debug("shmdt failed", "segment", r.segID, "err", err)
		}
		r.mem = nil
		r.hdr = nil
	}
	if remove && r.segID >= 0 {
		if err := shmRemove(r.segID); err != nil {
			slog.Debug("shmctl(IPC_RMID) failed", "segment", r.segID, "err", err)
		}
		r.segID = -1
	}
}

// releaseOwnedBuffers returns every buffer owned by this handle to a safe
// neutral state so peers can keep running.
func (r *Ring) releaseOwnedBuffers() {
	for i := 0; i < r.count(); i++ {
		m := r.meta(i)
		if m.owner.Load() != r.id {
			continue
		}
		switch BufferState(m.state.Load()) {
		case StateWriting:
			m.state.Store(int32(StateEmpty))
		case StateReading:
			m.state.Store(int32(StateFull))
		}
		m.owner.Store(AnyOwner)
	}
}

// OwnedBuffers lists the slot indices currently owned by this handle.
func (r *Ring) OwnedBuffers() []int {
	if !r.IsValid() {
		return nil
	}
	r.searchMu.Lock()
	defer r.searchMu.Unlock()
	var owned []int
	for i := 0; i < r.count(); i++ {
		if r.meta(i).owner.Load() == r.id {
			owned = append(owned, i)
		}
	}
	return owned
}

func (r *Ring) count() int {
	return int(r.hdr.bufferCount)
}

func (r *Ring) destructive() bool {
	return r.hdr.destructiveRead != 0
}

// checkSlot validates a caller-supplied buffer index. An out-of-range
// index is a programming bug: the handle is torn down and the call panics.
func (r *Ring) checkSlot(buf int) {
	if buf < 0 || buf >= r.count() {
		unregister(r)
		r.detach(r.id == 0)
		panic(fmt.Sprintf("shmq: buffer %d does not exist", buf))
	}
}

// fault tears the handle down and returns the fatal error.
func (r *Ring) fault(cat FaultCategory, format string, args ...any) error {
	f := &RingFault{Category: cat, msg: fmt.Sprintf(format, args...)}
	slog.Error("fatal ring fault; detaching", "category", cat.String(), "detail", f.msg)
	unregister(r)
	r.detach(r.id == 0)
	return f
}

// touch stamps the slot's last-touch time. Touching is restricted to the
// current owner; reclamation relies on the timestamp being the owner's.
func (r *Ring) touch(m *bufferMeta) {
	if m.owner.Load() != r.id {
		return
	}
	m.lastTouchUs.Store(nowMicros())
}

// bufferIs is the non-strict state probe: true when the slot is in state
// want and owned by this handle (an unowned slot passes for the unowned
// states Full and Empty).
func (r *Ring) bufferIs(m *bufferMeta, want BufferState) bool {
	owner := m.owner.Load()
	if owner != r.id && !(owner == AnyOwner && (want == StateFull || want == StateEmpty)) {
		return false
	}
	return BufferState(m.state.Load()) == want
}

// requireBuffer is the strict precondition check: a mismatch is a fatal
// fault that tears the handle down.
func (r *Ring) requireBuffer(m *bufferMeta, want BufferState) error {
	if st := BufferState(m.state.Load()); st != want {
		return r.fault(FaultStateAccess,
			"buffer is in state %s, expected %s", st, want)
	}
	if owner := m.owner.Load(); owner != r.id {
		return r.fault(FaultOwnerAccess,
			"buffer owned by %d, expected %d", owner, r.id)
	}
	return nil
}
