// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package shmq

import (
	"time"
	"unsafe"

	"code.hybscloud.com/atomix"
)

// ringReadyMagic is published to the header only after the creator has
// fully initialized the segment. Attachers spin on it before reading any
// layout parameter.
const ringReadyMagic uint64 = 0xCAFE1111

// ringHeader is the segment header, overlaid on the first bytes of the
// shared-memory segment. The layout is fixed; handles attaching against a
// segment with mismatched parameters fail.
//
// Fields are ordered so every atomic is naturally aligned at any
// page-aligned segment base: the 64-bit fields lead, the narrower fields
// follow, and the 64-bit ready marker comes last.
type ringHeader struct {
	nextID          atomix.Int64  // next manager id to hand out
	nextSequenceID  atomix.Uint64 // last sequence id assigned
	lowestSeqRead   atomix.Uint64 // lowest sequence id observed by destructive readers
	bufferSize      uint64
	bufferTimeoutUs uint64 // stale timeout; 0 disables reclamation
	readerPos       atomix.Int32
	writerPos       atomix.Int32
	bufferCount     int32
	destructiveRead uint8
	_               uint8
	rank            uint16
	readyMagic      atomix.Uint64
}

// bufferMeta is the per-slot bookkeeping record, overlaid right after the
// header, one per buffer. The (state, owner) pair is the cross-process
// claim token: CAS is the only multi-handle mutation; plain stores are
// legal only from the unique owner after a claim.
//
// The position and touch fields are 64-bit atomics rather than the plain
// scalars the claim protocol would strictly need: peers read them while
// the owner advances them, and a torn or detector-visible read would be
// indistinguishable from corruption.
type bufferMeta struct {
	sequenceID  atomix.Uint64
	writePos    atomix.Uint64
	readPos     atomix.Uint64
	lastTouchUs atomix.Int64
	state       atomix.Int32
	owner       atomix.Int32
}

const (
	headerSize = unsafe.Sizeof(ringHeader{})
	metaSize   = unsafe.Sizeof(bufferMeta{})
)

// segmentSize returns the byte size of a segment holding count buffers of
// size bytes each.
func segmentSize(count int, size uint64) int {
	return int(headerSize) + count*(int(metaSize)+int(size))
}

// meta returns the overlay of slot buf's bookkeeping record.
func (r *Ring) meta(buf int) *bufferMeta {
	return (*bufferMeta)(unsafe.Pointer(&r.mem[int(headerSize)+buf*int(metaSize)]))
}

// payload returns the full raw payload slice of slot buf.
func (r *Ring) payload(buf int) []byte {
	base := int(headerSize) + r.count()*int(metaSize)
	off := base + buf*int(r.hdr.bufferSize)
	return r.mem[off : off+int(r.hdr.bufferSize)]
}

// nowMicros is the touch-timestamp clock.
func nowMicros() int64 {
	return time.Now().UnixMicro()
}
