// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package shmq

import (
	"os"
	"testing"
	"time"
	"unsafe"

	"code.hybscloud.com/atomix"
)

var internalKeySeq atomix.Uint64

func internalTestKey() uint32 {
	n := internalKeySeq.Add(1)
	return 0x534A0000 | uint32(os.Getpid()&0xFF)<<8 | uint32(n&0xFF)
}

func internalTestRing(t *testing.T, cfg RingConfig) *Ring {
	t.Helper()
	r, err := AttachRing(cfg)
	if err != nil {
		t.Skipf("shared memory unavailable: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

// TestLayoutAlignment verifies that both overlay struct sizes are multiples
// of 8 and that the leading 64-bit atomic fields of each struct sit on
// 8-byte-aligned offsets.
func TestLayoutAlignment(t *testing.T) {
	if headerSize%8 != 0 {
		t.Fatalf("header size %d is not a multiple of 8", headerSize)
	}
	if metaSize%8 != 0 {
		t.Fatalf("meta size %d is not a multiple of 8", metaSize)
	}
	var h ringHeader
	for name, off := range map[string]uintptr{
		"nextID":         unsafe.Offsetof(h.nextID),
		"nextSequenceID": unsafe.Offsetof(h.nextSequenceID),
		"lowestSeqRead":  unsafe.Offsetof(h.lowestSeqRead),
	} {
		if off%8 != 0 {
			t.Fatalf("header field %s at offset %d, want 8-byte alignment", name, off)
		}
	}
	var m bufferMeta
	for name, off := range map[string]uintptr{
		"sequenceID":  unsafe.Offsetof(m.sequenceID),
		"writePos":    unsafe.Offsetof(m.writePos),
		"readPos":     unsafe.Offsetof(m.readPos),
		"lastTouchUs": unsafe.Offsetof(m.lastTouchUs),
	} {
		if off%8 != 0 {
			t.Fatalf("meta field %s at offset %d, want 8-byte alignment", name, off)
		}
	}
}

// TestSequenceIDsMonotonic verifies that sequence ids assigned across two
// writer handles are strictly monotonic, in claim order.
func TestSequenceIDsMonotonic(t *testing.T) {
	key := internalTestKey()
	w1 := internalTestRing(t, RingConfig{
		Key: key, BufferCount: 8, BufferSize: 32,
		DestructiveReadMode: true,
	})
	w2, err := AttachRing(RingConfig{Key: key})
	if err != nil {
		t.Fatalf("AttachRing: %v", err)
	}
	t.Cleanup(func() { w2.Close() })

	writers := []*Ring{w1, w2, w2, w1, w1, w2, w1, w2}
	var lastSeq uint64
	for i, w := range writers {
		buf := w.GetBufferForWriting(false)
		if buf < 0 {
			t.Fatalf("claim %d: no buffer", i)
		}
		seq := w.meta(buf).sequenceID.Load()
		if seq != lastSeq+1 {
			t.Fatalf("claim %d: sequence %d, want %d", i, seq, lastSeq+1)
		}
		lastSeq = seq
	}
}

// TestLowestSeqReadAdvances verifies the destructive-mode watermark: after
// a single consumer drains four published buffers, lowest_seq_id_read has
// followed it to the last sequence id and never decreased on the way.
func TestLowestSeqReadAdvances(t *testing.T) {
	key := internalTestKey()
	producer := internalTestRing(t, RingConfig{
		Key: key, BufferCount: 4, BufferSize: 64,
		DestructiveReadMode: true,
	})
	consumer, err := AttachRing(RingConfig{Key: key})
	if err != nil {
		t.Fatalf("AttachRing: %v", err)
	}
	t.Cleanup(func() { consumer.Close() })

	for i := range 4 {
		buf := producer.GetBufferForWriting(false)
		if _, err := producer.Write(buf, []byte{byte(i)}); err != nil {
			t.Fatalf("Write: %v", err)
		}
		producer.MarkFull(buf, AnyOwner)
	}

	var prev uint64
	for i := range 4 {
		buf := consumer.GetBufferForReading()
		if buf < 0 {
			t.Fatalf("claim %d: no buffer", i)
		}
		low := consumer.hdr.lowestSeqRead.Load()
		if low < prev {
			t.Fatalf("lowest_seq_id_read decreased: %d -> %d", prev, low)
		}
		if low > consumer.lastSeen.Load() {
			t.Fatalf("lowest_seq_id_read %d exceeds consumer watermark %d",
				low, consumer.lastSeen.Load())
		}
		prev = low
		if err := consumer.MarkEmpty(buf, false); err != nil {
			t.Fatalf("MarkEmpty: %v", err)
		}
	}
	if low := consumer.hdr.lowestSeqRead.Load(); low != 4 {
		t.Fatalf("final lowest_seq_id_read: got %d, want 4", low)
	}
}

// TestWriterWatermark verifies that Write advances the producer's own
// watermark so broadcast scans skip its output.
func TestWriterWatermark(t *testing.T) {
	r := internalTestRing(t, RingConfig{
		Key: internalTestKey(), BufferCount: 2, BufferSize: 32,
		DestructiveReadMode: false,
	})
	buf := r.GetBufferForWriting(false)
	if _, err := r.Write(buf, []byte("own")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	r.MarkFull(buf, AnyOwner)
	if r.lastSeen.Load() != 1 {
		t.Fatalf("writer watermark: got %d, want 1", r.lastSeen.Load())
	}
	if got := r.GetBufferForReading(); got != -1 {
		t.Fatalf("producer claimed its own broadcast output: got %d", got)
	}
}

// TestStaleBroadcastCreatorReclaim verifies the aggressive creator rule: a
// stale Full broadcast buffer is reset by the creator's scan even when no
// reader has passed it.
func TestStaleBroadcastCreatorReclaim(t *testing.T) {
	key := internalTestKey()
	creator := internalTestRing(t, RingConfig{
		Key: key, BufferCount: 2, BufferSize: 32,
		BufferTimeout: 30 * time.Millisecond, DestructiveReadMode: false,
	})
	producer, err := AttachRing(RingConfig{Key: key})
	if err != nil {
		t.Fatalf("AttachRing: %v", err)
	}
	t.Cleanup(func() { producer.Close() })

	buf := producer.GetBufferForWriting(false)
	if _, err := producer.Write(buf, []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	producer.MarkFull(buf, AnyOwner)

	time.Sleep(80 * time.Millisecond)

	// The creator's write scan reclaims the stale Full buffer in passing.
	if n := creator.WriteReadyCount(false); n != 2 {
		t.Fatalf("WriteReadyCount after creator reclaim: got %d, want 2", n)
	}
	m := creator.meta(buf)
	if BufferState(m.state.Load()) != StateEmpty || m.owner.Load() != AnyOwner {
		t.Fatalf("stale broadcast buffer: state=%s owner=%d, want Empty/-1",
			BufferState(m.state.Load()), m.owner.Load())
	}
}
