// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package shmq

import (
	"fmt"
	"strings"
)

// String serializes the segment header and every buffer's bookkeeping for
// diagnostics.
func (r *Ring) String() string {
	if !r.IsValid() {
		return "Ring: detached\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Ring 0x%x:\n", r.cfg.Key)
	fmt.Fprintf(&b, "Reader Position: %d\n", r.hdr.readerPos.Load())
	fmt.Fprintf(&b, "Writer Position: %d\n", r.hdr.writerPos.Load())
	fmt.Fprintf(&b, "Next ID Number: %d\n", r.hdr.nextID.Load())
	fmt.Fprintf(&b, "Buffer Count: %d\n", r.hdr.bufferCount)
	fmt.Fprintf(&b, "Buffer Size: %d bytes\n", r.hdr.bufferSize)
	fmt.Fprintf(&b, "Buffers Written: %d\n", r.hdr.nextSequenceID.Load())
	fmt.Fprintf(&b, "Lowest Sequence ID Read: %d\n", r.hdr.lowestSeqRead.Load())
	fmt.Fprintf(&b, "Rank of Writer: %d\n", r.hdr.rank)
	fmt.Fprintf(&b, "Ready Magic Bytes: 0x%x\n\n", r.hdr.readyMagic.Load())

	for i := 0; i < r.count(); i++ {
		m := r.meta(i)
		fmt.Fprintf(&b, "Buffer %d\n", i)
		fmt.Fprintf(&b, "sequenceID: %d\n", m.sequenceID.Load())
		fmt.Fprintf(&b, "writePos: %d\n", m.writePos.Load())
		fmt.Fprintf(&b, "readPos: %d\n", m.readPos.Load())
		fmt.Fprintf(&b, "state: %s\n", BufferState(m.state.Load()))
		fmt.Fprintf(&b, "Owner: %d\n", m.owner.Load())
		fmt.Fprintf(&b, "Last Touch Time: %.6f\n\n",
			float64(m.lastTouchUs.Load())/1e6)
	}
	return b.String()
}

// BufferReport returns the (owner, state) pair of every slot at scan time.
func (r *Ring) BufferReport() []BufferStatus {
	if !r.IsValid() {
		return nil
	}
	report := make([]BufferStatus, r.count())
	for i := range report {
		m := r.meta(i)
		report[i] = BufferStatus{
			Owner: m.owner.Load(),
			State: BufferState(m.state.Load()),
		}
	}
	return report
}
