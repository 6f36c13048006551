// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmq

import "testing"

// TestFailIfFullCountsDrops verifies the internal drop counter, which the
// FailIfFull policy never exposes through dequeue: capacity 2, three
// enqueues, one counted drop.
func TestFailIfFullCountsDrops(t *testing.T) {
	q := NewFailIfFull[string](2, 0)

	for _, s := range []string{"a", "b"} {
		if err := q.EnqueueNowait(&s); err != nil {
			t.Fatalf("EnqueueNowait(%q): %v", s, err)
		}
	}
	s := "c"
	if err := q.EnqueueNowait(&s); err == nil {
		t.Fatal("EnqueueNowait on full: got nil error")
	}

	q.mu.Lock()
	dropped := q.dropped
	q.mu.Unlock()
	if dropped != 1 {
		t.Fatalf("drop counter: got %d, want 1", dropped)
	}

	// Dequeues must not consume the counter for this policy.
	q.DequeueNowait()
	q.mu.Lock()
	dropped = q.dropped
	q.mu.Unlock()
	if dropped != 1 {
		t.Fatalf("drop counter after dequeue: got %d, want 1", dropped)
	}
}

// TestFootprintFallback verifies that element types without a Footprint
// method are costed at their fixed in-memory size.
func TestFootprintFallback(t *testing.T) {
	q := NewFailIfFull[uint64](0, 0)
	v := uint64(1)
	if err := q.EnqueueNowait(&v); err != nil {
		t.Fatalf("EnqueueNowait: %v", err)
	}
	if q.Used() != 8 {
		t.Fatalf("Used: got %d, want 8 (sizeof uint64)", q.Used())
	}
}
