// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package shmq

import "golang.org/x/sys/unix"

// shmDest is the shm_perm mode bit the kernel sets on a segment after
// IPC_RMID, while attachers keep it alive.
const shmDest = 0o1000

// shmGet looks up (or, with create set, creates) the System V segment for
// key and returns its id.
func shmGet(key uint32, size int, create bool) (int, error) {
	flag := 0o666
	if create {
		flag |= unix.IPC_CREAT
	}
	return unix.SysvShmGet(int(int32(key)), size, flag)
}

// shmAttach maps the segment into this process.
func shmAttach(id int) ([]byte, error) {
	return unix.SysvShmAttach(id, 0, 0)
}

// shmDetach unmaps a previously attached segment.
func shmDetach(mem []byte) error {
	return unix.SysvShmDetach(mem)
}

// shmRemove marks the segment for destruction; the kernel reclaims it once
// the last attacher detaches.
func shmRemove(id int) error {
	_, err := unix.SysvShmCtl(id, unix.IPC_RMID, nil)
	return err
}

// shmStat fetches the segment's kernel bookkeeping.
func shmStat(id int) (*unix.SysvShmDesc, error) {
	var desc unix.SysvShmDesc
	if _, err := unix.SysvShmCtl(id, unix.IPC_STAT, &desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

// shmMarkedForRemoval reports whether IPC_RMID has been issued on the
// segment: the end-of-data condition for attached readers.
func shmMarkedForRemoval(desc *unix.SysvShmDesc) bool {
	return desc.Perm.Mode&shmDest != 0
}
