// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mbox

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// The mailbox driver registers itself as major 100 and implements a
// single _IOWR(100, 0, char *) ioctl taking the property buffer.
const (
	videocoreMajor = 100

	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocWrite = 1
	iocRead  = 2
)

func iowr(typ, nr, size uint32) uint32 {
	return (iocRead|iocWrite)<<iocDirShift |
		typ<<iocTypeShift |
		nr<<iocNrShift |
		size<<iocSizeShift
}

func mboxPropertyIoctl() uint32 {
	return iowr(videocoreMajor, 0, uint32(unsafe.Sizeof(uintptr(0))))
}

func ioctlPropertyBuffer(fd uintptr, buf []uint32) error {
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		fd,
		uintptr(mboxPropertyIoctl()),
		uintptr(unsafe.Pointer(&buf[0])),
	)
	if errno != 0 {
		return errno
	}
	return nil
}
