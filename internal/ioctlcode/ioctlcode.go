// Package ioctlcode builds Linux ioctl request codes and issues ioctl
// syscalls against an open file descriptor.
//
// Linux packs an ioctl request code as direction|type|nr|size bitfields.
// Both ioctls this project needs - the btrfs same-extent ioctl and
// FIEMAP - are "read-write" (the caller fills in part of the argument
// struct and the kernel fills in the rest), so IOWR is the only
// constructor exposed.
package ioctlcode

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	nrBits   = 8
	typeBits = 8
	sizeBits = 14

	nrShift   = 0
	typeShift = nrShift + nrBits
	sizeShift = typeShift + typeBits
	dirShift  = sizeShift + sizeBits

	dirRead  = 2
	dirWrite = 1
)

// IOWR builds a read-write ioctl request code from a type ("magic")
// character, a sequence number, and the size of the argument struct.
func IOWR(magic byte, nr uint, size uintptr) uintptr {
	dir := uintptr(dirRead | dirWrite)
	return dir<<dirShift | uintptr(magic)<<typeShift | uintptr(nr)<<nrShift | size<<sizeShift
}

// Do issues an ioctl against fd with request code req, passing arg as the
// pointer argument. arg must point into a buffer laid out exactly as the
// kernel expects (see the dedup and fiemap packages' contiguous buffer
// types) - there is no type safety past this point.
func Do(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
