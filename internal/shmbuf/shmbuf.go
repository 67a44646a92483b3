// Package shmbuf maps pages shared with the engine through the
// connection's device fd. It is deliberately minimal: it knows nothing
// about size classes or lease/release discipline (internal/bufpool
// layers that on top) and nothing about outstanding references (neither
// this package nor the ring transport tracks them).
package shmbuf

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Buffer is a page-backed region shared with the engine via mmap of the
// connection's device fd.
type Buffer struct {
	Ptr unsafe.Pointer
	Len int

	data []byte // the slice backing Ptr, kept so Munmap can be called on it
}

// Allocate maps size bytes of fd shared read-write. The offset is always
// zero: per the device protocol, the engine multiplexes mmap requests by
// size rather than offset, handing back a fresh region each call.
func Allocate(fd int, size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shmbuf: size must be positive, got %d", size)
	}
	pageSize := os.Getpagesize()
	mapLen := size
	if rem := mapLen % pageSize; rem != 0 {
		mapLen += pageSize - rem
	}

	data, err := unix.Mmap(fd, 0, mapLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shmbuf: mmap failed: %w", err)
	}

	return &Buffer{
		Ptr:  unsafe.Pointer(&data[0]),
		Len:  size,
		data: data,
	}, nil
}

// Bytes returns a slice view of the buffer for direct reads/writes.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.Len]
}

// Free unmaps the buffer. The caller must ensure no in-flight request
// still borrows it; nothing in this package or the ring transport
// checks for that.
func (b *Buffer) Free() error {
	if b.data == nil {
		return nil
	}
	err := unix.Munmap(b.data)
	b.data = nil
	b.Ptr = nil
	if err != nil {
		return fmt.Errorf("shmbuf: munmap failed: %w", err)
	}
	return nil
}
