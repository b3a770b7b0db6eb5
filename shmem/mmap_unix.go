//go:build linux || darwin

package shmem

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/vmremote/winapi/errors"
)

// MapFile maps size bytes of f shared and writable.
func MapFile(f *os.File, size int) ([]byte, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrap(errors.ErrMemoryMapFailed, err)
	}
	return data, nil
}

// Unmap releases a mapping produced by MapFile or mapAnon.
func Unmap(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := unix.Munmap(data); err != nil {
		return errors.Wrap(errors.ErrMemoryMapFailed, err)
	}
	return nil
}

// mapAnon allocates page-aligned private memory outside the Go heap, the
// closest analogue of pinned pages for caller-owned buffers.
func mapAnon(size int) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrap(errors.ErrMemoryMapFailed, err)
	}
	return data, nil
}
