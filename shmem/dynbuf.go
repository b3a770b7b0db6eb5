package shmem

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/vmremote/winapi/errors"
)

var dynBufCounter atomic.Uint64

// DynBufName builds the unique backing file name for a dynamic shared
// buffer. The per-process counter and pid keep concurrent allocations from
// colliding on the shared temp directory.
func DynBufName(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("winapi_shared_buffer_%d_%d", id, os.Getpid()))
}

// DynBuffer is a caller-managed, arbitrarily sized shared buffer backed by a
// uniquely named file. The allocator is the only owner: Release is the sole
// path that deletes the backing file. A crash before Release leaks the file;
// the consumer never retries or cleans up on the caller's behalf.
type DynBuffer struct {
	path string
	size uint64
	file *os.File
	mem  []byte
}

// AllocDynBuffer creates, sizes, and maps a new dynamic shared buffer in dir
// (the base temp directory of the deployment).
func AllocDynBuffer(dir string, size uint64) (*DynBuffer, error) {
	if size == 0 {
		return nil, errors.ErrInvalidParameters
	}
	path := DynBufName(dir, dynBufCounter.Add(1))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Wrap(errors.ErrMemoryMapFailed, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, errors.Wrap(errors.ErrMemoryMapFailed, err)
	}
	mem, err := MapFile(f, int(size))
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return &DynBuffer{path: path, size: size, file: f, mem: mem}, nil
}

func (d *DynBuffer) Path() string {
	return d.path
}

func (d *DynBuffer) Size() uint64 {
	return d.size
}

// View returns the caller's window over the whole buffer.
func (d *DynBuffer) View() *View {
	return NewView(d.mem)
}

// Release unmaps, closes, and deletes the backing file. The buffer is
// unusable afterwards.
func (d *DynBuffer) Release() error {
	if d.mem == nil {
		return errors.ErrBufferReleased
	}
	err := Unmap(d.mem)
	d.mem = nil
	if cerr := d.file.Close(); err == nil {
		err = cerr
	}
	if rerr := os.Remove(d.path); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// MappedBuffer is the consumer side of a dynamic shared buffer: a mapping of
// someone else's backing file, held for the duration of one call only.
type MappedBuffer struct {
	file *os.File
	mem  []byte
}

// MapNamed opens and maps an existing backing file by its consumer-native
// name; callers translate peer path syntax first (TranslatePath). The
// consumer must Unmap before the call returns, on every path including
// failure.
func MapNamed(path string, size uint64) (*MappedBuffer, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(errors.ErrMemoryMapFailed, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(errors.ErrMemoryMapFailed, err)
	}
	if size == 0 || uint64(info.Size()) < size {
		f.Close()
		return nil, errors.ErrInvalidParameters
	}
	mem, err := MapFile(f, int(size))
	if err != nil {
		f.Close()
		return nil, err
	}
	return &MappedBuffer{file: f, mem: mem}, nil
}

func (m *MappedBuffer) View() *View {
	return NewView(m.mem)
}

// Unmap releases the mapping and the file handle. It never deletes the
// backing file; deletion belongs to the producer.
func (m *MappedBuffer) Unmap() error {
	if m.mem == nil {
		return nil
	}
	err := Unmap(m.mem)
	m.mem = nil
	if cerr := m.file.Close(); err == nil {
		err = cerr
	}
	return err
}
