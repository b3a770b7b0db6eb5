package shmem

import (
	"github.com/vmremote/winapi/errors"
	"github.com/vmremote/winapi/models"
)

// Buffer is a caller-owned, page-aligned allocation used as the payload of
// an API call. It stays valid until the caller frees it; calls copy into and
// out of it but never retain it.
type Buffer struct {
	data []byte
	size int
}

// AllocBuffer rounds size up to a whole number of pages and maps anonymous
// page-aligned memory for it.
func AllocBuffer(size int) (*Buffer, error) {
	if size <= 0 || uint32(size) > models.MaxBufferSize {
		return nil, errors.ErrBufferTooLarge
	}
	aligned := (size + models.PageSize - 1) &^ (models.PageSize - 1)
	data, err := mapAnon(aligned)
	if err != nil {
		return nil, err
	}
	return &Buffer{data: data, size: size}, nil
}

// Size returns the requested (not page-rounded) size.
func (b *Buffer) Size() int {
	return b.size
}

// Bytes returns the usable range of the buffer.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.size]
}

func (b *Buffer) View() *View {
	return NewView(b.Bytes())
}

// Free releases the pages. Using the buffer afterwards is an error.
func (b *Buffer) Free() error {
	if b.data == nil {
		return errors.ErrBufferReleased
	}
	err := Unmap(b.data)
	b.data = nil
	return err
}
