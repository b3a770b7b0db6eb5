package shmem

import (
	"github.com/vmremote/winapi/errors"
)

// View is a bounds-checked window over a byte range, mapped or heap-backed.
// Handlers only ever touch buffers through a View, so an out-of-range access
// is an ordinary error instead of a fault near a region boundary.
type View struct {
	b []byte
}

func NewView(b []byte) *View {
	return &View{b: b}
}

func (v *View) Len() int {
	return len(v.b)
}

// Slice returns a sub-view of [off, off+size).
func (v *View) Slice(off, size int) (*View, error) {
	if off < 0 || size < 0 || off+size > len(v.b) {
		return nil, errors.ErrInvalidParameters
	}
	return &View{b: v.b[off : off+size]}, nil
}

func (v *View) ReadAt(dst []byte, off int) error {
	if off < 0 || off+len(dst) > len(v.b) {
		return errors.ErrInvalidParameters
	}
	copy(dst, v.b[off:])
	return nil
}

func (v *View) WriteAt(src []byte, off int) error {
	if off < 0 || off+len(src) > len(v.b) {
		return errors.ErrInvalidParameters
	}
	copy(v.b[off:], src)
	return nil
}

// Fill stamps every byte of the view with b.
func (v *View) Fill(b byte) {
	for i := range v.b {
		v.b[i] = b
	}
}

// Verify reports whether every byte of the view equals b.
func (v *View) Verify(b byte) bool {
	for i := range v.b {
		if v.b[i] != b {
			return false
		}
	}
	return true
}

// Checksum is the canonical checksum of the protocol: the wrapping sum of
// all bytes as an unsigned 32-bit value.
func (v *View) Checksum() uint32 {
	var sum uint32
	for _, b := range v.b {
		sum += uint32(b)
	}
	return sum
}

// Bytes exposes the underlying range. Callers that need raw access (bulk
// copies between transport and user buffers) use this; handlers do not.
func (v *View) Bytes() []byte {
	return v.b
}
