package shmem

import (
	"sort"
	"sync"

	"github.com/vmremote/winapi/errors"
	"github.com/vmremote/winapi/models"
)

// Arena hands out page-aligned ranges of a shared data region. The guest
// side of the channel transport stages bulk payloads here and describes them
// to the host by offset, so a descriptor always references a contiguous
// range of the mapped segment.
type Arena struct {
	mu   sync.Mutex
	mem  []byte
	free []extent // sorted by offset, coalesced
}

type extent struct {
	off  int
	size int
}

func NewArena(mem []byte) *Arena {
	return &Arena{
		mem:  mem,
		free: []extent{{off: 0, size: len(mem)}},
	}
}

// Alloc reserves a range of at least size bytes, rounded up to page
// granularity, and returns its offset within the region.
func (a *Arena) Alloc(size int) (off int, view *View, err error) {
	if size <= 0 {
		return 0, nil, errors.ErrInvalidParameters
	}
	need := (size + models.PageSize - 1) &^ (models.PageSize - 1)

	a.mu.Lock()
	defer a.mu.Unlock()

	for i, e := range a.free {
		if e.size < need {
			continue
		}
		off = e.off
		if e.size == need {
			a.free = append(a.free[:i], a.free[i+1:]...)
		} else {
			a.free[i] = extent{off: e.off + need, size: e.size - need}
		}
		return off, NewView(a.mem[off : off+size]), nil
	}
	return 0, nil, errors.ErrBufferTooLarge
}

// Free returns a previously allocated range. The size must match the
// original request.
func (a *Arena) Free(off, size int) {
	need := (size + models.PageSize - 1) &^ (models.PageSize - 1)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.free = append(a.free, extent{off: off, size: need})
	sort.Slice(a.free, func(i, j int) bool { return a.free[i].off < a.free[j].off })

	merged := a.free[:1]
	for _, e := range a.free[1:] {
		last := &merged[len(merged)-1]
		if last.off+last.size == e.off {
			last.size += e.size
		} else {
			merged = append(merged, e)
		}
	}
	a.free = merged
}

// ViewAt resolves a descriptor's offset+size into a bounds-checked view.
// Used by the consumer side when mapping a described range.
func (a *Arena) ViewAt(off uint64, size uint32) (*View, error) {
	end := off + uint64(size)
	if size == 0 || end > uint64(len(a.mem)) {
		return nil, errors.ErrInvalidParameters
	}
	return NewView(a.mem[off:end]), nil
}
