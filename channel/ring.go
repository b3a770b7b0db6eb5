package channel

import (
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/vmremote/winapi/errors"
)

// Ring is a single-producer single-consumer ring of fixed-size message
// slots living inside the mapped segment. Indices are monotonic; the slot a
// message occupies is index modulo the slot count. The producer publishes by
// storing the write index after the slot copy; the consumer releases by
// storing the read index after copying out. Waiting is bounded sleep-polling
// so the reader side never services the ring from a blocking context.
type Ring struct {
	mem   []byte
	hdr   int // header offset within mem
	data  int // first slot offset
	slots int
}

// Ring header layout (64 bytes reserved).
const (
	ringOffWidx   = 0
	ringOffRidx   = 8
	ringOffClosed = 16
)

const pollInterval = 50 * time.Microsecond

func newRing(mem []byte, off, slots int) *Ring {
	return &Ring{
		mem:   mem,
		hdr:   off,
		data:  off + ringHdrSize,
		slots: slots,
	}
}

func (r *Ring) init() {
	atomic.StoreUint64(r.u64(ringOffWidx), 0)
	atomic.StoreUint64(r.u64(ringOffRidx), 0)
	atomic.StoreUint32(r.u32(ringOffClosed), 0)
}

func (r *Ring) u64(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&r.mem[r.hdr+off]))
}

func (r *Ring) u32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.mem[r.hdr+off]))
}

func (r *Ring) close() {
	atomic.StoreUint32(r.u32(ringOffClosed), 1)
}

func (r *Ring) closed() bool {
	return atomic.LoadUint32(r.u32(ringOffClosed)) != 0
}

func (r *Ring) slot(idx uint64) []byte {
	off := r.data + int(idx%uint64(r.slots))*SlotSize
	return r.mem[off : off+SlotSize]
}

// Write copies one slot-sized message into the ring, blocking while the
// ring is full. deadline zero means wait indefinitely (until closed).
func (r *Ring) Write(msg []byte, deadline time.Time) error {
	if len(msg) != SlotSize {
		return errors.ErrInvalidParameters
	}
	for {
		if r.closed() {
			return errors.ErrChannelClosed
		}
		widx := atomic.LoadUint64(r.u64(ringOffWidx))
		ridx := atomic.LoadUint64(r.u64(ringOffRidx))
		if widx-ridx < uint64(r.slots) {
			copy(r.slot(widx), msg)
			atomic.StoreUint64(r.u64(ringOffWidx), widx+1)
			return nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return errors.ErrTimeout
		}
		time.Sleep(pollInterval)
	}
}

// Read copies the next message out of the ring into dst (slot-sized),
// blocking while the ring is empty. stop aborts the wait.
func (r *Ring) Read(dst []byte, stop <-chan struct{}) error {
	if len(dst) != SlotSize {
		return errors.ErrInvalidParameters
	}
	for {
		widx := atomic.LoadUint64(r.u64(ringOffWidx))
		ridx := atomic.LoadUint64(r.u64(ringOffRidx))
		if ridx < widx {
			copy(dst, r.slot(ridx))
			atomic.StoreUint64(r.u64(ringOffRidx), ridx+1)
			return nil
		}
		if r.closed() {
			return errors.ErrChannelClosed
		}
		select {
		case <-stop:
			return errors.ErrChannelClosed
		default:
		}
		time.Sleep(pollInterval)
	}
}
