// Package channel implements the channel transport: a file-backed segment
// holding one fixed-slot ring per direction for control messages and a data
// region for bulk payloads. The segment name is derived from a well-known
// channel identifier; opening it and validating the header is the channel
// handshake.
package channel

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"

	"github.com/vmremote/winapi/errors"
	"github.com/vmremote/winapi/models"
	"github.com/vmremote/winapi/shmem"
)

const (
	// SegmentMagic is "WINC".
	SegmentMagic   = uint32(0x57494E43)
	SegmentVersion = uint32(1)

	segHeaderSize = 128
	ringHdrSize   = 64

	// SlotSize is one control message; the rings move whole slots.
	SlotSize = models.MessageSize

	DefaultRingSlots = 64
	DefaultDataSize  = 32 * 1024 * 1024

	// DefaultChannelID is the well-known channel identifier both sides
	// agree on out of band.
	DefaultChannelID = "6ac83d8f-6e16-4e5c-ab3d-fd8c5a4b7e21"
)

// SegmentPath maps a channel identifier to its backing file, preferring
// /dev/shm when present.
func SegmentPath(id string) string {
	name := "winapi_channel_" + id
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return filepath.Join("/dev/shm", name)
	}
	return filepath.Join(os.TempDir(), name)
}

// Header field offsets within the segment.
const (
	offMagic      = 0
	offVersion    = 4
	offG2HOff     = 8
	offG2HSlots   = 16
	offH2GOff     = 24
	offH2GSlots   = 32
	offDataOff    = 40
	offDataSize   = 48
	offHostPID    = 56
	offGuestPID   = 60
	offHostReady  = 64
	offGuestReady = 68
	offClosed     = 72
)

// Segment is one mapped channel. The host creates it; the guest opens it.
type Segment struct {
	file    *os.File
	mem     []byte
	path    string
	created bool

	g2h  *Ring
	h2g  *Ring
	data []byte
}

func alignPage(n int) int {
	return (n + models.PageSize - 1) &^ (models.PageSize - 1)
}

// CreateSegment builds a new channel segment and marks the host side ready.
func CreateSegment(id string, ringSlots, dataSize int) (*Segment, error) {
	if ringSlots <= 0 {
		ringSlots = DefaultRingSlots
	}
	if dataSize <= 0 {
		dataSize = DefaultDataSize
	}
	path := SegmentPath(id)

	ringBytes := alignPage(ringHdrSize + ringSlots*SlotSize)
	g2hOff := alignPage(segHeaderSize)
	h2gOff := g2hOff + ringBytes
	dataOff := h2gOff + ringBytes
	total := dataOff + alignPage(dataSize)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, errors.Wrap(errors.ErrTransport, err)
	}
	if err := f.Truncate(int64(total)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, errors.Wrap(errors.ErrTransport, err)
	}
	mem, err := shmem.MapFile(f, total)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	binary.LittleEndian.PutUint32(mem[offMagic:], SegmentMagic)
	binary.LittleEndian.PutUint32(mem[offVersion:], SegmentVersion)
	binary.LittleEndian.PutUint64(mem[offG2HOff:], uint64(g2hOff))
	binary.LittleEndian.PutUint64(mem[offG2HSlots:], uint64(ringSlots))
	binary.LittleEndian.PutUint64(mem[offH2GOff:], uint64(h2gOff))
	binary.LittleEndian.PutUint64(mem[offH2GSlots:], uint64(ringSlots))
	binary.LittleEndian.PutUint64(mem[offDataOff:], uint64(dataOff))
	binary.LittleEndian.PutUint64(mem[offDataSize:], uint64(dataSize))
	binary.LittleEndian.PutUint32(mem[offHostPID:], uint32(os.Getpid()))

	s := &Segment{file: f, mem: mem, path: path, created: true}
	s.g2h = newRing(mem, g2hOff, ringSlots)
	s.h2g = newRing(mem, h2gOff, ringSlots)
	s.g2h.init()
	s.h2g.init()
	s.data = mem[dataOff : dataOff+dataSize]

	atomic.StoreUint32(s.flag(offHostReady), 1)
	return s, nil
}

// OpenSegment performs the guest-side handshake: map the well-known file,
// validate the header once, require the host to be ready, then announce
// ourselves.
func OpenSegment(id string) (*Segment, error) {
	path := SegmentPath(id)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(errors.ErrTransport, err)
	}
	info, err := f.Stat()
	if err != nil || info.Size() < segHeaderSize {
		f.Close()
		return nil, errors.ErrTransport
	}
	mem, err := shmem.MapFile(f, int(info.Size()))
	if err != nil {
		f.Close()
		return nil, err
	}

	cleanup := func(e error) (*Segment, error) {
		shmem.Unmap(mem)
		f.Close()
		return nil, e
	}

	if binary.LittleEndian.Uint32(mem[offMagic:]) != SegmentMagic ||
		binary.LittleEndian.Uint32(mem[offVersion:]) != SegmentVersion {
		return cleanup(errors.ErrMalformedMessage)
	}
	g2hOff := binary.LittleEndian.Uint64(mem[offG2HOff:])
	g2hSlots := binary.LittleEndian.Uint64(mem[offG2HSlots:])
	h2gOff := binary.LittleEndian.Uint64(mem[offH2GOff:])
	h2gSlots := binary.LittleEndian.Uint64(mem[offH2GSlots:])
	dataOff := binary.LittleEndian.Uint64(mem[offDataOff:])
	dataSize := binary.LittleEndian.Uint64(mem[offDataSize:])

	size := uint64(len(mem))
	if g2hOff+uint64(ringHdrSize)+g2hSlots*SlotSize > size ||
		h2gOff+uint64(ringHdrSize)+h2gSlots*SlotSize > size ||
		dataOff+dataSize > size {
		return cleanup(errors.ErrMalformedMessage)
	}

	s := &Segment{file: f, mem: mem, path: path}
	if atomic.LoadUint32(s.flag(offHostReady)) != 1 {
		return cleanup(errors.ErrTransport)
	}

	s.g2h = newRing(mem, int(g2hOff), int(g2hSlots))
	s.h2g = newRing(mem, int(h2gOff), int(h2gSlots))
	s.data = mem[dataOff : dataOff+dataSize]

	binary.LittleEndian.PutUint32(mem[offGuestPID:], uint32(os.Getpid()))
	atomic.StoreUint32(s.flag(offGuestReady), 1)
	return s, nil
}

func (s *Segment) flag(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&s.mem[off]))
}

// GuestToHost is the request ring; HostToGuest the response ring.
func (s *Segment) GuestToHost() *Ring { return s.g2h }
func (s *Segment) HostToGuest() *Ring { return s.h2g }

// Data returns the bulk data region shared by both peers.
func (s *Segment) Data() []byte { return s.data }

// DataArena wraps the data region in an allocator (guest side).
func (s *Segment) DataArena() *shmem.Arena { return shmem.NewArena(s.data) }

// DataView resolves a descriptor range inside the data region (host side).
func (s *Segment) DataView(off uint64, size uint32) (*shmem.View, error) {
	end := off + uint64(size)
	if size == 0 || end > uint64(len(s.data)) {
		return nil, errors.ErrInvalidParameters
	}
	return shmem.NewView(s.data[off:end]), nil
}

// Closed reports whether either peer shut the channel down.
func (s *Segment) Closed() bool {
	return atomic.LoadUint32(s.flag(offClosed)) != 0
}

// Shutdown sets the closed flag both peers observe and wakes ring waiters,
// leaving the mapping intact so in-flight readers finish safely.
func (s *Segment) Shutdown() {
	if s.mem == nil {
		return
	}
	atomic.StoreUint32(s.flag(offClosed), 1)
	s.g2h.close()
	s.h2g.close()
}

// Close marks the segment closed for both peers, unmaps it, and, on the
// creating side, deletes the backing file.
func (s *Segment) Close() error {
	if s.mem == nil {
		return nil
	}
	s.Shutdown()
	err := shmem.Unmap(s.mem)
	s.mem = nil
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	if s.created {
		if rerr := os.Remove(s.path); rerr != nil && !os.IsNotExist(rerr) && err == nil {
			err = rerr
		}
	}
	return err
}
