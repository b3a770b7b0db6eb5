// Package shmem owns every memory mapping in the module: the socket
// transport's shared region, dynamic shared buffers, caller-owned page
// buffers, and the bounds-checked views handlers operate on.
package shmem

import (
	"encoding/binary"
	"os"
	"sync/atomic"

	"github.com/vmremote/winapi/errors"
)

const (
	// RegionMagic is "WINA" and is checked exactly once, at mapping time.
	RegionMagic   = uint32(0x57494E41)
	RegionVersion = uint32(1)

	// RegionHeaderSize is the reserved header area at the start of the file.
	RegionHeaderSize = 4096

	DefaultRequestSize  = 4 * 1024 * 1024
	DefaultResponseSize = 4 * 1024 * 1024
)

// DefaultRegionPath places the shared region where both sides look for it.
func DefaultRegionPath() string {
	return DefaultDir() + "/winapi_shared_region"
}

// regionHeader mirrors the on-disk header layout: magic, version,
// request_count, flags, then the request/response sub-region geometry.
type regionHeader struct {
	Magic          uint32
	Version        uint32
	RequestCount   uint32
	Flags          uint32
	RequestOffset  uint64
	ResponseOffset uint64
	RequestSize    uint32
	ResponseSize   uint32
}

const regionHeaderLen = 4 + 4 + 4 + 4 + 8 + 8 + 4 + 4

func (h *regionHeader) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], h.Magic)
	binary.LittleEndian.PutUint32(b[4:], h.Version)
	binary.LittleEndian.PutUint32(b[8:], h.RequestCount)
	binary.LittleEndian.PutUint32(b[12:], h.Flags)
	binary.LittleEndian.PutUint64(b[16:], h.RequestOffset)
	binary.LittleEndian.PutUint64(b[24:], h.ResponseOffset)
	binary.LittleEndian.PutUint32(b[32:], h.RequestSize)
	binary.LittleEndian.PutUint32(b[36:], h.ResponseSize)
}

func decodeRegionHeader(b []byte) regionHeader {
	return regionHeader{
		Magic:          binary.LittleEndian.Uint32(b[0:]),
		Version:        binary.LittleEndian.Uint32(b[4:]),
		RequestCount:   binary.LittleEndian.Uint32(b[8:]),
		Flags:          binary.LittleEndian.Uint32(b[12:]),
		RequestOffset:  binary.LittleEndian.Uint64(b[16:]),
		ResponseOffset: binary.LittleEndian.Uint64(b[24:]),
		RequestSize:    binary.LittleEndian.Uint32(b[32:]),
		ResponseSize:   binary.LittleEndian.Uint32(b[36:]),
	}
}

// Region is the file-backed shared memory used by the socket transport for
// bulk data: a 4KB header plus a request sub-region written by the guest and
// a response sub-region written by the host. Each sub-region has a single
// writer; the call/response alternation keeps the two sides from racing.
type Region struct {
	file    *os.File
	mem     []byte
	path    string
	created bool
	hdr     regionHeader
	closed  atomic.Bool
}

// CreateRegion creates and maps a new region file, writing the header once.
// The host (region owner) calls this at service start.
func CreateRegion(path string, requestSize, responseSize uint32) (*Region, error) {
	total := int64(RegionHeaderSize) + int64(requestSize) + int64(responseSize)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, errors.Wrap(errors.ErrMemoryMapFailed, err)
	}
	if err := f.Truncate(total); err != nil {
		f.Close()
		os.Remove(path)
		return nil, errors.Wrap(errors.ErrMemoryMapFailed, err)
	}
	mem, err := MapFile(f, int(total))
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	r := &Region{
		file:    f,
		mem:     mem,
		path:    path,
		created: true,
		hdr: regionHeader{
			Magic:          RegionMagic,
			Version:        RegionVersion,
			RequestOffset:  RegionHeaderSize,
			ResponseOffset: RegionHeaderSize + uint64(requestSize),
			RequestSize:    requestSize,
			ResponseSize:   responseSize,
		},
	}
	r.hdr.encode(mem[:regionHeaderLen])
	return r, nil
}

// OpenRegion maps an existing region file and validates the header. The
// magic is checked here, exactly once; per-message paths never re-validate.
func OpenRegion(path string) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(errors.ErrNoSharedMemory, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(errors.ErrNoSharedMemory, err)
	}
	if info.Size() < RegionHeaderSize {
		f.Close()
		return nil, errors.ErrNoSharedMemory
	}
	mem, err := MapFile(f, int(info.Size()))
	if err != nil {
		f.Close()
		return nil, err
	}

	hdr := decodeRegionHeader(mem[:regionHeaderLen])
	if hdr.Magic != RegionMagic || hdr.Version != RegionVersion {
		Unmap(mem)
		f.Close()
		return nil, errors.ErrMalformedMessage
	}
	end := hdr.ResponseOffset + uint64(hdr.ResponseSize)
	if hdr.RequestOffset < RegionHeaderSize || end > uint64(info.Size()) {
		Unmap(mem)
		f.Close()
		return nil, errors.ErrMalformedMessage
	}

	return &Region{file: f, mem: mem, path: path, hdr: hdr}, nil
}

func (r *Region) Path() string {
	return r.path
}

// Request returns the guest-written sub-region.
func (r *Region) Request() *View {
	off := int(r.hdr.RequestOffset)
	return NewView(r.mem[off : off+int(r.hdr.RequestSize)])
}

// Response returns the host-written sub-region.
func (r *Region) Response() *View {
	off := int(r.hdr.ResponseOffset)
	return NewView(r.mem[off : off+int(r.hdr.ResponseSize)])
}

func (r *Region) RequestSize() uint32 {
	return r.hdr.RequestSize
}

func (r *Region) ResponseSize() uint32 {
	return r.hdr.ResponseSize
}

// BumpRequestCount increments the served-request counter in the header.
// Only the host writes it; the field is informational.
func (r *Region) BumpRequestCount() uint32 {
	n := binary.LittleEndian.Uint32(r.mem[8:]) + 1
	binary.LittleEndian.PutUint32(r.mem[8:], n)
	return n
}

func (r *Region) RequestCount() uint32 {
	return binary.LittleEndian.Uint32(r.mem[8:])
}

// Close unmaps and closes the region. The creator also deletes the file.
func (r *Region) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := Unmap(r.mem)
	r.mem = nil
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	if r.created {
		if rerr := os.Remove(r.path); rerr != nil && !os.IsNotExist(rerr) && err == nil {
			err = rerr
		}
	}
	return err
}
