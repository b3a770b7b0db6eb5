package client

import (
	"context"

	"github.com/vmremote/winapi/errors"
	"github.com/vmremote/winapi/models"
	"github.com/vmremote/winapi/shmem"
)

// AllocBuffer returns a page-aligned buffer suitable for bulk transfers.
func (s *Session) AllocBuffer(size int) (*shmem.Buffer, error) {
	return shmem.AllocBuffer(size)
}

// FreeBuffer releases a buffer obtained from AllocBuffer.
func (s *Session) FreeBuffer(b *shmem.Buffer) error {
	return b.Free()
}

// SharedBuffer is a file-backed buffer the host maps by name for the
// duration of one ProcessSharedBuffer call.
type SharedBuffer struct {
	dyn *shmem.DynBuffer
}

func (b *SharedBuffer) Path() string      { return b.dyn.Path() }
func (b *SharedBuffer) Size() uint64      { return b.dyn.Size() }
func (b *SharedBuffer) View() *shmem.View { return b.dyn.View() }

// AllocSharedBuffer creates a uniquely named file-backed buffer in the
// shared directory and maps it.
func (s *Session) AllocSharedBuffer(size uint64) (*SharedBuffer, error) {
	if size == 0 || size > uint64(models.MaxBufferSize) {
		return nil, errors.ErrBufferTooLarge
	}
	dyn, err := shmem.AllocDynBuffer(shmem.DefaultDir(), size)
	if err != nil {
		return nil, err
	}
	return &SharedBuffer{dyn: dyn}, nil
}

// SharedBufferResult reports the host's pass over a shared buffer.
type SharedBufferResult struct {
	BytesProcessed uint64
	Checksum       uint32
	Match          bool
}

// ProcessSharedBuffer asks the host to map buf by name and perform op
// ("write", "verify", or "process"); the host retains no mapping afterwards.
func (s *Session) ProcessSharedBuffer(ctx context.Context, buf *SharedBuffer, op string, pattern uint32) (*SharedBufferResult, error) {
	req := &models.SharedBufferRequest{
		Path:        shmem.ProducerPath(buf.Path(), s.hostPathStyle),
		Size:        buf.Size(),
		Operation:   op,
		TestPattern: pattern,
	}
	msg, _, err := s.roundTrip(ctx, models.ApiSharedBuffer, req, nil, nil)
	if err != nil {
		return nil, err
	}
	rsp, err := decodeResult[*models.SharedBufferResponse](msg)
	if err != nil {
		return nil, err
	}
	return &SharedBufferResult{
		BytesProcessed: rsp.BytesProcessed,
		Checksum:       rsp.Checksum,
		Match:          rsp.Status == models.BufferStatusOK,
	}, nil
}

// FreeSharedBuffer unmaps and deletes the backing file. The session owns
// deletion; the host never removes shared buffer files.
func (s *Session) FreeSharedBuffer(buf *SharedBuffer) error {
	return buf.dyn.Release()
}
