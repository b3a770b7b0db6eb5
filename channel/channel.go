package channel

import (
	"sync"
	"time"

	"github.com/vmremote/winapi/constant"
	"github.com/vmremote/winapi/errors"
	"github.com/vmremote/winapi/models"
	"github.com/vmremote/winapi/shmem"
)

// Transport is the guest end of a channel. Bulk data never flows through
// Send/Recv: the caller stages it in the segment's data arena and describes
// it with offset descriptors.
type Transport struct {
	seg   *Segment
	arena *shmem.Arena

	sendMu sync.Mutex
	stop   chan struct{}
	once   sync.Once
}

// Dial performs the channel handshake against the well-known identifier.
func Dial(id string) (*Transport, error) {
	seg, err := OpenSegment(id)
	if err != nil {
		return nil, err
	}
	return &Transport{
		seg:   seg,
		arena: seg.DataArena(),
		stop:  make(chan struct{}),
	}, nil
}

func (t *Transport) Kind() string {
	return "channel"
}

// Arena exposes the bulk staging allocator.
func (t *Transport) Arena() *shmem.Arena {
	return t.arena
}

// Send writes one control message to the request ring. Concurrent senders
// are serialized; the ring itself is single-producer.
func (t *Transport) Send(msg *models.Message, bulk []byte) error {
	if bulk != nil {
		// The channel transport has no streamed-bulk tier.
		return errors.ErrInvalidParameters
	}
	var buf [SlotSize]byte
	if err := msg.EncodeTo(buf[:]); err != nil {
		return err
	}
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	return t.seg.GuestToHost().Write(buf[:], time.Now().Add(constant.DefaultRequestTimeout))
}

// Recv blocks for the next response message.
func (t *Transport) Recv() (*models.Message, []byte, error) {
	var buf [SlotSize]byte
	if err := t.seg.HostToGuest().Read(buf[:], t.stop); err != nil {
		return nil, nil, err
	}
	msg, err := models.Decode(buf[:])
	if err != nil {
		return nil, nil, err
	}
	return msg, nil, nil
}

// Shutdown wakes a blocked Recv and marks the channel closed, leaving the
// segment mapped until Close.
func (t *Transport) Shutdown() {
	t.once.Do(func() {
		close(t.stop)
		t.seg.Shutdown()
	})
}

func (t *Transport) Close() error {
	t.Shutdown()
	return t.seg.Close()
}
