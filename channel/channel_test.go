package channel

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vmremote/winapi/errors"
	"github.com/vmremote/winapi/models"
)

func testSegmentID(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("test-%s", uuid.NewString())
}

func TestSegmentHandshake(t *testing.T) {
	id := testSegmentID(t)

	// Guest cannot attach before the host creates the segment.
	_, err := OpenSegment(id)
	require.Error(t, err)

	host, err := CreateSegment(id, 8, 1<<20)
	require.NoError(t, err)

	guest, err := OpenSegment(id)
	require.NoError(t, err)

	require.NoError(t, guest.Close())
	require.NoError(t, host.Close())

	_, err = os.Stat(SegmentPath(id))
	require.True(t, os.IsNotExist(err), "creator close removes the segment file")
}

func TestOpenSegmentRejectsCorruptHeader(t *testing.T) {
	id := testSegmentID(t)
	host, err := CreateSegment(id, 8, 1<<20)
	require.NoError(t, err)
	defer host.Close()

	raw, err := os.ReadFile(SegmentPath(id))
	require.NoError(t, err)
	raw[0] ^= 0xFF
	require.NoError(t, os.WriteFile(SegmentPath(id), raw, 0o644))

	_, err = OpenSegment(id)
	require.Error(t, err)
}

func TestRingRoundTrip(t *testing.T) {
	id := testSegmentID(t)
	host, err := CreateSegment(id, 4, 1<<20)
	require.NoError(t, err)
	defer host.Close()

	guest, err := OpenSegment(id)
	require.NoError(t, err)
	defer guest.Close()

	msg := models.NewRequest(models.ApiEcho, 1)
	var slot [SlotSize]byte
	require.NoError(t, msg.EncodeTo(slot[:]))

	deadline := time.Now().Add(time.Second)
	require.NoError(t, guest.GuestToHost().Write(slot[:], deadline))

	var got [SlotSize]byte
	stop := make(chan struct{})
	require.NoError(t, host.GuestToHost().Read(got[:], stop))
	require.Equal(t, slot, got)
}

func TestRingFullBlocksUntilDeadline(t *testing.T) {
	id := testSegmentID(t)
	host, err := CreateSegment(id, 2, 1<<20)
	require.NoError(t, err)
	defer host.Close()

	guest, err := OpenSegment(id)
	require.NoError(t, err)
	defer guest.Close()

	var slot [SlotSize]byte
	ring := guest.GuestToHost()
	require.NoError(t, ring.Write(slot[:], time.Now().Add(time.Second)))
	require.NoError(t, ring.Write(slot[:], time.Now().Add(time.Second)))

	err = ring.Write(slot[:], time.Now().Add(20*time.Millisecond))
	require.ErrorIs(t, err, errors.ErrTimeout)
}

func TestTransportSendRecv(t *testing.T) {
	id := testSegmentID(t)
	host, err := CreateSegment(id, 8, 1<<20)
	require.NoError(t, err)
	defer host.Close()

	tr, err := Dial(id)
	require.NoError(t, err)
	defer tr.Close()

	// Minimal host loop: echo the request back as a response.
	go func() {
		var buf [SlotSize]byte
		stop := make(chan struct{})
		if err := host.GuestToHost().Read(buf[:], stop); err != nil {
			return
		}
		req, err := models.Decode(buf[:])
		if err != nil {
			return
		}
		rsp := models.NewResponse(req)
		rsp.Inline = req.Inline
		rsp.Header.InlineSize = req.Header.InlineSize
		var out [SlotSize]byte
		if err := rsp.EncodeTo(out[:]); err != nil {
			return
		}
		_ = host.HostToGuest().Write(out[:], time.Now().Add(time.Second))
	}()

	inline, err := models.EncodeInline(&models.EchoRequest{Input: "ping"})
	require.NoError(t, err)
	msg := models.NewRequest(models.ApiEcho, 9)
	msg.Inline = inline
	msg.Header.InlineSize = uint32(len(inline))

	require.NoError(t, tr.Send(msg, nil))

	rsp, bulk, err := tr.Recv()
	require.NoError(t, err)
	require.Nil(t, bulk)
	require.Equal(t, uint64(9), rsp.Header.RequestID)
	require.Equal(t, models.TypeResponse, rsp.Header.Type)

	p, err := models.DecodeInline(rsp.Header.Api, rsp.Header.Type, rsp.Inline)
	require.NoError(t, err)
	require.Equal(t, "ping", p.(*models.EchoResponse).Output)
}

func TestTransportRejectsStreamedBulk(t *testing.T) {
	id := testSegmentID(t)
	host, err := CreateSegment(id, 4, 1<<20)
	require.NoError(t, err)
	defer host.Close()

	tr, err := Dial(id)
	require.NoError(t, err)
	defer tr.Close()

	msg := models.NewRequest(models.ApiBufferTest, 1)
	err = tr.Send(msg, []byte("bulk"))
	require.ErrorIs(t, err, errors.ErrInvalidParameters)
}

func TestShutdownUnblocksRecvBeforeUnmap(t *testing.T) {
	id := testSegmentID(t)
	host, err := CreateSegment(id, 4, 1<<20)
	require.NoError(t, err)
	defer host.Close()

	tr, err := Dial(id)
	require.NoError(t, err)

	recvErr := make(chan error, 1)
	go func() {
		_, _, err := tr.Recv()
		recvErr <- err
	}()

	// Shutdown wakes the blocked receiver but keeps the mapping alive, so a
	// receive loop mid-poll can still touch the rings safely.
	tr.Shutdown()
	select {
	case err := <-recvErr:
		require.ErrorIs(t, err, errors.ErrChannelClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not return after Shutdown")
	}

	// The mapping is only released by Close.
	_, _, err = tr.Recv()
	require.ErrorIs(t, err, errors.ErrChannelClosed)
	require.NoError(t, tr.Close())
}

func TestDataArenaDescriptorsResolve(t *testing.T) {
	id := testSegmentID(t)
	host, err := CreateSegment(id, 4, 1<<20)
	require.NoError(t, err)
	defer host.Close()

	tr, err := Dial(id)
	require.NoError(t, err)
	defer tr.Close()

	off, view, err := tr.Arena().Alloc(8192)
	require.NoError(t, err)
	view.Fill(0x77)

	// The host resolves the same offset through its own mapping.
	hostView, err := host.DataView(uint64(off), 8192)
	require.NoError(t, err)
	require.True(t, hostView.Verify(0x77))
}
