package socket

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vmremote/winapi/errors"
	"github.com/vmremote/winapi/models"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	body := []byte(`{"api":"echo"}`)
	require.NoError(t, WriteFrame(context.Background(), w, body))

	r := bufio.NewReader(&buf)
	got, err := ReadFrame(context.Background(), r)
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestReadFrameRejectsBadLength(t *testing.T) {
	var raw [4]byte

	// Zero length.
	r := bufio.NewReader(bytes.NewReader(raw[:]))
	_, err := ReadFrame(context.Background(), r)
	require.ErrorIs(t, err, errors.ErrMalformedMessage)

	// Absurd length.
	binary.BigEndian.PutUint32(raw[:], MaxFrameSize+1)
	r = bufio.NewReader(bytes.NewReader(raw[:]))
	_, err = ReadFrame(context.Background(), r)
	require.ErrorIs(t, err, errors.ErrMalformedMessage)
}

func TestReadFrameTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 100)
	buf.Write(prefix[:])
	buf.WriteString("short")

	_, err := ReadFrame(context.Background(), bufio.NewReader(&buf))
	require.Error(t, err)
}

func TestRequestResponseFraming(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	req := &models.ControlRequest{
		Api:       "echo",
		RequestID: 3,
		Version:   models.ProtocolVersion,
		Echo:      &models.EchoRequest{Input: "hi"},
	}
	require.NoError(t, WriteRequest(context.Background(), w, req))

	got, err := ReadRequest(context.Background(), bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, req, got)

	rsp := &models.ControlResponse{
		RequestID: 3,
		Status:    models.StatusSuccess,
		Echo:      &models.EchoResponse{Output: "hi"},
	}
	require.NoError(t, WriteResponse(context.Background(), w, rsp))

	gotRsp, err := ReadResponse(context.Background(), bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, rsp, gotRsp)
}

func TestBulkFollowsFrame(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	payload := bytes.Repeat([]byte{0xAB}, 8192)
	req := &models.ControlRequest{
		Api:            "buffer_test",
		RequestID:      4,
		Version:        models.ProtocolVersion,
		SocketTransfer: true,
		PayloadSize:    uint64(len(payload)),
		BufferTest: &models.BufferTestRequest{
			Operation:   models.BufferOpWrite,
			PayloadSize: uint64(len(payload)),
		},
	}
	require.NoError(t, WriteRequest(context.Background(), w, req))
	require.NoError(t, WriteBulk(context.Background(), w, payload))

	r := bufio.NewReader(&buf)
	got, err := ReadRequest(context.Background(), r)
	require.NoError(t, err)
	require.True(t, got.SocketTransfer)

	bulk, err := ReadBulk(context.Background(), r, int(got.PayloadSize))
	require.NoError(t, err)
	require.Equal(t, payload, bulk)
}

func TestBulkRunSpansMultipleBuffers(t *testing.T) {
	// A request flattens up to MaxBuffers buffers into one run, so a run
	// just over one buffer's limit must stream intact.
	size := int(models.MaxBufferSize) + 4096
	payload := make([]byte, size)
	payload[0], payload[size-1] = 0x5A, 0xA5

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, WriteBulk(context.Background(), w, payload))

	got, err := ReadBulk(context.Background(), bufio.NewReader(&buf), size)
	require.NoError(t, err)
	require.Equal(t, byte(0x5A), got[0])
	require.Equal(t, byte(0xA5), got[size-1])
	require.Len(t, got, size)
}

func TestBulkRunCapped(t *testing.T) {
	_, err := ReadBulk(context.Background(), bufio.NewReader(&bytes.Buffer{}), int(maxBulkSize)+1)
	require.ErrorIs(t, err, errors.ErrBufferTooLarge)

	_, err = ReadBulk(context.Background(), bufio.NewReader(&bytes.Buffer{}), 0)
	require.ErrorIs(t, err, errors.ErrBufferTooLarge)
}

func TestContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	_, err := ReadFrame(ctx, bufio.NewReader(&buf))
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, WriteFrame(ctx, bufio.NewWriter(&buf), []byte("x")), context.Canceled)
}
