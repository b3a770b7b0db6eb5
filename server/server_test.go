package server

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vmremote/winapi/models"
	"github.com/vmremote/winapi/socket"
)

func startLoopbackServer(t *testing.T) net.Addr {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(testDispatcher(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, l)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		l.Close()
	})
	return l.Addr()
}

func dialControl(t *testing.T, addr net.Addr) (net.Conn, *bufio.Reader, *bufio.Writer) {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn), bufio.NewWriter(conn)
}

func TestServeEchoOverLoopback(t *testing.T) {
	addr := startLoopbackServer(t)
	_, r, w := dialControl(t, addr)

	req := &models.ControlRequest{
		Api:       "echo",
		RequestID: 1,
		Version:   models.ProtocolVersion,
		Echo:      &models.EchoRequest{Input: "over tcp"},
	}
	require.NoError(t, socket.WriteRequest(context.Background(), w, req))

	rsp, err := socket.ReadResponse(context.Background(), r)
	require.NoError(t, err)
	require.Equal(t, uint64(1), rsp.RequestID)
	require.Equal(t, models.StatusSuccess, rsp.Status)
	require.Equal(t, "over tcp", rsp.Echo.Output)
}

func TestServeStreamedBufferTest(t *testing.T) {
	addr := startLoopbackServer(t)
	_, r, w := dialControl(t, addr)

	payload := make([]byte, 64*1024)
	for i := range payload {
		payload[i] = byte(i)
	}

	req := &models.ControlRequest{
		Api:            "buffer_test",
		RequestID:      2,
		Version:        models.ProtocolVersion,
		SocketTransfer: true,
		PayloadSize:    uint64(len(payload)),
		BufferTest: &models.BufferTestRequest{
			Operation:   models.BufferOpWrite,
			PayloadSize: uint64(len(payload)),
		},
	}
	require.NoError(t, socket.WriteRequest(context.Background(), w, req))
	require.NoError(t, socket.WriteBulk(context.Background(), w, payload))

	rsp, err := socket.ReadResponse(context.Background(), r)
	require.NoError(t, err)
	require.Equal(t, models.StatusSuccess, rsp.Status)
	require.Equal(t, uint64(len(payload)), rsp.BufferTest.BytesProcessed)
	require.NotZero(t, rsp.BufferTest.Checksum)
}

func TestServeErrorResponseKeepsConnection(t *testing.T) {
	addr := startLoopbackServer(t)
	_, r, w := dialControl(t, addr)

	// SharedBuffer against a missing file fails with a wire code.
	req := &models.ControlRequest{
		Api:       "shared_buffer",
		RequestID: 3,
		Version:   models.ProtocolVersion,
		SharedBuffer: &models.SharedBufferRequest{
			Path:      filepath.Join(t.TempDir(), "missing"),
			Size:      4096,
			Operation: "write",
		},
	}
	require.NoError(t, socket.WriteRequest(context.Background(), w, req))

	rsp, err := socket.ReadResponse(context.Background(), r)
	require.NoError(t, err)
	require.Equal(t, models.StatusError, rsp.Status)
	require.EqualValues(t, -3, rsp.ErrorCode)

	// The connection still serves the next request.
	req2 := &models.ControlRequest{
		Api:       "echo",
		RequestID: 4,
		Version:   models.ProtocolVersion,
		Echo:      &models.EchoRequest{Input: "still here"},
	}
	require.NoError(t, socket.WriteRequest(context.Background(), w, req2))

	rsp2, err := socket.ReadResponse(context.Background(), r)
	require.NoError(t, err)
	require.Equal(t, models.StatusSuccess, rsp2.Status)
	require.Equal(t, "still here", rsp2.Echo.Output)
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, uint32(0x400), cfg.VsockPort)
	require.Equal(t, "0.0.0.0:4660", cfg.TCPAddr)
	require.NotZero(t, cfg.RegionRequestSize)
	require.NotZero(t, cfg.DispatchWorkers)
	require.NotEmpty(t, cfg.ChannelID)
}

func TestConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "tcp_addr: \"127.0.0.1:9999\"\nring_slots: 16\nidle_timeout: 30s\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9999", cfg.TCPAddr)
	require.Equal(t, 16, cfg.RingSlots)
	require.Equal(t, 30*time.Second, cfg.IdleTimeout.Std())
	// Unset fields still default.
	require.Equal(t, uint32(0x400), cfg.VsockPort)
}
