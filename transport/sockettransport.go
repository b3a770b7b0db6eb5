package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/vmremote/winapi/constant"
	"github.com/vmremote/winapi/errors"
	"github.com/vmremote/winapi/models"
	"github.com/vmremote/winapi/shmem"
	"github.com/vmremote/winapi/socket"
)

// SocketTransport carries control messages as framed JSON over a stream
// socket. Bulk payloads either live in a shared memory region both sides map
// (tier 2) or follow the control message on the stream (tier 3).
type SocketTransport struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	region *shmem.Region

	writeMu sync.Mutex
	readMu  sync.Mutex

	shutOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

// DialSocket connects the stream tier: vsock to the host first, TCP when the
// hypervisor socket is unavailable. A non-nil region upgrades bulk transfers
// to shared memory; ownership of region passes to the transport.
func DialSocket(cfg Config, region *shmem.Region) (*SocketTransport, error) {
	cfg = cfg.withDefaults()

	var conn net.Conn
	conn, err := vsock.Dial(vsock.Host, cfg.VsockPort, nil)
	if err != nil {
		addr := cfg.HostAddr
		if addr == "" {
			addr = DefaultGatewayAddr()
		}
		tcpConn, tcpErr := net.DialTimeout("tcp",
			fmt.Sprintf("%s:%d", addr, cfg.TCPPort), constant.DefaultDialTimeout)
		if tcpErr != nil {
			return nil, errors.Wrap(errors.ErrTransport,
				fmt.Errorf("vsock: %v; tcp %s:%d: %v", err, addr, cfg.TCPPort, tcpErr))
		}
		conn = tcpConn
	}

	return NewSocketTransport(conn, region), nil
}

// NewSocketTransport wraps an established stream connection.
func NewSocketTransport(conn net.Conn, region *shmem.Region) *SocketTransport {
	return &SocketTransport{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, constant.MaxReadBufferSize),
		writer: bufio.NewWriterSize(conn, constant.MaxWriteBufferSize),
		region: region,
	}
}

func (t *SocketTransport) Kind() string {
	if t.region != nil {
		return "socket+region"
	}
	return "socket"
}

// Region exposes the shared bulk region, nil on the streamed tier.
func (t *SocketTransport) Region() *shmem.Region {
	return t.region
}

// Send converts one request message to its control-schema form and writes
// it. When bulk is present it is staged in the shared region if it fits,
// otherwise streamed right after the frame.
func (t *SocketTransport) Send(msg *models.Message, bulk []byte) error {
	params, err := models.DecodeInline(msg.Header.Api, models.TypeRequest, msg.Inline)
	if err != nil {
		return err
	}

	req := &models.ControlRequest{
		Api:       msg.Header.Api.Name(),
		RequestID: msg.Header.RequestID,
		Version:   models.ProtocolVersion,
	}
	if err := req.SetParams(params); err != nil {
		return err
	}

	stream := false
	if len(bulk) > 0 {
		req.PayloadSize = uint64(len(bulk))
		if t.region != nil && uint32(len(bulk)) <= t.region.RequestSize() {
			if err := t.region.Request().WriteAt(bulk, 0); err != nil {
				return err
			}
		} else {
			req.SocketTransfer = true
			stream = true
		}
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline := time.Now().Add(constant.DefaultRequestTimeout)
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return errors.Wrap(errors.ErrTransport, err)
	}
	if err := socket.WriteRequest(context.Background(), t.writer, req); err != nil {
		return err
	}
	if stream {
		return socket.WriteBulk(context.Background(), t.writer, bulk)
	}
	return nil
}

// Recv blocks for the next control response and converts it back to the
// message form the session understands.
func (t *SocketTransport) Recv() (*models.Message, []byte, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	// Receive loops block indefinitely; the read is bounded by Close.
	if err := t.conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, nil, errors.Wrap(errors.ErrTransport, err)
	}
	rsp, err := socket.ReadResponse(context.Background(), t.reader)
	if err != nil {
		return nil, nil, err
	}

	msg := &models.Message{
		Header: models.Header{
			Magic:     models.MessageMagic,
			Version:   models.ProtocolVersion,
			Type:      models.TypeResponse,
			RequestID: rsp.RequestID,
			ErrorCode: rsp.ErrorCode,
		},
	}
	if rsp.Status == models.StatusError {
		msg.Header.Type = models.TypeError
		if msg.Header.ErrorCode == 0 {
			msg.Header.ErrorCode = errors.CodeUnknown
		}
	}

	if result := rsp.Result(); result != nil {
		api, ok := models.ApiOf(result)
		if !ok {
			return nil, nil, errors.ErrMalformedMessage
		}
		msg.Header.Api = api
		inline, err := models.EncodeInline(result)
		if err != nil {
			return nil, nil, err
		}
		msg.Inline = inline
		msg.Header.InlineSize = uint32(len(inline))
	}

	var bulk []byte
	if rsp.PayloadSize > 0 {
		size := int(rsp.PayloadSize)
		switch {
		case rsp.SocketTransfer:
			bulk, err = socket.ReadBulk(context.Background(), t.reader, size)
			if err != nil {
				return nil, nil, err
			}
		case t.region != nil && rsp.PayloadSize <= uint64(t.region.ResponseSize()):
			bulk = make([]byte, size)
			if err := t.region.Response().ReadAt(bulk, 0); err != nil {
				return nil, nil, err
			}
		default:
			return nil, nil, errors.ErrMalformedMessage
		}
	}
	return msg, bulk, nil
}

// Shutdown closes the stream so a blocked Recv returns, leaving the region
// mapped until Close.
func (t *SocketTransport) Shutdown() {
	t.shutOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
}

func (t *SocketTransport) Close() error {
	t.Shutdown()
	t.closeOnce.Do(func() {
		if t.region != nil {
			if rerr := t.region.Close(); rerr != nil && t.closeErr == nil {
				t.closeErr = rerr
			}
		}
	})
	return t.closeErr
}
