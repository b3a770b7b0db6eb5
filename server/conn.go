package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"runtime"
	"time"

	"github.com/vmremote/winapi/errors"
	"github.com/vmremote/winapi/models"
	"github.com/vmremote/winapi/shmem"
	"github.com/vmremote/winapi/socket"
)

// Conn serves one accepted stream connection: read a control frame, resolve
// its bulk bytes, dispatch, write the response. Connections are independent;
// only the shared region forces cross-connection serialization.
type Conn struct {
	Name       string
	server     *Server
	remoteAddr string

	rwc       net.Conn
	bufReader *bufio.Reader
	bufWriter *bufio.Writer
}

func (c *Conn) serve(ctx context.Context) {
	defer func() {
		_ = c.rwc.Close()
		putBufReader(c.bufReader)
		putBufWriter(c.bufWriter)
	}()

	c.remoteAddr = c.rwc.RemoteAddr().String()

	defer func() {
		if err := recover(); err != nil {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			log.Printf("server: panic serving %v: %v\n%s", c.remoteAddr, err, buf)
		}
	}()

	c.bufReader = getBufReader(c.rwc)
	c.bufWriter = getBufWriter(c.rwc)

	for {
		if err := c.waitNext(); err != nil {
			if err != io.EOF {
				log.Printf("server: %s idle wait: %v", c.Name, err)
			}
			return
		}

		if rt := c.server.ReadTimeout; rt != 0 {
			_ = c.rwc.SetReadDeadline(time.Now().Add(rt))
		}
		req, err := socket.ReadRequest(ctx, c.bufReader)
		if err != nil {
			// A malformed frame leaves the stream position unknown;
			// drop the connection rather than resynchronize.
			if err != io.EOF {
				log.Printf("server: %s read: %v", c.Name, err)
				_ = c.writeError(ctx, 0, err)
			}
			return
		}

		if broken := c.serveOne(ctx, req); broken {
			return
		}
	}
}

// waitNext blocks until the next frame starts arriving, bounded by the idle
// timeout.
func (c *Conn) waitNext() error {
	if wait := c.server.idleTimeout(); wait != 0 {
		_ = c.rwc.SetReadDeadline(time.Now().Add(wait))
	} else {
		_ = c.rwc.SetReadDeadline(time.Time{})
	}
	if _, err := c.bufReader.Peek(1); err != nil {
		return err
	}
	_ = c.rwc.SetReadDeadline(time.Time{})
	return nil
}

// serveOne handles a single validated control request. The returned flag
// reports whether the connection is broken and must close.
func (c *Conn) serveOne(ctx context.Context, req *models.ControlRequest) bool {
	api, _ := models.ApiByName(req.Api)

	call := &Call{
		Api:    api,
		Params: req.Params(),
	}

	if c.server.region != nil {
		c.server.regionMu.Lock()
		defer c.server.regionMu.Unlock()
	}

	if req.PayloadSize > 0 {
		if req.SocketTransfer {
			bulk, err := socket.ReadBulk(ctx, c.bufReader, int(req.PayloadSize))
			if err != nil {
				log.Printf("server: %s bulk read: %v", c.Name, err)
				return true
			}
			call.Buffers = []*shmem.View{shmem.NewView(bulk)}
		} else {
			region := c.server.region
			if region == nil || req.PayloadSize > uint64(region.RequestSize()) {
				return c.writeError(ctx, req.RequestID, errors.NewStatus(
					errors.CodeInvalidParams, "no region for staged payload")) != nil
			}
			view, err := region.Request().Slice(0, int(req.PayloadSize))
			if err != nil {
				return c.writeError(ctx, req.RequestID, err) != nil
			}
			call.Buffers = []*shmem.View{view}
		}
	}

	if err := c.server.dispatcher.Dispatch(ctx, call); err != nil {
		return c.writeError(ctx, req.RequestID, err) != nil
	}

	if c.server.region != nil {
		c.server.region.BumpRequestCount()
	}

	rsp := &models.ControlResponse{
		RequestID: req.RequestID,
		Status:    models.StatusSuccess,
	}
	if call.Result != nil {
		if err := rsp.SetResult(call.Result); err != nil {
			return c.writeError(ctx, req.RequestID, err) != nil
		}
	}

	streamBulk := false
	if len(call.BulkOut) > 0 {
		rsp.PayloadSize = uint64(len(call.BulkOut))
		region := c.server.region
		if region != nil && uint32(len(call.BulkOut)) <= region.ResponseSize() {
			if err := region.Response().WriteAt(call.BulkOut, 0); err != nil {
				return c.writeError(ctx, req.RequestID, err) != nil
			}
		} else {
			rsp.SocketTransfer = true
			streamBulk = true
		}
	}

	if err := socket.WriteResponse(ctx, c.bufWriter, rsp); err != nil {
		log.Printf("server: %s write: %v", c.Name, err)
		return true
	}
	if streamBulk {
		if err := socket.WriteBulk(ctx, c.bufWriter, call.BulkOut); err != nil {
			log.Printf("server: %s bulk write: %v", c.Name, err)
			return true
		}
	}
	return false
}

// writeError sends an error response; handler failures are results, so the
// connection stays up.
func (c *Conn) writeError(ctx context.Context, requestID uint64, err error) error {
	rsp := &models.ControlResponse{
		RequestID: requestID,
		Status:    models.StatusError,
		Error:     err.Error(),
		ErrorCode: errors.CodeOf(err),
	}
	if werr := socket.WriteResponse(ctx, c.bufWriter, rsp); werr != nil {
		return fmt.Errorf("write error response: %w", werr)
	}
	return nil
}
