package server

import (
	"context"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmremote/winapi/shmem"
)

// Server accepts stream connections (vsock or TCP) and serves control
// messages on each. Every connection gets its own goroutine; they all share
// one dispatcher and, when configured, one bulk region.
type Server struct {
	dispatcher *Dispatcher

	// region is the host's mapping of the shared bulk region, nil when the
	// deployment runs without one. One region serves all connections, so
	// regionMu serializes the calls that touch it.
	region   *shmem.Region
	regionMu sync.Mutex

	ReadTimeout time.Duration
	IdleTimeout time.Duration

	connIndex int64 // atomic

	closed atomic.Bool
}

func NewServer(d *Dispatcher, region *shmem.Region) *Server {
	return &Server{
		dispatcher:  d,
		region:      region,
		IdleTimeout: time.Minute,
	}
}

func (srv *Server) getConnIndex() int64 {
	return atomic.AddInt64(&srv.connIndex, 1)
}

// Serve accepts connections until the listener closes, backing off on
// temporary accept failures.
func (srv *Server) Serve(ctx context.Context, l net.Listener) error {
	defer l.Close()

	var tempDelay time.Duration

	for {
		rw, err := l.Accept()
		if err != nil {
			if srv.closed.Load() || ctx.Err() != nil {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				tempDelay = srv.sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		c := srv.newConn(rw)
		go c.serve(ctx)
	}
}

func (srv *Server) Close() {
	srv.closed.Store(true)
}

func (srv *Server) newConn(rwc net.Conn) *Conn {
	index := srv.getConnIndex()
	return &Conn{
		Name:   "srv-" + strconv.FormatInt(index, 10),
		server: srv,
		rwc:    rwc,
	}
}

func (srv *Server) idleTimeout() time.Duration {
	if srv.IdleTimeout != 0 {
		return srv.IdleTimeout
	}
	return srv.ReadTimeout
}

func (srv *Server) sleep(tempDelay time.Duration) time.Duration {
	if tempDelay == 0 {
		tempDelay = 5 * time.Millisecond
	} else {
		tempDelay *= 2
	}
	if max := 1 * time.Second; tempDelay > max {
		tempDelay = max
	}
	log.Printf("server: accept retry in %v", tempDelay)
	time.Sleep(tempDelay)
	return tempDelay
}
