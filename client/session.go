// Package client is the guest-side entry point: a Session connects over the
// best available transport tier and exposes the remote apis as methods.
package client

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vmremote/winapi/channel"
	"github.com/vmremote/winapi/errors"
	"github.com/vmremote/winapi/models"
	"github.com/vmremote/winapi/shmem"
	"github.com/vmremote/winapi/statistics"
	"github.com/vmremote/winapi/track"
	"github.com/vmremote/winapi/transport"
)

// Config configures a Session. The zero value connects with deployment
// defaults and no periodic stats logging.
type Config struct {
	Transport transport.Config

	// Timeout bounds each synchronous call; zero means the default.
	Timeout time.Duration

	// EnableStats turns on the periodic session metrics log line.
	EnableStats bool

	// HostPathStyle names the host's path syntax for shared buffer files;
	// "windows" hosts expect drive-letter paths, "" sends paths verbatim.
	HostPathStyle string
}

// Session is one connection to the host. All state lives here; two sessions
// in one process never share anything.
type Session struct {
	id    uuid.UUID
	tr    transport.Transport
	trk   *track.Tracker
	stats *statistics.Stats

	// arena stages bulk data when the channel tier connected.
	arena *shmem.Arena

	// callMu serializes calls on the region tier, where a single shared
	// region carries staged request and response bulk one call at a time.
	callMu     sync.Mutex
	regionTier bool

	hostPathStyle string

	closed   atomic.Bool
	recvDone chan struct{}
}

// Dial connects the best available tier and starts the receive loop.
func Dial(cfg Config) (*Session, error) {
	tr, err := transport.Connect(cfg.Transport)
	if err != nil {
		return nil, err
	}
	return newSession(tr, cfg), nil
}

// NewSession wraps an already-connected transport; Dial is the usual path.
func NewSession(tr transport.Transport, cfg Config) *Session {
	return newSession(tr, cfg)
}

func newSession(tr transport.Transport, cfg Config) *Session {
	title := ""
	if cfg.EnableStats {
		title = "session"
	}
	s := &Session{
		id:            uuid.New(),
		tr:            tr,
		trk:           track.New(cfg.Timeout),
		stats:         statistics.New(title),
		hostPathStyle: cfg.HostPathStyle,
		recvDone:      make(chan struct{}),
	}
	if ct, ok := tr.(*channel.Transport); ok {
		s.arena = ct.Arena()
	}
	s.regionTier = tr.Kind() == "socket+region"
	go s.recvLoop()
	log.Printf("client: session %s connected via %s", s.id, tr.Kind())
	return s
}

func (s *Session) ID() uuid.UUID { return s.id }

// Kind reports which transport tier the session connected with.
func (s *Session) Kind() string { return s.tr.Kind() }

func (s *Session) Stats() *statistics.Stats { return s.stats }

// recvLoop is the only reader of the transport. It completes pending calls
// by request id; responses nobody waits for are dropped by the tracker.
func (s *Session) recvLoop() {
	defer close(s.recvDone)
	for {
		msg, bulk, err := s.tr.Recv()
		if err != nil {
			if !s.closed.Load() {
				log.Printf("client: session %s receive: %v", s.id, err)
				s.trk.Fail(errors.Wrap(errors.ErrTransport, err))
			}
			return
		}
		s.trk.Complete(msg.Header.RequestID, track.Response{Msg: msg, Bulk: bulk})
	}
}

// roundTrip sends one request and blocks for its response. descs and bulk
// are mutually exclusive: descriptors reference staged channel memory, bulk
// rides the socket tiers.
func (s *Session) roundTrip(ctx context.Context, api models.ApiID, params models.Payload, descs []models.BufferDesc, bulk []byte) (*models.Message, []byte, error) {
	if s.closed.Load() {
		return nil, nil, errors.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	inline, err := models.EncodeInline(params)
	if err != nil {
		return nil, nil, err
	}

	if s.regionTier {
		// One shared region, one call staged in it at a time. Responses
		// land there too, so even bulk-free requests must wait their turn.
		s.callMu.Lock()
		defer s.callMu.Unlock()
	}

	start := time.Now()
	id := s.trk.Register()

	msg := models.NewRequest(api, id)
	msg.Inline = inline
	msg.Header.InlineSize = uint32(len(inline))
	msg.Header.Timestamp = uint64(start.UnixNano())
	msg.Buffers = descs
	msg.Header.BufferCount = uint32(len(descs))

	if err := s.tr.Send(msg, bulk); err != nil {
		s.trk.Remove(id)
		s.stats.RecordCall(api.Name(), 0, err)
		return nil, nil, err
	}

	rsp, err := s.waitOrCancel(ctx, id)
	s.stats.RecordCall(api.Name(), time.Since(start), err)
	if err != nil {
		return nil, nil, err
	}

	if rsp.Msg.Header.Type == models.TypeError {
		code := rsp.Msg.Header.ErrorCode
		return nil, nil, errors.FromCode(code)
	}
	return rsp.Msg, rsp.Bulk, nil
}

func (s *Session) waitOrCancel(ctx context.Context, id uint64) (track.Response, error) {
	if ctx.Done() == nil {
		return s.trk.Wait(id)
	}

	type waitResult struct {
		rsp track.Response
		err error
	}
	ch := make(chan waitResult, 1)
	go func() {
		rsp, err := s.trk.Wait(id)
		ch <- waitResult{rsp, err}
	}()
	select {
	case r := <-ch:
		return r.rsp, r.err
	case <-ctx.Done():
		s.trk.Remove(id)
		return track.Response{}, ctx.Err()
	}
}

// Close tears the session down: no new calls, pending calls fail, transport
// and mappings released.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.tr.Shutdown()
	s.trk.Fail(errors.ErrSessionClosed)
	<-s.recvDone
	err := s.tr.Close()
	s.stats.Close()
	log.Printf("client: session %s closed", s.id)
	return err
}
