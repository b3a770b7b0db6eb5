package server

import (
	"context"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/vmremote/winapi/channel"
	"github.com/vmremote/winapi/constant"
	"github.com/vmremote/winapi/errors"
	"github.com/vmremote/winapi/models"
	"github.com/vmremote/winapi/shmem"
)

// ChannelServer is the host end of the shared-memory channel. A single
// reader drains the guest-to-host ring into a bounded queue; worker
// goroutines dispatch from the queue and write responses back. A full queue
// stalls the reader, which back-pressures the guest through the ring.
type ChannelServer struct {
	seg        *channel.Segment
	dispatcher *Dispatcher

	queue   chan *models.Message
	workers int

	// The host-to-guest ring is single-producer; workers serialize their
	// response writes through sendMu.
	sendMu sync.Mutex
	wg     sync.WaitGroup
}

// NewChannelServer creates the channel segment and stands ready for a guest
// to attach. The segment file is removed again on Close.
func NewChannelServer(cfg *Config, d *Dispatcher) (*ChannelServer, error) {
	seg, err := channel.CreateSegment(cfg.ChannelID, cfg.RingSlots, cfg.DataSize)
	if err != nil {
		return nil, err
	}
	workers := cfg.DispatchWorkers
	if workers <= 0 {
		workers = constant.DefaultDispatchWorkers
	}
	queueLen := cfg.DispatchQueue
	if queueLen <= 0 {
		queueLen = constant.DefaultDispatchQueue
	}
	return &ChannelServer{
		seg:        seg,
		dispatcher: d,
		queue:      make(chan *models.Message, queueLen),
		workers:    workers,
	}, nil
}

// Run serves the channel until ctx is cancelled or the guest closes it. It
// returns only after every worker has drained out, so the segment can be
// unmapped afterwards.
func (cs *ChannelServer) Run(ctx context.Context) error {
	for i := 0; i < cs.workers; i++ {
		cs.wg.Add(1)
		go cs.worker(ctx)
	}
	defer func() {
		close(cs.queue)
		cs.wg.Wait()
	}()

	ring := cs.seg.GuestToHost()
	var buf [channel.SlotSize]byte
	for {
		if err := ring.Read(buf[:], ctx.Done()); err != nil {
			if errors.Is(err, errors.ErrChannelClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		msg, err := models.Decode(buf[:])
		if err != nil {
			// No request id to answer on; drop and keep reading.
			log.Printf("channel: malformed message: %v", err)
			continue
		}
		select {
		case cs.queue <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

func (cs *ChannelServer) worker(ctx context.Context) {
	defer cs.wg.Done()
	defer func() {
		if err := recover(); err != nil {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			log.Printf("channel: panic in worker: %v\n%s", err, buf)
			cs.wg.Add(1)
			go cs.worker(ctx)
		}
	}()

	for msg := range cs.queue {
		cs.serveOne(ctx, msg)
	}
}

func (cs *ChannelServer) serveOne(ctx context.Context, msg *models.Message) {
	rsp := models.NewResponse(msg)

	if err := cs.handle(ctx, msg, rsp); err != nil {
		rsp.Header.Type = models.TypeError
		rsp.Header.ErrorCode = errors.CodeOf(err)
		rsp.Inline = nil
		rsp.Header.InlineSize = 0
	}

	var buf [channel.SlotSize]byte
	if err := rsp.EncodeTo(buf[:]); err != nil {
		log.Printf("channel: encode response %d: %v", msg.Header.RequestID, err)
		return
	}
	deadline := time.Now().Add(constant.DefaultRequestTimeout)
	cs.sendMu.Lock()
	err := cs.seg.HostToGuest().Write(buf[:], deadline)
	cs.sendMu.Unlock()
	if err != nil {
		log.Printf("channel: write response %d: %v", msg.Header.RequestID, err)
	}
}

func (cs *ChannelServer) handle(ctx context.Context, msg, rsp *models.Message) error {
	params, err := models.DecodeInline(msg.Header.Api, models.TypeRequest, msg.Inline)
	if err != nil {
		return errors.NewStatus(errors.CodeInvalidParams, err.Error())
	}

	views := make([]*shmem.View, 0, len(msg.Buffers))
	for _, desc := range msg.Buffers {
		view, err := cs.seg.DataView(desc.Location, desc.Size)
		if err != nil {
			return errors.NewStatus(errors.CodeInvalidParams, "bad buffer descriptor")
		}
		views = append(views, view)
	}

	call := &Call{
		Api:     msg.Header.Api,
		Params:  params,
		Buffers: views,
		Shared:  true,
	}
	if err := cs.dispatcher.Dispatch(ctx, call); err != nil {
		return err
	}

	if call.Result != nil {
		inline, err := models.EncodeInline(call.Result)
		if err != nil {
			return errors.NewStatus(errors.CodeUnknown, err.Error())
		}
		rsp.Inline = inline
		rsp.Header.InlineSize = uint32(len(inline))
	}
	return nil
}

func (cs *ChannelServer) Close() error {
	return cs.seg.Close()
}
