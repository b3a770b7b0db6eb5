package server

import (
	"context"
	"sync"
	"time"

	"github.com/vmremote/winapi/errors"
	"github.com/vmremote/winapi/models"
	"github.com/vmremote/winapi/shmem"
	"github.com/vmremote/winapi/statistics"
)

// Call is one request moving through dispatch. The transport layer decodes
// params and resolves buffer views before dispatch; handlers fill Result and,
// for bulk-producing operations on copying tiers, BulkOut.
type Call struct {
	Api    models.ApiID
	Params models.Payload

	// Buffers are the request's bulk ranges. On the channel tier they
	// window guest-visible shared memory; writes land in the caller's
	// mapping directly.
	Buffers []*shmem.View

	// Shared reports whether writes to Buffers reach the caller. When
	// false, output bulk goes through BulkOut instead.
	Shared bool

	Result  models.Payload
	BulkOut []byte
}

// PayloadLen sums the sizes of all request buffers.
func (c *Call) PayloadLen() uint64 {
	var n uint64
	for _, v := range c.Buffers {
		n += uint64(v.Len())
	}
	return n
}

// Handler serves one api.
type Handler interface {
	ID() models.ApiID
	Handle(ctx context.Context, call *Call) error
}

// Dispatcher routes calls to registered handlers. Both transports feed the
// same instance, so every api behaves identically regardless of how the
// request arrived.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[models.ApiID]Handler
	stats    *statistics.Stats
}

// NewDispatcher creates a dispatcher with every built-in api registered.
// guestPathStyle names the peer's shared buffer path syntax, "" for native.
func NewDispatcher(stats *statistics.Stats, guestPathStyle string) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[models.ApiID]Handler),
		stats:    stats,
	}
	// Built-ins can't collide; ignore the duplicate check.
	_ = d.Register(&EchoHandler{})
	_ = d.Register(&BufferTestHandler{})
	_ = d.Register(&PerfTestHandler{})
	_ = d.Register(&SharedBufferHandler{PathStyle: guestPathStyle})
	return d
}

// Register adds a handler; a second handler for the same api is refused.
func (d *Dispatcher) Register(h Handler) error {
	if h == nil || h.ID() == 0 {
		return errors.ErrInvalidParameters
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[h.ID()]; ok {
		return errors.ErrDuplicateHandler
	}
	d.handlers[h.ID()] = h
	return nil
}

// Dispatch runs the handler for call.Api. Handler failures come back as
// errors carrying a wire code; they are results, not transport failures.
func (d *Dispatcher) Dispatch(ctx context.Context, call *Call) error {
	d.mu.RLock()
	h, ok := d.handlers[call.Api]
	d.mu.RUnlock()
	if !ok {
		return errors.NewStatus(errors.CodeInvalidApi, "unknown api "+call.Api.Name())
	}
	start := time.Now()
	err := h.Handle(ctx, call)
	if d.stats != nil {
		d.stats.RecordCall(call.Api.Name(), time.Since(start), err)
	}
	return err
}
