// Package track matches asynchronous responses to outstanding synchronous
// calls by request id. The pending table is touched from two paths (the
// issuing caller and the transport's receive loop), and every table mutation
// happens in one short critical section, so a late response can never race a
// timed-out caller over the same slot.
package track

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmremote/winapi/errors"
	"github.com/vmremote/winapi/models"
)

// DefaultTimeout bounds a synchronous call.
const DefaultTimeout = 5 * time.Second

// Response is what the receive path hands back to a waiting caller. Err is
// set when the transport failed underneath the pending call.
type Response struct {
	Msg  *models.Message
	Bulk []byte
	Err  error
}

type pending struct {
	id   uint64
	done chan Response // buffered; delivery never blocks the receive path
}

type Tracker struct {
	mu      sync.Mutex
	table   map[uint64]*pending
	nextID  atomic.Uint64
	timeout time.Duration
}

func New(timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tracker{
		table:   make(map[uint64]*pending),
		timeout: timeout,
	}
}

// Register allocates a fresh request id and a pending slot for it.
func (t *Tracker) Register() uint64 {
	id := t.nextID.Add(1)
	p := &pending{id: id, done: make(chan Response, 1)}
	t.mu.Lock()
	t.table[id] = p
	t.mu.Unlock()
	return id
}

// Wait blocks the caller until the response for id arrives or the timeout
// elapses. On timeout the entry is removed before returning, so a response
// arriving later finds no slot and is discarded by Complete.
func (t *Tracker) Wait(id uint64) (Response, error) {
	t.mu.Lock()
	p, ok := t.table[id]
	t.mu.Unlock()
	if !ok {
		return Response{}, errors.ErrUnknown
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case rsp := <-p.done:
		return rsp, rsp.Err
	case <-timer.C:
		t.mu.Lock()
		delete(t.table, id)
		t.mu.Unlock()
		// The receive path may have completed between the timer firing and
		// the delete; prefer the response if it is already there.
		select {
		case rsp := <-p.done:
			return rsp, rsp.Err
		default:
		}
		return Response{}, errors.ErrTimeout
	}
}

// Remove drops a pending entry without waking anyone; callers use it when
// the send itself failed and no response can ever arrive.
func (t *Tracker) Remove(id uint64) {
	t.mu.Lock()
	delete(t.table, id)
	t.mu.Unlock()
}

// Complete delivers a response to the pending caller. Lookup, removal, and
// channel send happen under one lock so delivery is at-most-once. Responses
// with no matching entry (late or spurious) are logged and dropped.
func (t *Tracker) Complete(id uint64, rsp Response) {
	t.mu.Lock()
	p, ok := t.table[id]
	if ok {
		delete(t.table, id)
		p.done <- rsp
	}
	t.mu.Unlock()
	if !ok {
		log.Printf("track: discarding response for unknown request %d", id)
	}
}

// Fail wakes every outstanding caller with err; used when the transport
// breaks under the session.
func (t *Tracker) Fail(err error) {
	t.mu.Lock()
	for id, p := range t.table {
		delete(t.table, id)
		p.done <- Response{Err: err}
	}
	t.mu.Unlock()
}

// Outstanding reports the number of pending requests; test hook.
func (t *Tracker) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.table)
}
