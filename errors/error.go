// Package errors defines the error taxonomy shared by both sides of the
// remoting protocol. Handler-level failures travel in the response header's
// error code; everything else is a local error for the caller.
package errors

import (
	"errors"
	"fmt"
)

func New(text string) error {
	return errors.New(text)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// Wrap classifies reason under one of the sentinel errors; Is(err, classify)
// keeps working on the result.
func Wrap(classify, reason error) error {
	return fmt.Errorf("%w | %v", classify, reason)
}

var (
	ErrMalformedMessage  = errors.New("malformed message")
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrBufferTooLarge    = errors.New("buffer too large")
	ErrMemoryMapFailed   = errors.New("memory map failed")
	ErrUnknownApi        = errors.New("unknown api")
	ErrTimeout           = errors.New("request timeout")
	ErrTransport         = errors.New("transport error")
	ErrUnknown           = errors.New("unknown error")
)

var (
	ErrSessionClosed    = errors.New("session is closed")
	ErrChannelClosed    = errors.New("channel closed by peer")
	ErrNoSharedMemory   = errors.New("shared memory region unavailable")
	ErrBufferReleased   = errors.New("buffer already released")
	ErrDuplicateHandler = errors.New("handler already registered for api")
)

// Status carries a wire error code together with a message, for errors that
// originate in a handler and must round-trip through the response header.
type Status struct {
	code    int32
	message string
}

func NewStatus(code int32, message string) *Status {
	return &Status{code: code, message: message}
}

func (st *Status) Error() string {
	return st.message
}

func (st *Status) Code() int32 {
	return st.code
}
