package models

import (
	"encoding/json"

	"github.com/vmremote/winapi/errors"
)

// The socket transport carries one versioned JSON document per control
// message. Every api has exactly one params section on the request and one
// result section on the response; Validate runs once at the boundary and the
// rest of the code never re-checks shape.

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type ControlRequest struct {
	Api       string `json:"api"`
	RequestID uint64 `json:"request_id"`
	Version   uint32 `json:"version"`

	// SocketTransfer is set when bulk bytes follow this message on the
	// stream instead of sitting in the shared memory region.
	SocketTransfer bool   `json:"socket_transfer,omitempty"`
	PayloadSize    uint64 `json:"payload_size,omitempty"`

	Echo         *EchoRequest         `json:"echo,omitempty"`
	BufferTest   *BufferTestRequest   `json:"buffer_test,omitempty"`
	PerfTest     *PerfTestRequest     `json:"performance,omitempty"`
	SharedBuffer *SharedBufferRequest `json:"shared_buffer,omitempty"`
}

type ControlResponse struct {
	RequestID uint64 `json:"request_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	ErrorCode int32  `json:"error_code,omitempty"`

	SocketTransfer bool   `json:"socket_transfer,omitempty"`
	PayloadSize    uint64 `json:"payload_size,omitempty"`

	Echo         *EchoResponse         `json:"echo,omitempty"`
	BufferTest   *BufferTestResponse   `json:"buffer_test,omitempty"`
	PerfTest     *PerfTestResponse     `json:"performance,omitempty"`
	SharedBuffer *SharedBufferResponse `json:"shared_buffer,omitempty"`
}

// Validate checks the request once at the boundary: known api, matching
// version, and exactly the params section the api requires.
func (cr *ControlRequest) Validate() error {
	if cr.Version != ProtocolVersion {
		return errors.ErrMalformedMessage
	}
	api, ok := ApiByName(cr.Api)
	if !ok {
		return errors.ErrUnknownApi
	}
	sections := 0
	if cr.Echo != nil {
		sections++
	}
	if cr.BufferTest != nil {
		sections++
	}
	if cr.PerfTest != nil {
		sections++
	}
	if cr.SharedBuffer != nil {
		sections++
	}
	if sections != 1 {
		return errors.ErrMalformedMessage
	}
	switch api {
	case ApiEcho:
		ok = cr.Echo != nil
	case ApiBufferTest:
		ok = cr.BufferTest != nil
	case ApiPerfTest:
		ok = cr.PerfTest != nil
	case ApiSharedBuffer:
		ok = cr.SharedBuffer != nil
	}
	if !ok {
		return errors.ErrMalformedMessage
	}
	return nil
}

// Params returns the request's payload section.
func (cr *ControlRequest) Params() Payload {
	switch {
	case cr.Echo != nil:
		return cr.Echo
	case cr.BufferTest != nil:
		return cr.BufferTest
	case cr.PerfTest != nil:
		return cr.PerfTest
	case cr.SharedBuffer != nil:
		return cr.SharedBuffer
	default:
		return nil
	}
}

// SetParams stores a request payload into the section matching its type.
func (cr *ControlRequest) SetParams(p Payload) error {
	switch v := p.(type) {
	case *EchoRequest:
		cr.Echo = v
	case *BufferTestRequest:
		cr.BufferTest = v
	case *PerfTestRequest:
		cr.PerfTest = v
	case *SharedBufferRequest:
		cr.SharedBuffer = v
	default:
		return errors.ErrInvalidParameters
	}
	return nil
}

// SetResult stores a payload into the section matching its type.
func (cr *ControlResponse) SetResult(p Payload) error {
	switch v := p.(type) {
	case *EchoResponse:
		cr.Echo = v
	case *BufferTestResponse:
		cr.BufferTest = v
	case *PerfTestResponse:
		cr.PerfTest = v
	case *SharedBufferResponse:
		cr.SharedBuffer = v
	default:
		return errors.ErrInvalidParameters
	}
	return nil
}

// Result returns the response's payload section, nil for error responses.
func (cr *ControlResponse) Result() Payload {
	switch {
	case cr.Echo != nil:
		return cr.Echo
	case cr.BufferTest != nil:
		return cr.BufferTest
	case cr.PerfTest != nil:
		return cr.PerfTest
	case cr.SharedBuffer != nil:
		return cr.SharedBuffer
	default:
		return nil
	}
}

// MarshalControl renders any control document for framing.
func MarshalControl(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(errors.ErrMalformedMessage, err)
	}
	return b, nil
}

func UnmarshalControlRequest(b []byte) (*ControlRequest, error) {
	var cr ControlRequest
	if err := json.Unmarshal(b, &cr); err != nil {
		return nil, errors.Wrap(errors.ErrMalformedMessage, err)
	}
	if err := cr.Validate(); err != nil {
		return nil, err
	}
	return &cr, nil
}

func UnmarshalControlResponse(b []byte) (*ControlResponse, error) {
	var cr ControlResponse
	if err := json.Unmarshal(b, &cr); err != nil {
		return nil, errors.Wrap(errors.ErrMalformedMessage, err)
	}
	if cr.Status != StatusSuccess && cr.Status != StatusError {
		return nil, errors.ErrMalformedMessage
	}
	return &cr, nil
}
