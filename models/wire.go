// Package models defines the fixed-layout wire message, the inline payload
// structures carried inside it, and the JSON control schema used on the
// socket transport. The binary layout matches the channel protocol ABI
// byte-for-byte and is little-endian throughout.
package models

import "strconv"

const (
	// MessageMagic is validated before any other header field is trusted.
	MessageMagic    = uint32(0xCAFEBABE)
	ProtocolVersion = uint32(1)

	HeaderSize     = 64
	BufferDescSize = 16
	MaxBuffers     = 8
	MaxInlineData  = 3072

	// MessageSize is the size of one complete message on the control path.
	MessageSize = HeaderSize + MaxBuffers*BufferDescSize + MaxInlineData

	// MaxBufferSize bounds a single buffer descriptor (64 MiB).
	MaxBufferSize = uint32(64 * 1024 * 1024)

	PageSize = 4096
)

type MessageType uint32

const (
	TypeRequest  MessageType = 1
	TypeResponse MessageType = 2
	TypeError    MessageType = 3
)

type ApiID uint32

const (
	ApiEcho         ApiID = 1
	ApiBufferTest   ApiID = 2
	ApiPerfTest     ApiID = 3
	ApiSharedBuffer ApiID = 4
)

// Name returns the api identifier used in the JSON control schema.
func (id ApiID) Name() string {
	switch id {
	case ApiEcho:
		return "echo"
	case ApiBufferTest:
		return "buffer_test"
	case ApiPerfTest:
		return "performance"
	case ApiSharedBuffer:
		return "shared_buffer"
	default:
		return "api_" + strconv.FormatUint(uint64(id), 10)
	}
}

// ApiByName resolves a control-schema api name; ok is false for unknown apis.
func ApiByName(name string) (ApiID, bool) {
	switch name {
	case "echo":
		return ApiEcho, true
	case "buffer_test":
		return ApiBufferTest, true
	case "performance":
		return ApiPerfTest, true
	case "shared_buffer":
		return ApiSharedBuffer, true
	default:
		return 0, false
	}
}

// Buffer access flags.
const (
	BufferRead      = uint32(0x01)
	BufferWrite     = uint32(0x02)
	BufferReadWrite = uint32(0x03)
)

// Buffer test operations.
const (
	BufferOpRead   = uint32(1)
	BufferOpWrite  = uint32(2)
	BufferOpVerify = uint32(3)
)

// Buffer operation result statuses.
const (
	BufferStatusOK       = uint32(0)
	BufferStatusMismatch = uint32(1)
)

// Performance test types.
const (
	PerfLatency    = uint32(1)
	PerfThroughput = uint32(2)
)

// Header is the fixed 64-byte message header.
type Header struct {
	Magic       uint32
	Version     uint32
	Type        MessageType
	Api         ApiID
	RequestID   uint64
	BufferCount uint32
	InlineSize  uint32
	ErrorCode   int32
	Flags       uint32
	Timestamp   uint64
	// 24 reserved bytes pad the header to 64.
}

// BufferDesc references one out-of-band buffer. Location is an offset into
// the transport's bulk region: the channel segment's data area on the channel
// path, or the backing file on the file path. The referenced range is
// contiguous by construction.
type BufferDesc struct {
	Location uint64
	Size     uint32
	Flags    uint32
}

// Message is one logical unit on the control path. Bulk data never travels
// through it; descriptors point at the bulk path instead.
type Message struct {
	Header  Header
	Buffers []BufferDesc
	Inline  []byte
}

// NewRequest builds a request message shell for the given api.
func NewRequest(api ApiID, requestID uint64) *Message {
	return &Message{
		Header: Header{
			Magic:     MessageMagic,
			Version:   ProtocolVersion,
			Type:      TypeRequest,
			Api:       api,
			RequestID: requestID,
		},
	}
}

// NewResponse builds the response shell matching req.
func NewResponse(req *Message) *Message {
	return &Message{
		Header: Header{
			Magic:     MessageMagic,
			Version:   ProtocolVersion,
			Type:      TypeResponse,
			Api:       req.Header.Api,
			RequestID: req.Header.RequestID,
			Timestamp: req.Header.Timestamp,
		},
	}
}
