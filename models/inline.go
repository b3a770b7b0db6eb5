package models

import (
	"encoding/binary"

	"github.com/vmremote/winapi/errors"
)

// Payload is the decoded form of an inline payload. Exactly one concrete
// type exists per api and direction; transports convert between Payload and
// either the binary inline region or the JSON control schema.
type Payload interface {
	apiPayload()
}

type EchoRequest struct {
	Input string `json:"input"`
}

type EchoResponse struct {
	Output string `json:"output"`
}

type BufferTestRequest struct {
	Operation   uint32 `json:"operation"`
	TestPattern uint32 `json:"test_pattern"`
	// PayloadSize is the total byte count across all referenced buffers.
	PayloadSize uint64 `json:"payload_size"`
}

type BufferTestResponse struct {
	BytesProcessed uint64 `json:"bytes_processed"`
	Checksum       uint32 `json:"checksum"`
	Status         uint32 `json:"status"`
}

type PerfTestRequest struct {
	TestType    uint32 `json:"test_type"`
	Iterations  uint32 `json:"iterations"`
	TargetBytes uint64 `json:"target_bytes"`
}

type PerfTestResponse struct {
	MinLatencyNs        uint64 `json:"min_latency_ns"`
	MaxLatencyNs        uint64 `json:"max_latency_ns"`
	AvgLatencyNs        uint64 `json:"avg_latency_ns"`
	ThroughputMBps      uint64 `json:"throughput_mbps"`
	IterationsCompleted uint32 `json:"iterations_completed"`
}

type SharedBufferRequest struct {
	Path        string `json:"path"`
	Size        uint64 `json:"size"`
	Operation   string `json:"operation"`
	TestPattern uint32 `json:"test_pattern,omitempty"`
}

type SharedBufferResponse struct {
	BytesProcessed uint64 `json:"bytes_processed"`
	Checksum       uint32 `json:"checksum"`
	Status         uint32 `json:"status"`
}

func (*EchoRequest) apiPayload()          {}
func (*EchoResponse) apiPayload()         {}
func (*BufferTestRequest) apiPayload()    {}
func (*BufferTestResponse) apiPayload()   {}
func (*PerfTestRequest) apiPayload()      {}
func (*PerfTestResponse) apiPayload()     {}
func (*SharedBufferRequest) apiPayload()  {}
func (*SharedBufferResponse) apiPayload() {}

// ApiOf reports which api a payload belongs to.
func ApiOf(p Payload) (ApiID, bool) {
	switch p.(type) {
	case *EchoRequest, *EchoResponse:
		return ApiEcho, true
	case *BufferTestRequest, *BufferTestResponse:
		return ApiBufferTest, true
	case *PerfTestRequest, *PerfTestResponse:
		return ApiPerfTest, true
	case *SharedBufferRequest, *SharedBufferResponse:
		return ApiSharedBuffer, true
	default:
		return 0, false
	}
}

// EncodeInline renders a payload into the fixed inline region format.
func EncodeInline(p Payload) ([]byte, error) {
	switch v := p.(type) {
	case *EchoRequest:
		return encodeEchoString(v.Input)
	case *EchoResponse:
		return encodeEchoString(v.Output)
	case *BufferTestRequest:
		b := make([]byte, 16)
		binary.LittleEndian.PutUint32(b[0:], v.TestPattern)
		binary.LittleEndian.PutUint32(b[4:], v.Operation)
		binary.LittleEndian.PutUint64(b[8:], v.PayloadSize)
		return b, nil
	case *BufferTestResponse:
		b := make([]byte, 16)
		binary.LittleEndian.PutUint64(b[0:], v.BytesProcessed)
		binary.LittleEndian.PutUint32(b[8:], v.Checksum)
		binary.LittleEndian.PutUint32(b[12:], v.Status)
		return b, nil
	case *PerfTestRequest:
		b := make([]byte, 16)
		binary.LittleEndian.PutUint32(b[0:], v.TestType)
		binary.LittleEndian.PutUint32(b[4:], v.Iterations)
		binary.LittleEndian.PutUint64(b[8:], v.TargetBytes)
		return b, nil
	case *PerfTestResponse:
		b := make([]byte, 40)
		binary.LittleEndian.PutUint64(b[0:], v.MinLatencyNs)
		binary.LittleEndian.PutUint64(b[8:], v.MaxLatencyNs)
		binary.LittleEndian.PutUint64(b[16:], v.AvgLatencyNs)
		binary.LittleEndian.PutUint64(b[24:], v.ThroughputMBps)
		binary.LittleEndian.PutUint32(b[32:], v.IterationsCompleted)
		return b, nil
	case *SharedBufferRequest:
		op := []byte(v.Operation)
		path := []byte(v.Path)
		b := make([]byte, 24+len(op)+len(path))
		if len(b) > MaxInlineData {
			return nil, errors.ErrInvalidParameters
		}
		binary.LittleEndian.PutUint64(b[0:], v.Size)
		binary.LittleEndian.PutUint32(b[8:], v.TestPattern)
		binary.LittleEndian.PutUint32(b[12:], uint32(len(op)))
		binary.LittleEndian.PutUint32(b[16:], uint32(len(path)))
		// b[20:24] reserved
		copy(b[24:], op)
		copy(b[24+len(op):], path)
		return b, nil
	case *SharedBufferResponse:
		b := make([]byte, 16)
		binary.LittleEndian.PutUint64(b[0:], v.BytesProcessed)
		binary.LittleEndian.PutUint32(b[8:], v.Checksum)
		binary.LittleEndian.PutUint32(b[12:], v.Status)
		return b, nil
	default:
		return nil, errors.ErrInvalidParameters
	}
}

// DecodeInline parses the inline region of a message according to its api id
// and message type.
func DecodeInline(api ApiID, mt MessageType, b []byte) (Payload, error) {
	req := mt == TypeRequest
	switch api {
	case ApiEcho:
		s, err := decodeEchoString(b)
		if err != nil {
			return nil, err
		}
		if req {
			return &EchoRequest{Input: s}, nil
		}
		return &EchoResponse{Output: s}, nil
	case ApiBufferTest:
		if len(b) < 16 {
			return nil, errors.ErrMalformedMessage
		}
		if req {
			return &BufferTestRequest{
				TestPattern: binary.LittleEndian.Uint32(b[0:]),
				Operation:   binary.LittleEndian.Uint32(b[4:]),
				PayloadSize: binary.LittleEndian.Uint64(b[8:]),
			}, nil
		}
		return &BufferTestResponse{
			BytesProcessed: binary.LittleEndian.Uint64(b[0:]),
			Checksum:       binary.LittleEndian.Uint32(b[8:]),
			Status:         binary.LittleEndian.Uint32(b[12:]),
		}, nil
	case ApiPerfTest:
		if req {
			if len(b) < 16 {
				return nil, errors.ErrMalformedMessage
			}
			return &PerfTestRequest{
				TestType:    binary.LittleEndian.Uint32(b[0:]),
				Iterations:  binary.LittleEndian.Uint32(b[4:]),
				TargetBytes: binary.LittleEndian.Uint64(b[8:]),
			}, nil
		}
		if len(b) < 40 {
			return nil, errors.ErrMalformedMessage
		}
		return &PerfTestResponse{
			MinLatencyNs:        binary.LittleEndian.Uint64(b[0:]),
			MaxLatencyNs:        binary.LittleEndian.Uint64(b[8:]),
			AvgLatencyNs:        binary.LittleEndian.Uint64(b[16:]),
			ThroughputMBps:      binary.LittleEndian.Uint64(b[24:]),
			IterationsCompleted: binary.LittleEndian.Uint32(b[32:]),
		}, nil
	case ApiSharedBuffer:
		if req {
			return decodeSharedBufferRequest(b)
		}
		if len(b) < 16 {
			return nil, errors.ErrMalformedMessage
		}
		return &SharedBufferResponse{
			BytesProcessed: binary.LittleEndian.Uint64(b[0:]),
			Checksum:       binary.LittleEndian.Uint32(b[8:]),
			Status:         binary.LittleEndian.Uint32(b[12:]),
		}, nil
	default:
		return nil, errors.ErrUnknownApi
	}
}

func encodeEchoString(s string) ([]byte, error) {
	if len(s) > MaxInlineData-4 {
		return nil, errors.ErrInvalidParameters
	}
	b := make([]byte, 4+len(s))
	binary.LittleEndian.PutUint32(b[0:], uint32(len(s)))
	copy(b[4:], s)
	return b, nil
}

func decodeEchoString(b []byte) (string, error) {
	if len(b) < 4 {
		return "", errors.ErrMalformedMessage
	}
	n := binary.LittleEndian.Uint32(b[0:])
	if int(n) > len(b)-4 {
		return "", errors.ErrMalformedMessage
	}
	return string(b[4 : 4+n]), nil
}

func decodeSharedBufferRequest(b []byte) (*SharedBufferRequest, error) {
	if len(b) < 24 {
		return nil, errors.ErrMalformedMessage
	}
	size := binary.LittleEndian.Uint64(b[0:])
	pattern := binary.LittleEndian.Uint32(b[8:])
	opLen := binary.LittleEndian.Uint32(b[12:])
	pathLen := binary.LittleEndian.Uint32(b[16:])
	if uint64(opLen)+uint64(pathLen) > uint64(len(b)-24) {
		return nil, errors.ErrMalformedMessage
	}
	op := string(b[24 : 24+opLen])
	path := string(b[24+opLen : 24+opLen+pathLen])
	return &SharedBufferRequest{
		Path:        path,
		Size:        size,
		Operation:   op,
		TestPattern: pattern,
	}, nil
}
