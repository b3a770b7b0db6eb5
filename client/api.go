package client

import (
	"context"

	"github.com/vmremote/winapi/errors"
	"github.com/vmremote/winapi/models"
)

// Echo round-trips a string through the host unchanged.
func (s *Session) Echo(ctx context.Context, input string) (string, error) {
	if len(input) > models.MaxInlineData-4 {
		return "", errors.ErrInvalidParameters
	}
	msg, _, err := s.roundTrip(ctx, models.ApiEcho, &models.EchoRequest{Input: input}, nil, nil)
	if err != nil {
		return "", err
	}
	rsp, err := decodeResult[*models.EchoResponse](msg)
	if err != nil {
		return "", err
	}
	return rsp.Output, nil
}

// BufferTestResult reports what the host did with the buffers.
type BufferTestResult struct {
	BytesProcessed uint64
	Checksum       uint32
	Match          bool
}

// BufferTest runs one bulk-transfer exercise over the caller's buffers.
// BufferOpWrite sends the buffer contents for the host to checksum;
// BufferOpRead has the host produce pattern data back into the buffers;
// BufferOpVerify has the host check the sent contents against pattern.
func (s *Session) BufferTest(ctx context.Context, op uint32, pattern uint32, buffers [][]byte) (*BufferTestResult, error) {
	if len(buffers) > models.MaxBuffers {
		return nil, errors.ErrInvalidParameters
	}
	var total uint64
	for _, b := range buffers {
		if uint32(len(b)) > models.MaxBufferSize {
			return nil, errors.ErrBufferTooLarge
		}
		total += uint64(len(b))
	}

	req := &models.BufferTestRequest{
		Operation:   op,
		TestPattern: pattern,
		PayloadSize: total,
	}

	var (
		msg  *models.Message
		bulk []byte
		err  error
	)
	if s.arena != nil {
		msg, err = s.bufferTestChannel(ctx, req, op, buffers)
	} else {
		msg, bulk, err = s.bufferTestSocket(ctx, req, op, buffers)
	}
	if err != nil {
		return nil, err
	}

	rsp, err := decodeResult[*models.BufferTestResponse](msg)
	if err != nil {
		return nil, err
	}

	// Read results arrive as one bulk run on the socket tiers; scatter it
	// back over the caller's buffers.
	if op == models.BufferOpRead && bulk != nil {
		off := 0
		for _, b := range buffers {
			if off >= len(bulk) {
				break
			}
			off += copy(b, bulk[off:])
		}
	}

	return &BufferTestResult{
		BytesProcessed: rsp.BytesProcessed,
		Checksum:       rsp.Checksum,
		Match:          rsp.Status == models.BufferStatusOK,
	}, nil
}

// bufferTestChannel stages the buffers in the channel segment's data region
// and passes offset descriptors; the host operates on the shared memory in
// place.
func (s *Session) bufferTestChannel(ctx context.Context, req *models.BufferTestRequest, op uint32, buffers [][]byte) (*models.Message, error) {
	type staged struct {
		off  int
		size int
	}
	var (
		descs  []models.BufferDesc
		ranges []staged
	)
	defer func() {
		for _, r := range ranges {
			s.arena.Free(r.off, r.size)
		}
	}()

	for _, b := range buffers {
		off, view, err := s.arena.Alloc(len(b))
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, staged{off, len(b)})
		if op != models.BufferOpRead {
			if err := view.WriteAt(b, 0); err != nil {
				return nil, err
			}
		}
		descs = append(descs, models.BufferDesc{
			Location: uint64(off),
			Size:     uint32(len(b)),
			Flags:    bufferFlags(op),
		})
	}

	msg, _, err := s.roundTrip(ctx, models.ApiBufferTest, req, descs, nil)
	if err != nil {
		return nil, err
	}

	// The host filled the staged ranges; copy them out before they free.
	if op == models.BufferOpRead {
		for i, b := range buffers {
			view, verr := s.arena.ViewAt(uint64(ranges[i].off), uint32(ranges[i].size))
			if verr != nil {
				return nil, verr
			}
			if rerr := view.ReadAt(b, 0); rerr != nil {
				return nil, rerr
			}
		}
	}
	return msg, nil
}

// bufferTestSocket flattens the buffers into one payload run for the stream
// tiers; read operations send no payload and expect one back.
func (s *Session) bufferTestSocket(ctx context.Context, req *models.BufferTestRequest, op uint32, buffers [][]byte) (*models.Message, []byte, error) {
	var bulk []byte
	if op != models.BufferOpRead {
		bulk = make([]byte, 0, req.PayloadSize)
		for _, b := range buffers {
			bulk = append(bulk, b...)
		}
	}
	return s.roundTrip(ctx, models.ApiBufferTest, req, nil, bulk)
}

func bufferFlags(op uint32) uint32 {
	switch op {
	case models.BufferOpRead:
		return models.BufferWrite // host writes, caller reads
	case models.BufferOpWrite, models.BufferOpVerify:
		return models.BufferRead
	default:
		return models.BufferReadWrite
	}
}

// PerfTestResult is the host-measured outcome of a performance run.
type PerfTestResult struct {
	MinLatencyNs        uint64
	MaxLatencyNs        uint64
	AvgLatencyNs        uint64
	ThroughputMBps      uint64
	IterationsCompleted uint32
}

// PerfTest runs a host-side performance measurement.
func (s *Session) PerfTest(ctx context.Context, testType, iterations uint32, targetBytes uint64) (*PerfTestResult, error) {
	req := &models.PerfTestRequest{
		TestType:    testType,
		Iterations:  iterations,
		TargetBytes: targetBytes,
	}
	msg, _, err := s.roundTrip(ctx, models.ApiPerfTest, req, nil, nil)
	if err != nil {
		return nil, err
	}
	rsp, err := decodeResult[*models.PerfTestResponse](msg)
	if err != nil {
		return nil, err
	}
	return &PerfTestResult{
		MinLatencyNs:        rsp.MinLatencyNs,
		MaxLatencyNs:        rsp.MaxLatencyNs,
		AvgLatencyNs:        rsp.AvgLatencyNs,
		ThroughputMBps:      rsp.ThroughputMBps,
		IterationsCompleted: rsp.IterationsCompleted,
	}, nil
}

// decodeResult unpacks the inline result payload of a response message.
func decodeResult[T models.Payload](msg *models.Message) (T, error) {
	var zero T
	p, err := models.DecodeInline(msg.Header.Api, models.TypeResponse, msg.Inline)
	if err != nil {
		return zero, err
	}
	out, ok := p.(T)
	if !ok {
		return zero, errors.ErrMalformedMessage
	}
	return out, nil
}
