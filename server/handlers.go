package server

import (
	"context"
	"fmt"
	"time"

	"github.com/vmremote/winapi/errors"
	"github.com/vmremote/winapi/models"
	"github.com/vmremote/winapi/shmem"
	"github.com/vmremote/winapi/statistics/metrics"
)

// EchoHandler returns its input unchanged; the canary api both transports
// are validated against.
type EchoHandler struct{}

func (*EchoHandler) ID() models.ApiID { return models.ApiEcho }

func (*EchoHandler) Handle(_ context.Context, call *Call) error {
	req, ok := call.Params.(*models.EchoRequest)
	if !ok {
		return errors.NewStatus(errors.CodeInvalidParams, "echo: bad params")
	}
	if len(req.Input) > models.MaxInlineData-4 {
		return errors.NewStatus(errors.CodeInvalidParams, "echo: input too long")
	}
	call.Result = &models.EchoResponse{Output: req.Input}
	return nil
}

// BufferTestHandler exercises bulk transfer in three modes: the caller
// writes and the host checksums (write), the host fills and the caller reads
// back (read), and the host verifies a pattern the caller staged (verify).
type BufferTestHandler struct{}

func (*BufferTestHandler) ID() models.ApiID { return models.ApiBufferTest }

func (*BufferTestHandler) Handle(_ context.Context, call *Call) error {
	req, ok := call.Params.(*models.BufferTestRequest)
	if !ok {
		return errors.NewStatus(errors.CodeInvalidParams, "buffer_test: bad params")
	}
	if err := validateBuffers(call.Buffers); err != nil {
		return err
	}
	pattern := byte(req.TestPattern)

	switch req.Operation {
	case models.BufferOpWrite:
		var sum uint32
		for _, v := range call.Buffers {
			sum += v.Checksum()
		}
		call.Result = &models.BufferTestResponse{
			BytesProcessed: call.PayloadLen(),
			Checksum:       sum,
			Status:         models.BufferStatusOK,
		}
		return nil

	case models.BufferOpRead:
		if call.Shared {
			var sum uint32
			for _, v := range call.Buffers {
				v.Fill(pattern)
				sum += v.Checksum()
			}
			call.Result = &models.BufferTestResponse{
				BytesProcessed: call.PayloadLen(),
				Checksum:       sum,
				Status:         models.BufferStatusOK,
			}
			return nil
		}
		// Copying tier: produce the payload for the transport to return.
		size := req.PayloadSize
		if size == 0 || size > uint64(models.MaxBuffers)*uint64(models.MaxBufferSize) {
			return errors.NewStatus(errors.CodeBufferTooLarge,
				fmt.Sprintf("buffer_test: payload size %d out of range", size))
		}
		out := make([]byte, size)
		for i := range out {
			out[i] = pattern
		}
		call.BulkOut = out
		call.Result = &models.BufferTestResponse{
			BytesProcessed: size,
			Checksum:       shmem.NewView(out).Checksum(),
			Status:         models.BufferStatusOK,
		}
		return nil

	case models.BufferOpVerify:
		status := models.BufferStatusOK
		for _, v := range call.Buffers {
			if !v.Verify(pattern) {
				status = models.BufferStatusMismatch
				break
			}
		}
		call.Result = &models.BufferTestResponse{
			BytesProcessed: call.PayloadLen(),
			Status:         status,
		}
		return nil

	default:
		return errors.NewStatus(errors.CodeInvalidParams,
			fmt.Sprintf("buffer_test: unknown operation %d", req.Operation))
	}
}

// PerfTestHandler measures round-trip-free host-side costs: dispatch latency
// over repeated no-op iterations, and memory throughput over the supplied
// buffers.
type PerfTestHandler struct{}

func (*PerfTestHandler) ID() models.ApiID { return models.ApiPerfTest }

const (
	defaultPerfIterations = 1000
	maxPerfIterations     = 1 << 20
)

func (*PerfTestHandler) Handle(ctx context.Context, call *Call) error {
	req, ok := call.Params.(*models.PerfTestRequest)
	if !ok {
		return errors.NewStatus(errors.CodeInvalidParams, "performance: bad params")
	}

	switch req.TestType {
	case models.PerfLatency:
		iters := req.Iterations
		if iters == 0 {
			iters = defaultPerfIterations
		}
		if iters > maxPerfIterations {
			return errors.NewStatus(errors.CodeInvalidParams, "performance: too many iterations")
		}
		hist := &metrics.Histogram{}
		var done uint32
		for i := uint32(0); i < iters; i++ {
			if ctx.Err() != nil {
				break
			}
			start := time.Now()
			runtimeNop()
			hist.Update(time.Since(start).Nanoseconds())
			done++
		}
		s := hist.Snapshot()
		call.Result = &models.PerfTestResponse{
			MinLatencyNs:        uint64(s.Min),
			MaxLatencyNs:        uint64(s.Max),
			AvgLatencyNs:        uint64(s.Avg()),
			IterationsCompleted: done,
		}
		return nil

	case models.PerfThroughput:
		if err := validateBuffers(call.Buffers); err != nil {
			return err
		}
		target := req.TargetBytes
		if target == 0 {
			target = 64 * 1024 * 1024
		}
		scratch := call.Buffers
		if len(scratch) == 0 {
			b := make([]byte, 1024*1024)
			scratch = []*shmem.View{shmem.NewView(b)}
		}
		var processed uint64
		start := time.Now()
		for processed < target {
			if ctx.Err() != nil {
				break
			}
			for _, v := range scratch {
				v.Checksum()
				processed += uint64(v.Len())
				if processed >= target {
					break
				}
			}
		}
		elapsed := time.Since(start)
		var mbps uint64
		if elapsed > 0 {
			mbps = uint64(float64(processed) / elapsed.Seconds() / (1024 * 1024))
		}
		call.Result = &models.PerfTestResponse{
			ThroughputMBps:      mbps,
			IterationsCompleted: uint32(processed / (1024 * 1024)),
		}
		return nil

	default:
		return errors.NewStatus(errors.CodeInvalidParams,
			fmt.Sprintf("performance: unknown test type %d", req.TestType))
	}
}

//go:noinline
func runtimeNop() {}

// resolveGuestPath rewrites a peer-named shared buffer path into the host's
// native syntax. Style "windows" means the peer names drive-letter paths.
func resolveGuestPath(style, path string) string {
	if style == "windows" {
		return shmem.TranslatePath(path)
	}
	return path
}

// SharedBufferHandler maps a caller-named file for the duration of one call,
// performs the operation, and unmaps. It retains nothing between calls.
type SharedBufferHandler struct {
	// PathStyle names the peer's path syntax; see resolveGuestPath.
	PathStyle string
}

func (*SharedBufferHandler) ID() models.ApiID { return models.ApiSharedBuffer }

func (h *SharedBufferHandler) Handle(_ context.Context, call *Call) error {
	req, ok := call.Params.(*models.SharedBufferRequest)
	if !ok {
		return errors.NewStatus(errors.CodeInvalidParams, "shared_buffer: bad params")
	}
	if req.Size == 0 || req.Size > uint64(models.MaxBufferSize) {
		return errors.NewStatus(errors.CodeBufferTooLarge,
			fmt.Sprintf("shared_buffer: size %d out of range", req.Size))
	}

	buf, err := shmem.MapNamed(resolveGuestPath(h.PathStyle, req.Path), req.Size)
	if err != nil {
		return errors.NewStatus(errors.CodeMemoryMapFailed,
			fmt.Sprintf("shared_buffer: map %q: %v", req.Path, err))
	}
	defer buf.Unmap()

	view := buf.View()
	pattern := byte(req.TestPattern)
	rsp := &models.SharedBufferResponse{BytesProcessed: req.Size, Status: models.BufferStatusOK}

	switch req.Operation {
	case "write":
		view.Fill(pattern)
		rsp.Checksum = view.Checksum()
	case "verify":
		if !view.Verify(pattern) {
			rsp.Status = models.BufferStatusMismatch
		}
	case "process":
		// Checksum the caller's data, then stamp the buffer with the
		// pattern's complement so the caller can see the host was here.
		rsp.Checksum = view.Checksum()
		view.Fill(^pattern)
	default:
		return errors.NewStatus(errors.CodeInvalidParams,
			fmt.Sprintf("shared_buffer: unknown operation %q", req.Operation))
	}

	call.Result = rsp
	return nil
}

func validateBuffers(views []*shmem.View) error {
	if len(views) > models.MaxBuffers {
		return errors.NewStatus(errors.CodeInvalidParams,
			fmt.Sprintf("too many buffers: %d", len(views)))
	}
	for _, v := range views {
		if uint32(v.Len()) > models.MaxBufferSize {
			return errors.NewStatus(errors.CodeBufferTooLarge,
				fmt.Sprintf("buffer size %d exceeds limit", v.Len()))
		}
	}
	return nil
}
