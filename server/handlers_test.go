package server

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vmremote/winapi/errors"
	"github.com/vmremote/winapi/models"
	"github.com/vmremote/winapi/shmem"
)

func testDispatcher() *Dispatcher {
	return NewDispatcher(nil, "")
}

func TestDispatcherRejectsDuplicate(t *testing.T) {
	d := testDispatcher()
	err := d.Register(&EchoHandler{})
	require.ErrorIs(t, err, errors.ErrDuplicateHandler)
}

func TestDispatchUnknownApi(t *testing.T) {
	d := testDispatcher()
	err := d.Dispatch(context.Background(), &Call{Api: models.ApiID(200)})
	require.Error(t, err)

	var st *errors.Status
	require.True(t, errors.As(err, &st))
	require.Equal(t, errors.CodeInvalidApi, st.Code())
}

func TestEchoHandler(t *testing.T) {
	d := testDispatcher()
	call := &Call{
		Api:    models.ApiEcho,
		Params: &models.EchoRequest{Input: "round and round"},
	}
	require.NoError(t, d.Dispatch(context.Background(), call))
	require.Equal(t, &models.EchoResponse{Output: "round and round"}, call.Result)
}

func TestBufferTestWriteChecksums(t *testing.T) {
	data := make([]byte, 8192)
	for i := range data {
		data[i] = byte(i)
	}
	want := shmem.NewView(data).Checksum()

	call := &Call{
		Api: models.ApiBufferTest,
		Params: &models.BufferTestRequest{
			Operation:   models.BufferOpWrite,
			PayloadSize: uint64(len(data)),
		},
		Buffers: []*shmem.View{shmem.NewView(data)},
		Shared:  true,
	}
	require.NoError(t, testDispatcher().Dispatch(context.Background(), call))

	rsp := call.Result.(*models.BufferTestResponse)
	require.Equal(t, uint64(len(data)), rsp.BytesProcessed)
	require.Equal(t, want, rsp.Checksum)
	require.Equal(t, models.BufferStatusOK, rsp.Status)
}

func TestBufferTestReadFillsSharedViews(t *testing.T) {
	buf := make([]byte, 4096)
	call := &Call{
		Api: models.ApiBufferTest,
		Params: &models.BufferTestRequest{
			Operation:   models.BufferOpRead,
			TestPattern: 0x5A,
			PayloadSize: uint64(len(buf)),
		},
		Buffers: []*shmem.View{shmem.NewView(buf)},
		Shared:  true,
	}
	require.NoError(t, testDispatcher().Dispatch(context.Background(), call))
	require.True(t, shmem.NewView(buf).Verify(0x5A))
	require.Nil(t, call.BulkOut)
}

func TestBufferTestReadProducesBulkWhenNotShared(t *testing.T) {
	call := &Call{
		Api: models.ApiBufferTest,
		Params: &models.BufferTestRequest{
			Operation:   models.BufferOpRead,
			TestPattern: 0x33,
			PayloadSize: 4096,
		},
	}
	require.NoError(t, testDispatcher().Dispatch(context.Background(), call))
	require.Len(t, call.BulkOut, 4096)
	require.True(t, shmem.NewView(call.BulkOut).Verify(0x33))
}

func TestBufferTestVerify(t *testing.T) {
	good := make([]byte, 4096)
	for i := range good {
		good[i] = 0xEE
	}

	call := &Call{
		Api: models.ApiBufferTest,
		Params: &models.BufferTestRequest{
			Operation:   models.BufferOpVerify,
			TestPattern: 0xEE,
		},
		Buffers: []*shmem.View{shmem.NewView(good)},
		Shared:  true,
	}
	require.NoError(t, testDispatcher().Dispatch(context.Background(), call))
	require.Equal(t, models.BufferStatusOK, call.Result.(*models.BufferTestResponse).Status)

	good[1000] = 0
	call.Result = nil
	require.NoError(t, testDispatcher().Dispatch(context.Background(), call))
	require.Equal(t, models.BufferStatusMismatch, call.Result.(*models.BufferTestResponse).Status)
}

func TestBufferTestRejectsUnknownOp(t *testing.T) {
	call := &Call{
		Api:    models.ApiBufferTest,
		Params: &models.BufferTestRequest{Operation: 99},
	}
	err := testDispatcher().Dispatch(context.Background(), call)
	var st *errors.Status
	require.True(t, errors.As(err, &st))
	require.Equal(t, errors.CodeInvalidParams, st.Code())
}

func TestPerfTestLatency(t *testing.T) {
	call := &Call{
		Api: models.ApiPerfTest,
		Params: &models.PerfTestRequest{
			TestType:   models.PerfLatency,
			Iterations: 100,
		},
	}
	require.NoError(t, testDispatcher().Dispatch(context.Background(), call))

	rsp := call.Result.(*models.PerfTestResponse)
	require.Equal(t, uint32(100), rsp.IterationsCompleted)
	require.LessOrEqual(t, rsp.MinLatencyNs, rsp.AvgLatencyNs)
	require.LessOrEqual(t, rsp.AvgLatencyNs, rsp.MaxLatencyNs)
}

func TestPerfTestThroughput(t *testing.T) {
	buf := make([]byte, 1<<20)
	call := &Call{
		Api: models.ApiPerfTest,
		Params: &models.PerfTestRequest{
			TestType:    models.PerfThroughput,
			TargetBytes: 8 << 20,
		},
		Buffers: []*shmem.View{shmem.NewView(buf)},
		Shared:  true,
	}
	require.NoError(t, testDispatcher().Dispatch(context.Background(), call))

	rsp := call.Result.(*models.PerfTestResponse)
	require.NotZero(t, rsp.ThroughputMBps)
}

func TestSharedBufferHandlerLifecycle(t *testing.T) {
	dir := t.TempDir()
	dyn, err := shmem.AllocDynBuffer(dir, 8192)
	require.NoError(t, err)
	defer dyn.Release()

	d := testDispatcher()

	// write: host fills the mapped file with the pattern.
	call := &Call{
		Api: models.ApiSharedBuffer,
		Params: &models.SharedBufferRequest{
			Path:        dyn.Path(),
			Size:        dyn.Size(),
			Operation:   "write",
			TestPattern: 0x11,
		},
	}
	require.NoError(t, d.Dispatch(context.Background(), call))
	require.True(t, dyn.View().Verify(0x11), "host writes land in the producer's mapping")

	// verify agrees.
	call = &Call{
		Api: models.ApiSharedBuffer,
		Params: &models.SharedBufferRequest{
			Path:        dyn.Path(),
			Size:        dyn.Size(),
			Operation:   "verify",
			TestPattern: 0x11,
		},
	}
	require.NoError(t, d.Dispatch(context.Background(), call))
	require.Equal(t, models.BufferStatusOK, call.Result.(*models.SharedBufferResponse).Status)

	// process checksums then stamps the complement.
	call = &Call{
		Api: models.ApiSharedBuffer,
		Params: &models.SharedBufferRequest{
			Path:        dyn.Path(),
			Size:        dyn.Size(),
			Operation:   "process",
			TestPattern: 0x11,
		},
	}
	require.NoError(t, d.Dispatch(context.Background(), call))
	require.Equal(t, dyn.Size(), call.Result.(*models.SharedBufferResponse).BytesProcessed)
	require.True(t, dyn.View().Verify(^byte(0x11)))
}

func TestResolveGuestPath(t *testing.T) {
	require.Equal(t, "/mnt/c/shm/buf", resolveGuestPath("windows", `C:\shm\buf`))
	require.Equal(t, "/dev/shm/buf", resolveGuestPath("", "/dev/shm/buf"))
	require.Equal(t, `C:\shm\buf`, resolveGuestPath("", `C:\shm\buf`))
}

func TestSharedBufferHandlerMapFailure(t *testing.T) {
	call := &Call{
		Api: models.ApiSharedBuffer,
		Params: &models.SharedBufferRequest{
			Path:      filepath.Join(t.TempDir(), "does_not_exist"),
			Size:      4096,
			Operation: "write",
		},
	}
	err := testDispatcher().Dispatch(context.Background(), call)
	var st *errors.Status
	require.True(t, errors.As(err, &st))
	require.Equal(t, errors.CodeMemoryMapFailed, st.Code())
}
