package shmem

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vmremote/winapi/errors"
	"github.com/vmremote/winapi/models"
)

func TestViewBounds(t *testing.T) {
	v := NewView(make([]byte, 64))

	require.NoError(t, v.WriteAt([]byte{1, 2, 3}, 61))
	require.ErrorIs(t, v.WriteAt([]byte{1, 2, 3}, 62), errors.ErrInvalidParameters)
	require.ErrorIs(t, v.ReadAt(make([]byte, 1), 64), errors.ErrInvalidParameters)

	sub, err := v.Slice(32, 32)
	require.NoError(t, err)
	require.Equal(t, 32, sub.Len())
	_, err = v.Slice(32, 33)
	require.ErrorIs(t, err, errors.ErrInvalidParameters)
}

func TestViewChecksumDeterministic(t *testing.T) {
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i * 7)
	}
	a := NewView(data).Checksum()
	b := NewView(data).Checksum()
	require.Equal(t, a, b)

	data[100]++
	require.NotEqual(t, a, NewView(data).Checksum())
}

func TestViewFillVerify(t *testing.T) {
	v := NewView(make([]byte, 4096))
	v.Fill(0x5A)
	require.True(t, v.Verify(0x5A))
	require.False(t, v.Verify(0x5B))

	require.NoError(t, v.WriteAt([]byte{0}, 4095))
	require.False(t, v.Verify(0x5A))
}

func TestRegionCreateOpenClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")

	host, err := CreateRegion(path, 8192, 4096)
	require.NoError(t, err)

	guest, err := OpenRegion(path)
	require.NoError(t, err)

	require.Equal(t, uint32(8192), guest.RequestSize())
	require.Equal(t, uint32(4096), guest.ResponseSize())

	// The two mappings window the same memory.
	require.NoError(t, guest.Request().WriteAt([]byte("ping"), 0))
	got := make([]byte, 4)
	require.NoError(t, host.Request().ReadAt(got, 0))
	require.Equal(t, "ping", string(got))

	host.BumpRequestCount()
	require.Equal(t, uint32(1), guest.RequestCount())

	require.NoError(t, guest.Close())
	_, err = os.Stat(path)
	require.NoError(t, err, "non-creator close must not remove the file")

	require.NoError(t, host.Close())
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err), "creator close removes the file")
}

func TestOpenRegionRejectsCorruptHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")
	host, err := CreateRegion(path, 4096, 4096)
	require.NoError(t, err)
	defer host.Close()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[0] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = OpenRegion(path)
	require.Error(t, err)
}

func TestDynBufferLifecycle(t *testing.T) {
	dir := t.TempDir()

	buf, err := AllocDynBuffer(dir, 8192)
	require.NoError(t, err)
	require.Contains(t, buf.Path(), "winapi_shared_buffer_")

	buf.View().Fill(0x42)
	require.True(t, buf.View().Verify(0x42))

	// A consumer maps the same file by name and sees the contents.
	mapped, err := MapNamed(buf.Path(), buf.Size())
	require.NoError(t, err)
	require.True(t, mapped.View().Verify(0x42))
	require.NoError(t, mapped.Unmap())
	_, err = os.Stat(buf.Path())
	require.NoError(t, err, "consumer unmap must not delete the file")

	require.NoError(t, buf.Release())
	_, err = os.Stat(buf.Path())
	require.True(t, os.IsNotExist(err), "release deletes the backing file")

	require.ErrorIs(t, buf.Release(), errors.ErrBufferReleased)
}

func TestDynBufferNamesUnique(t *testing.T) {
	dir := t.TempDir()
	a, err := AllocDynBuffer(dir, 4096)
	require.NoError(t, err)
	defer a.Release()
	b, err := AllocDynBuffer(dir, 4096)
	require.NoError(t, err)
	defer b.Release()
	require.NotEqual(t, a.Path(), b.Path())
}

func TestTranslatePath(t *testing.T) {
	require.Equal(t, "/mnt/c/Temp/buf", TranslatePath(`C:\Temp\buf`))
	require.Equal(t, "/mnt/d/x/y", TranslatePath(`D:/x/y`))
	require.Equal(t, "/tmp/buf", TranslatePath("/tmp/buf"))
}

func TestProducerPath(t *testing.T) {
	require.Equal(t, `C:\Temp\buf`, ProducerPath("/mnt/c/Temp/buf", "windows"))
	require.Equal(t, "/mnt/c/Temp/buf", ProducerPath("/mnt/c/Temp/buf", ""))
	require.Equal(t, "/tmp/buf", ProducerPath("/tmp/buf", "windows"))
}

func TestArenaAllocFree(t *testing.T) {
	mem := make([]byte, 64*1024)
	a := NewArena(mem)

	off1, v1, err := a.Alloc(5000)
	require.NoError(t, err)
	require.Equal(t, 5000, v1.Len())

	off2, _, err := a.Alloc(4096)
	require.NoError(t, err)
	require.NotEqual(t, off1, off2)
	require.Equal(t, off1+8192, off2, "allocations advance page-granular")

	// Free and reallocate: the freed range must be reusable.
	a.Free(off1, 5000)
	off3, _, err := a.Alloc(4096)
	require.NoError(t, err)
	require.Equal(t, off1, off3)

	_, _, err = a.Alloc(len(mem) * 2)
	require.Error(t, err)
}

func TestBufferPageAligned(t *testing.T) {
	b, err := AllocBuffer(100)
	require.NoError(t, err)
	require.Equal(t, 100, b.Size())
	require.Len(t, b.Bytes(), 100)
	require.NoError(t, b.Free())
	require.ErrorIs(t, b.Free(), errors.ErrBufferReleased)

	_, err = AllocBuffer(int(models.MaxBufferSize) + 1)
	require.ErrorIs(t, err, errors.ErrBufferTooLarge)
}
