package track

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmremote/winapi/errors"
	"github.com/vmremote/winapi/models"
)

func TestWaitReceivesCompletion(t *testing.T) {
	trk := New(time.Second)

	id := trk.Register()
	go func() {
		trk.Complete(id, Response{Msg: models.NewRequest(models.ApiEcho, id)})
	}()

	rsp, err := trk.Wait(id)
	require.NoError(t, err)
	require.Equal(t, id, rsp.Msg.Header.RequestID)
	require.Equal(t, 0, trk.Outstanding())
}

func TestWaitTimesOutWithoutLeak(t *testing.T) {
	trk := New(20 * time.Millisecond)

	id := trk.Register()
	_, err := trk.Wait(id)
	require.ErrorIs(t, err, errors.ErrTimeout)
	require.Equal(t, 0, trk.Outstanding())

	// A response arriving after the timeout must be dropped silently.
	trk.Complete(id, Response{Msg: models.NewRequest(models.ApiEcho, id)})
	require.Equal(t, 0, trk.Outstanding())
}

func TestCompleteUnknownIDDropped(t *testing.T) {
	trk := New(time.Second)
	trk.Complete(999, Response{})
	require.Equal(t, 0, trk.Outstanding())
}

func TestConcurrentCallers(t *testing.T) {
	trk := New(2 * time.Second)

	const n = 64
	ids := make([]uint64, n)
	for i := range ids {
		ids[i] = trk.Register()
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			rsp, err := trk.Wait(id)
			assert.NoError(t, err)
			assert.Equal(t, id, rsp.Msg.Header.RequestID)
		}()
	}

	// Complete out of order from a different goroutine.
	go func() {
		for i := n - 1; i >= 0; i-- {
			trk.Complete(ids[i], Response{Msg: models.NewRequest(models.ApiEcho, ids[i])})
		}
	}()

	wg.Wait()
	require.Equal(t, 0, trk.Outstanding())
}

func TestIDsMonotonic(t *testing.T) {
	trk := New(time.Second)
	a := trk.Register()
	b := trk.Register()
	require.Greater(t, b, a)
}

func TestFailWakesAllCallers(t *testing.T) {
	trk := New(5 * time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		id := trk.Register()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := trk.Wait(id)
			assert.ErrorIs(t, err, errors.ErrSessionClosed)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	trk.Fail(errors.ErrSessionClosed)
	wg.Wait()
	require.Equal(t, 0, trk.Outstanding())
}
