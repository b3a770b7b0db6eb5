package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHistogramAccumulates(t *testing.T) {
	h := &Histogram{}
	for _, v := range []int64{10, 5, 30} {
		h.Update(v)
	}
	s := h.Snapshot()
	require.Equal(t, int64(3), s.Count)
	require.Equal(t, int64(5), s.Min)
	require.Equal(t, int64(30), s.Max)
	require.Equal(t, int64(15), s.Avg())

	h.Clear()
	require.Equal(t, int64(0), h.Snapshot().Count)
}

func TestRegistryReturnsSameInstrument(t *testing.T) {
	r := NewRegistry()
	r.Counter("calls").Inc(1)
	r.Counter("calls").Inc(2)
	require.Equal(t, int64(3), r.Counter("calls").Count())

	names := []string{}
	r.Each(func(name string, _ interface{}) { names = append(names, name) })
	require.Equal(t, []string{"calls"}, names)
}

func TestCounterConcurrent(t *testing.T) {
	c := &Counter{}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Inc(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(1600), c.Count())
}

func TestFormatSkipsEmptyRegistry(t *testing.T) {
	r := NewRegistry()
	require.Empty(t, Format("title", r))

	r.Histogram("lat").Update(7)
	out := Format("title", r)
	require.Contains(t, out, "lat: count=1, min=7, max=7, avg=7")
}
