// Package statistics collects per-owner call metrics. Each session and each
// host service owns its own Stats; nothing here is global.
package statistics

import (
	"time"

	"github.com/vmremote/winapi/statistics/metrics"
)

// SnapshotInterval is how often an enabled Stats logs itself.
const SnapshotInterval = 10 * time.Second

type Stats struct {
	reg       *metrics.Registry
	closeChan chan struct{}
}

// New creates a Stats registry. When logTitle is non-empty a background
// routine logs a snapshot every SnapshotInterval until Close.
func New(logTitle string) *Stats {
	s := &Stats{
		reg:       metrics.NewRegistry(),
		closeChan: make(chan struct{}),
	}
	if logTitle != "" {
		metrics.LogRoutine(logTitle, s.reg, SnapshotInterval, s.closeChan)
	}
	return s
}

// RecordCall notes one completed call for api with its round-trip duration.
func (s *Stats) RecordCall(api string, d time.Duration, err error) {
	if err != nil {
		s.reg.Counter(api + ".errors").Inc(1)
		return
	}
	s.reg.Counter(api + ".calls").Inc(1)
	s.reg.Histogram(api + ".latency_ns").Update(d.Nanoseconds())
}

// Latency exposes the latency histogram for api; the performance handler
// reads min/max/avg from it.
func (s *Stats) Latency(api string) metrics.HistogramSnapshot {
	return s.reg.Histogram(api + ".latency_ns").Snapshot()
}

// Calls returns the success count for api.
func (s *Stats) Calls(api string) int64 {
	return s.reg.Counter(api + ".calls").Count()
}

func (s *Stats) Registry() *metrics.Registry {
	return s.reg
}

func (s *Stats) Close() {
	close(s.closeChan)
	s.reg.UnregisterAll()
}
