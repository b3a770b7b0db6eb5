// Package metrics holds the small set of instruments the sdk records:
// counters and latency histograms, collected in a registry that the owning
// session or service creates and closes. Histograms keep count/min/max/sum;
// that is enough for the performance api and the periodic snapshot log.
package metrics

import (
	"sort"
	"sync"
)

type Counter struct {
	mu sync.Mutex
	n  int64
}

func (c *Counter) Inc(delta int64) {
	c.mu.Lock()
	c.n += delta
	c.mu.Unlock()
}

func (c *Counter) Count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Histogram accumulates int64 samples, typically nanosecond latencies.
type Histogram struct {
	mu    sync.Mutex
	count int64
	min   int64
	max   int64
	sum   int64
}

func (h *Histogram) Update(v int64) {
	h.mu.Lock()
	if h.count == 0 || v < h.min {
		h.min = v
	}
	if h.count == 0 || v > h.max {
		h.max = v
	}
	h.count++
	h.sum += v
	h.mu.Unlock()
}

// Snapshot returns a consistent copy of the accumulated values.
func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HistogramSnapshot{Count: h.count, Min: h.min, Max: h.max, Sum: h.sum}
}

func (h *Histogram) Clear() {
	h.mu.Lock()
	h.count, h.min, h.max, h.sum = 0, 0, 0, 0
	h.mu.Unlock()
}

type HistogramSnapshot struct {
	Count int64
	Min   int64
	Max   int64
	Sum   int64
}

func (s HistogramSnapshot) Avg() int64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / s.Count
}

// Registry names instruments and hands the same instance back for the same
// name, so call sites never coordinate registration.
type Registry struct {
	mu         sync.Mutex
	counters   map[string]*Counter
	histograms map[string]*Histogram
}

func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		histograms: make(map[string]*Histogram),
	}
}

func (r *Registry) Counter(name string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[name]
	if !ok {
		c = &Counter{}
		r.counters[name] = c
	}
	return c
}

func (r *Registry) Histogram(name string) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.histograms[name]
	if !ok {
		h = &Histogram{}
		r.histograms[name] = h
	}
	return h
}

// Each visits every instrument in name order.
func (r *Registry) Each(fn func(name string, metric interface{})) {
	r.mu.Lock()
	names := make([]string, 0, len(r.counters)+len(r.histograms))
	for name := range r.counters {
		names = append(names, name)
	}
	for name := range r.histograms {
		names = append(names, name)
	}
	byName := make(map[string]interface{}, len(names))
	for name, c := range r.counters {
		byName[name] = c
	}
	for name, h := range r.histograms {
		byName[name] = h
	}
	r.mu.Unlock()

	sort.Strings(names)
	for _, name := range names {
		fn(name, byName[name])
	}
}

func (r *Registry) UnregisterAll() {
	r.mu.Lock()
	r.counters = make(map[string]*Counter)
	r.histograms = make(map[string]*Histogram)
	r.mu.Unlock()
}
