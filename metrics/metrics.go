// Package metrics holds the in-process instrumentation used by the devchain
// miner, transaction pool and processor. Counters and gauges are lock-free;
// histograms guard their aggregate with a mutex.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Counter only ever grows.
type Counter struct {
	name string
	n    atomic.Int64
}

// NewCounter returns a zeroed counter.
func NewCounter(name string) *Counter { return &Counter{name: name} }

// Inc adds one.
func (c *Counter) Inc() { c.n.Add(1) }

// Add adds delta. Non-positive deltas are dropped.
func (c *Counter) Add(delta int64) {
	if delta > 0 {
		c.n.Add(delta)
	}
}

// Value returns the current count.
func (c *Counter) Value() int64 { return c.n.Load() }

// Name returns the metric name.
func (c *Counter) Name() string { return c.name }

// Gauge holds a value that may move in both directions, such as the number
// of transactions waiting in the pool.
type Gauge struct {
	name string
	v    atomic.Int64
}

// NewGauge returns a zeroed gauge.
func NewGauge(name string) *Gauge { return &Gauge{name: name} }

func (g *Gauge) Set(v int64)     { g.v.Store(v) }
func (g *Gauge) Add(delta int64) { g.v.Add(delta) }
func (g *Gauge) Inc()            { g.v.Add(1) }
func (g *Gauge) Dec()            { g.v.Add(-1) }
func (g *Gauge) Value() int64    { return g.v.Load() }
func (g *Gauge) Name() string    { return g.name }

// HistogramSnapshot is a consistent view of a histogram's aggregate.
type HistogramSnapshot struct {
	Count int64
	Sum   float64
	Min   float64
	Max   float64
}

// Mean returns Sum/Count, or 0 for an empty snapshot.
func (s HistogramSnapshot) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// Histogram aggregates observations into count, sum, min and max.
type Histogram struct {
	name string

	mu  sync.Mutex
	agg HistogramSnapshot
}

// NewHistogram returns an empty histogram.
func NewHistogram(name string) *Histogram {
	return &Histogram{name: name, agg: HistogramSnapshot{Min: math.MaxFloat64, Max: -math.MaxFloat64}}
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.agg.Count++
	h.agg.Sum += v
	h.agg.Min = math.Min(h.agg.Min, v)
	h.agg.Max = math.Max(h.agg.Max, v)
}

// Snapshot returns the current aggregate. Min and Max are zero while the
// histogram is empty.
func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.agg.Count == 0 {
		return HistogramSnapshot{}
	}
	return h.agg
}

// Name returns the metric name.
func (h *Histogram) Name() string { return h.name }

// Timer measures one operation and reports it, in milliseconds, to a
// histogram.
type Timer struct {
	began time.Time
	into  *Histogram
}

// NewTimer starts timing. A nil histogram makes Stop a pure stopwatch.
func NewTimer(h *Histogram) *Timer { return &Timer{began: time.Now(), into: h} }

// Stop records the elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.began)
	if t.into != nil {
		t.into.Observe(float64(elapsed.Microseconds()) / 1000)
	}
	return elapsed
}
