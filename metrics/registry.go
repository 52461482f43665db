package metrics

import "sync"

// Registry owns a namespace of metrics. Lookups create the metric on first
// use, so a component can resolve its instruments once at construction time
// without any registration step.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// DefaultRegistry is shared by components that are not handed their own.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

func lookup[T any](mu *sync.RWMutex, m map[string]*T, name string, mk func(string) *T) *T {
	mu.RLock()
	v, ok := m[name]
	mu.RUnlock()
	if ok {
		return v
	}
	mu.Lock()
	defer mu.Unlock()
	if v, ok = m[name]; ok {
		return v
	}
	v = mk(name)
	m[name] = v
	return v
}

// Counter returns the counter called name.
func (r *Registry) Counter(name string) *Counter {
	return lookup(&r.mu, r.counters, name, NewCounter)
}

// Gauge returns the gauge called name.
func (r *Registry) Gauge(name string) *Gauge {
	return lookup(&r.mu, r.gauges, name, NewGauge)
}

// Histogram returns the histogram called name.
func (r *Registry) Histogram(name string) *Histogram {
	return lookup(&r.mu, r.histograms, name, NewHistogram)
}

// Snapshot flattens the registry into name → value. Counters and gauges map
// to int64, histograms to a HistogramSnapshot.
func (r *Registry) Snapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]any, len(r.counters)+len(r.gauges)+len(r.histograms))
	for name, c := range r.counters {
		out[name] = c.Value()
	}
	for name, g := range r.gauges {
		out[name] = g.Value()
	}
	for name, h := range r.histograms {
		out[name] = h.Snapshot()
	}
	return out
}
