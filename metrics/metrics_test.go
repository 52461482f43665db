package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestCounter(t *testing.T) {
	c := NewCounter("miner/blocks")
	c.Inc()
	c.Add(4)
	c.Add(-3)
	c.Add(0)
	if got := c.Value(); got != 5 {
		t.Fatalf("value = %d, want 5", got)
	}
	if c.Name() != "miner/blocks" {
		t.Fatalf("name = %q", c.Name())
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("txpool/pending")
	g.Set(10)
	g.Inc()
	g.Dec()
	g.Dec()
	g.Add(-20)
	if got := g.Value(); got != -11 {
		t.Fatalf("value = %d, want -11", got)
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistogram("miner/duration_ms")
	if s := h.Snapshot(); s != (HistogramSnapshot{}) {
		t.Fatalf("empty snapshot = %+v, want zero", s)
	}
	for _, v := range []float64{4, 1, 7} {
		h.Observe(v)
	}
	s := h.Snapshot()
	if s.Count != 3 || s.Sum != 12 || s.Min != 1 || s.Max != 7 {
		t.Fatalf("snapshot = %+v", s)
	}
	if s.Mean() != 4 {
		t.Fatalf("mean = %v, want 4", s.Mean())
	}
}

func TestTimer(t *testing.T) {
	h := NewHistogram("t")
	timer := NewTimer(h)
	time.Sleep(2 * time.Millisecond)
	if d := timer.Stop(); d < 2*time.Millisecond {
		t.Fatalf("elapsed = %v, want >= 2ms", d)
	}
	if s := h.Snapshot(); s.Count != 1 || s.Min < 2 {
		t.Fatalf("snapshot = %+v", s)
	}
	// A nil histogram still measures.
	if d := NewTimer(nil).Stop(); d < 0 {
		t.Fatalf("negative duration %v", d)
	}
}

func TestCounterConcurrent(t *testing.T) {
	c := NewCounter("c")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()
	if c.Value() != 16000 {
		t.Fatalf("value = %d, want 16000", c.Value())
	}
}
