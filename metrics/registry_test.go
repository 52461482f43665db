package metrics

import (
	"sync"
	"testing"
)

func TestRegistryGetOrCreate(t *testing.T) {
	r := NewRegistry()
	if r.Counter(MinerBlocks) != r.Counter(MinerBlocks) {
		t.Fatal("counter lookup returned distinct instances")
	}
	if r.Gauge(TxPoolPending) != r.Gauge(TxPoolPending) {
		t.Fatal("gauge lookup returned distinct instances")
	}
	if r.Histogram(MinerDuration) != r.Histogram(MinerDuration) {
		t.Fatal("histogram lookup returned distinct instances")
	}
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry()
	r.Counter(MinerTxSucceeded).Add(3)
	r.Gauge(TxPoolPending).Set(2)
	r.Histogram(MinerDuration).Observe(5)

	snap := r.Snapshot()
	if got := snap[MinerTxSucceeded]; got != int64(3) {
		t.Errorf("%s = %v, want 3", MinerTxSucceeded, got)
	}
	if got := snap[TxPoolPending]; got != int64(2) {
		t.Errorf("%s = %v, want 2", TxPoolPending, got)
	}
	hs, ok := snap[MinerDuration].(HistogramSnapshot)
	if !ok || hs.Count != 1 || hs.Sum != 5 {
		t.Errorf("%s = %#v", MinerDuration, snap[MinerDuration])
	}
}

func TestRegistryConcurrentLookup(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Counter("shared").Inc()
		}()
	}
	wg.Wait()
	if got := r.Counter("shared").Value(); got != 32 {
		t.Fatalf("shared = %d, want 32", got)
	}
}

func TestOr(t *testing.T) {
	if Or(nil) != DefaultRegistry {
		t.Fatal("Or(nil) should return DefaultRegistry")
	}
	r := NewRegistry()
	if Or(r) != r {
		t.Fatal("Or(r) should return r")
	}
}
