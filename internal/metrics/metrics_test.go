package metrics

import (
	"sync"
	"testing"
)

func TestMetrics_ConcurrentInc(t *testing.T) {
	m := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Inc(WHIPOptions)
			}
		}()
	}
	wg.Wait()

	if got := m.Get(WHIPOptions); got != 800 {
		t.Fatalf("Get=%d, want 800", got)
	}
}

func TestMetrics_SnapshotIsCopy(t *testing.T) {
	m := New()
	m.Inc(WHIPDeleteOK)

	snap := m.Snapshot()
	snap[WHIPDeleteOK] = 42
	if got := m.Get(WHIPDeleteOK); got != 1 {
		t.Fatalf("Get=%d after mutating snapshot, want 1", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Inc(WHIPOptions)
	m.Add(WHIPOptions, 3)
	if got := m.Get(WHIPOptions); got != 0 {
		t.Fatalf("Get=%d, want 0", got)
	}
	if snap := m.Snapshot(); len(snap) != 0 {
		t.Fatalf("Snapshot=%v, want empty", snap)
	}
}
