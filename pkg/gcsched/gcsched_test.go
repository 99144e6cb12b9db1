package gcsched

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	now atomic.Int64
}

func (c *fakeClock) read() time.Duration { return time.Duration(c.now.Load()) }

func (c *fakeClock) advance(d time.Duration) { c.now.Add(int64(d)) }

func TestCPUTimeScheduler_CollectsAfterThreshold(t *testing.T) {
	clock := &fakeClock{}
	var collected int
	s := NewCPUTimeScheduler(time.Second, WithCPUClock(clock.read), WithCollector(func() { collected++ }))

	s.MaybePerformGC()
	if collected != 0 {
		t.Fatalf("Expected no collection before threshold, got %d", collected)
	}

	clock.advance(time.Second)
	s.MaybePerformGC()
	if collected != 0 {
		t.Errorf("Expected no collection at exactly the threshold, got %d", collected)
	}

	clock.advance(time.Millisecond)
	s.MaybePerformGC()
	if collected != 1 {
		t.Errorf("Expected one collection after threshold, got %d", collected)
	}

	s.MaybePerformGC()
	if collected != 1 {
		t.Errorf("Expected the window to restart after a collection, got %d", collected)
	}
}

func TestCPUTimeScheduler_ExcludesCollectionCost(t *testing.T) {
	clock := &fakeClock{}
	s := NewCPUTimeScheduler(time.Second,
		WithCPUClock(clock.read),
		WithCollector(func() { clock.advance(500 * time.Millisecond) }),
	)

	clock.advance(2 * time.Second)
	s.MaybePerformGC()

	// 900ms after the collection finished; the 500ms spent collecting must not count.
	clock.advance(900 * time.Millisecond)
	s.MaybePerformGC()
	if got := s.Collections(); got != 1 {
		t.Errorf("Expected 1 collection, got %d", got)
	}
}

func TestCPUTimeScheduler_ConcurrentCallersCollectOnce(t *testing.T) {
	clock := &fakeClock{}
	var collected atomic.Int64
	s := NewCPUTimeScheduler(time.Second, WithCPUClock(clock.read), WithCollector(func() { collected.Add(1) }))

	clock.advance(5 * time.Second)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			s.MaybePerformGC()
		}()
	}
	close(start)
	wg.Wait()

	if got := collected.Load(); got != 1 {
		t.Errorf("Expected exactly one collection per window, got %d", got)
	}
}

func TestCPUTimeScheduler_ZeroThresholdDisabled(t *testing.T) {
	var reads atomic.Int64
	clock := func() time.Duration {
		reads.Add(1)
		return time.Hour
	}
	var collected int
	s := NewCPUTimeScheduler(0, WithCPUClock(clock), WithCollector(func() { collected++ }))

	for range 10 {
		s.MaybePerformGC()
	}
	if collected != 0 {
		t.Errorf("Expected no collections with a zero threshold, got %d", collected)
	}
	if reads.Load() != 0 {
		t.Errorf("Expected the CPU clock not to be read when disabled, got %d reads", reads.Load())
	}
	if s.Threshold() != 0 {
		t.Errorf("Expected threshold 0, got %s", s.Threshold())
	}
}

func TestCPUTimeScheduler_Threshold(t *testing.T) {
	if got := NewCPUTimeScheduler(3 * time.Second).Threshold(); got != 3*time.Second {
		t.Errorf("Expected threshold 3s, got %s", got)
	}
}

func TestProcessCPUTime_Monotonic(t *testing.T) {
	first := ProcessCPUTime()
	deadline := time.Now().Add(20 * time.Millisecond)
	for time.Now().Before(deadline) {
	}
	if second := ProcessCPUTime(); second < first {
		t.Errorf("Expected CPU time to be non-decreasing, got %v then %v", first, second)
	}
}
