// Package gcsched forces garbage collections in long-lived workers based on
// consumed process CPU time.
package gcsched

import (
	"runtime/debug"
	"sync/atomic"
	"time"
)

// Scheduler decides when a worker should force a garbage collection.
type Scheduler interface {
	MaybePerformGC()
}

// CPUTimeScheduler forces a collection once the process has used more than a
// threshold of CPU time since the previous forced collection.
// It is safe for concurrent use.
type CPUTimeScheduler struct {
	threshold time.Duration
	cpuTime   func() time.Duration
	collect   func()

	// lastGC is the process CPU time, in nanoseconds, at the last forced
	// collection or at construction.
	lastGC atomic.Int64
	count  atomic.Int64
}

// Option configures a CPUTimeScheduler.
type Option func(*CPUTimeScheduler)

// WithCPUClock replaces the process CPU time source.
func WithCPUClock(clock func() time.Duration) Option {
	return func(s *CPUTimeScheduler) {
		s.cpuTime = clock
	}
}

// WithCollector replaces the function that performs the collection.
func WithCollector(collect func()) Option {
	return func(s *CPUTimeScheduler) {
		s.collect = collect
	}
}

// NewCPUTimeScheduler returns a scheduler that collects after threshold of
// process CPU time. A threshold of zero or less disables collection.
func NewCPUTimeScheduler(threshold time.Duration, opts ...Option) *CPUTimeScheduler {
	s := &CPUTimeScheduler{
		threshold: threshold,
		cpuTime:   ProcessCPUTime,
		collect:   debug.FreeOSMemory,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.enabled() {
		s.lastGC.Store(int64(s.cpuTime()))
	}
	return s
}

func (s *CPUTimeScheduler) enabled() bool {
	return s.threshold > 0
}

// MaybePerformGC forces a collection if more than the threshold of CPU time
// was used since the last one. Of concurrent callers observing the same
// window, only the one that advances the marker collects.
func (s *CPUTimeScheduler) MaybePerformGC() {
	if !s.enabled() {
		return
	}
	current := int64(s.cpuTime())
	last := s.lastGC.Load()
	if time.Duration(current-last) <= s.threshold {
		return
	}
	if !s.lastGC.CompareAndSwap(last, current) {
		return
	}
	s.collect()
	s.count.Add(1)
	// The collection's own CPU time does not count toward the next window.
	s.lastGC.CompareAndSwap(current, int64(s.cpuTime()))
}

// Collections returns how many collections this scheduler forced.
func (s *CPUTimeScheduler) Collections() int64 {
	return s.count.Load()
}

// Threshold returns the configured CPU time between collections.
func (s *CPUTimeScheduler) Threshold() time.Duration {
	return s.threshold
}

// Noop never collects.
type Noop struct{}

// MaybePerformGC does nothing.
func (Noop) MaybePerformGC() {}
