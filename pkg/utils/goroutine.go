package utils

import (
	"runtime"
	"testing"
	"time"
)

// GoroutineLeakDetector compares the goroutine count at the start and end of
// a test. Sessions, transports and task sweepers all run background
// goroutines that must be gone once they are closed.
type GoroutineLeakDetector struct {
	t              testing.TB
	initialCount   int
	allowedGrowth  int
	pollInterval   time.Duration
	stabilizeDelay time.Duration
}

// NewGoroutineLeakDetector creates a detector with no allowed growth.
func NewGoroutineLeakDetector(t testing.TB) *GoroutineLeakDetector {
	return &GoroutineLeakDetector{
		t:              t,
		pollInterval:   20 * time.Millisecond,
		stabilizeDelay: 2 * time.Second,
	}
}

// Start records the baseline.
func (d *GoroutineLeakDetector) Start() *GoroutineLeakDetector {
	d.initialCount = runtime.NumGoroutine()
	return d
}

// Check polls until the count drops back to the baseline plus the allowed
// growth, and fails the test with a full stack dump if it never does within
// the stabilize delay.
func (d *GoroutineLeakDetector) Check() {
	d.t.Helper()

	deadline := time.Now().Add(d.stabilizeDelay)
	count := runtime.NumGoroutine()
	for count-d.initialCount > d.allowedGrowth && time.Now().Before(deadline) {
		time.Sleep(d.pollInterval)
		count = runtime.NumGoroutine()
	}

	if leaked := count - d.initialCount; leaked > d.allowedGrowth {
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		d.t.Errorf("goroutine leak: started with %d, ended with %d (allowed growth %d)\n%s",
			d.initialCount, count, d.allowedGrowth, buf[:n])
	}
}

// CheckOnCleanup runs Check when the test finishes, after cleanups
// registered later have run.
func (d *GoroutineLeakDetector) CheckOnCleanup() {
	d.t.Cleanup(d.Check)
}

// SetAllowedGrowth sets the number of goroutines allowed to grow
func (d *GoroutineLeakDetector) SetAllowedGrowth(n int) *GoroutineLeakDetector {
	d.allowedGrowth = n
	return d
}

// SetStabilizeDelay bounds how long Check waits for goroutines to exit.
func (d *GoroutineLeakDetector) SetStabilizeDelay(delay time.Duration) *GoroutineLeakDetector {
	d.stabilizeDelay = delay
	return d
}
