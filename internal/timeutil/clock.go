// Package timeutil abstracts the time operations the bridge blocks on, so
// tests can drive retry backoff and shutdown waits without real sleeps.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the time surface the session depends on.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)
	// After waits for d to elapse and then delivers the current time.
	After(d time.Duration) <-chan time.Time
}

// RealClock implements Clock with the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// MockClock is a manually advanced Clock. Sleep records its duration and
// returns immediately; After fires when Advance moves the clock past the
// deadline.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	pending []*mockWait
}

type mockWait struct {
	ch       chan time.Time
	deadline time.Time
}

// NewMockClock returns a mock clock set to t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
}

func (c *MockClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &mockWait{ch: make(chan time.Time, 1), deadline: c.now.Add(d)}
	c.pending = append(c.pending, w)
	return w.ch
}

// Advance moves the clock forward and fires every After whose deadline has
// passed.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var remaining []*mockWait
	for _, w := range c.pending {
		if !c.now.Before(w.deadline) {
			w.ch <- c.now
		} else {
			remaining = append(remaining, w)
		}
	}
	c.pending = remaining
	c.mu.Unlock()
}

// Sleeps returns every duration passed to Sleep so far.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}
