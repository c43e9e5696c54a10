// Package timeutil abstracts the clock behind the attitude link's command
// timestamps and the simulated vehicle's report ticker, so both can run on
// manual time in tests.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the time source the link and the simulator read.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTicker(d time.Duration) Ticker
	// After delivers the time once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Ticker is the subset of *time.Ticker the simulator needs, with the
// channel behind a method so a manual ticker can stand in.
type Ticker interface {
	C() <-chan time.Time
	Stop()
	// Reset changes the period; the next tick is one new period from now.
	Reset(d time.Duration)
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration        { return time.Since(t) }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time   { return r.t.C }
func (r realTicker) Stop()                 { r.t.Stop() }
func (r realTicker) Reset(d time.Duration) { r.t.Reset(d) }

// MockClock only moves when Set or Advance is called. Tickers created from
// it fire during Advance.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*MockTicker
}

// NewMockClock returns a clock stopped at t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

// Set jumps to t without firing tickers. Setting an earlier time is allowed
// and is how tests exercise a clock that goes backwards.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d and fires every ticker whose next
// tick is due. A ticker fires at most once per Advance, like a real ticker
// whose reader fell behind.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	tickers := append([]*MockTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, t := range tickers {
		t.fireIfDue(now)
	}
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &MockTicker{
		clock:    c,
		ch:       make(chan time.Time, 1),
		interval: d,
		next:     c.now.Add(d),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// After returns a channel that receives once the clock has been advanced
// by at least d.
func (c *MockClock) After(d time.Duration) <-chan time.Time {
	t := c.NewTicker(d).(*MockTicker)
	t.mu.Lock()
	t.oneShot = true
	t.mu.Unlock()
	return t.ch
}

// MockTicker is a ticker driven by a MockClock.
type MockTicker struct {
	clock *MockClock
	ch    chan time.Time

	mu       sync.Mutex
	interval time.Duration
	next     time.Time
	stopped  bool
	oneShot  bool
}

func (t *MockTicker) C() <-chan time.Time { return t.ch }

func (t *MockTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *MockTicker) Reset(d time.Duration) {
	now := t.clock.Now()
	t.mu.Lock()
	t.stopped = false
	t.interval = d
	t.next = now.Add(d)
	t.mu.Unlock()
}

// Trigger delivers a tick at now regardless of the schedule. It is dropped
// if the previous tick has not been read.
func (t *MockTicker) Trigger(now time.Time) {
	select {
	case t.ch <- now:
	default:
	}
}

func (t *MockTicker) fireIfDue(now time.Time) {
	t.mu.Lock()
	due := !t.stopped && !now.Before(t.next)
	if due {
		for !t.next.After(now) {
			t.next = t.next.Add(t.interval)
		}
		t.stopped = t.oneShot
	}
	t.mu.Unlock()
	if due {
		t.Trigger(now)
	}
}
