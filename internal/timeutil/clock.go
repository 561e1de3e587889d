// Package timeutil lets the pipeline's tickers and timestamps be driven by a
// fake clock in tests.
package timeutil

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock is the subset of the time package the pipeline depends on.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTicker(d time.Duration) Ticker
}

// Ticker mirrors *time.Ticker behind an interface.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock implements Clock with the time package.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time { return t.ticker.C }
func (t *realTicker) Stop()               { t.ticker.Stop() }

// OrReal returns c, or RealClock when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return RealClock{}
	}
	return c
}

// MockClock is a manually advanced clock. Tickers created from it fire on
// Advance; like time.Ticker, a slow reader sees missed ticks coalesced.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*mockTicker
}

func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

// Advance moves the clock forward by d and fires due tickers.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.prune()
	for _, t := range c.tickers {
		if c.now.Before(t.due) {
			continue
		}
		select {
		case t.ch <- c.now:
		default:
		}
		// Skip every boundary already passed, keeping the original phase.
		missed := c.now.Sub(t.due) / t.every
		t.due = t.due.Add((missed + 1) * t.every)
	}
}

// TickerCount reports how many tickers are live. Tests use it to wait until
// a goroutine under test has set up its tickers.
func (c *MockClock) TickerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune()
	return len(c.tickers)
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTicker{ch: make(chan time.Time, 1), every: d, due: c.now.Add(d)}
	c.tickers = append(c.tickers, t)
	return t
}

// prune drops stopped tickers. c.mu must be held.
func (c *MockClock) prune() {
	live := c.tickers[:0]
	for _, t := range c.tickers {
		if !t.stopped.Load() {
			live = append(live, t)
		}
	}
	clear(c.tickers[len(live):])
	c.tickers = live
}

// mockTicker fields other than stopped are guarded by the owning clock.
type mockTicker struct {
	ch      chan time.Time
	every   time.Duration
	due     time.Time
	stopped atomic.Bool
}

func (t *mockTicker) C() <-chan time.Time { return t.ch }
func (t *mockTicker) Stop()               { t.stopped.Store(true) }
