// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake returns a FakeClock pinned to start. Time stands still until
// Advance moves it, so a test decides exactly when timers fire.
func Fake(start time.Time) *FakeClock {
	f := &FakeClock{now: start}
	f.grew = sync.NewCond(&f.mu)
	return f
}

// FakeClock implements Clock with manually driven time. After and
// NewTicker arm timers; Advance moves the clock and fires every timer
// whose deadline it passes, earliest first. Fired one-shot timers are
// removed, tickers are re-armed one period past their old deadline so
// they keep phase.
//
// Sends never block: each timer channel buffers a single tick and
// further fires are dropped, matching time.Ticker.
//
// FakeClock is safe for concurrent use.
type FakeClock struct {
	mu    sync.Mutex
	now   time.Time
	armed []*fakeTimer // ascending deadline, FIFO among equals
	grew  *sync.Cond   // signaled when armed gains an entry
}

// fakeTimer is a single armed registration.
type fakeTimer struct {
	fireAt time.Time
	period time.Duration // zero for one-shot After timers
	ch     chan time.Time
}

// Now reports the current fake time.
func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After returns a channel that receives the deadline once the clock
// has advanced at least d. For d <= 0 the channel receives immediately
// and nothing is armed.
func (f *FakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.now
		return ch
	}
	f.arm(&fakeTimer{fireAt: f.now.Add(d), ch: ch})
	return ch
}

// NewTicker returns a Ticker firing every d of advanced time. Panics
// if d <= 0, like time.NewTicker.
func (f *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: NewTicker interval must be positive")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTimer{
		fireAt: f.now.Add(d),
		period: d,
		ch:     make(chan time.Time, 1),
	}
	f.arm(t)
	return &Ticker{C: t.ch, stop: func() { f.disarm(t) }}
}

// Advance moves the clock forward by d. Every timer whose deadline
// falls within the new time fires, in deadline order; a ticker spanned
// by several periods fires once per period, though only the first fire
// lands unless the consumer drains C in between.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)
	for len(f.armed) > 0 && !f.armed[0].fireAt.After(f.now) {
		t := f.armed[0]
		f.armed = f.armed[1:]

		select {
		case t.ch <- t.fireAt:
		default: // buffer full, tick dropped
		}

		if t.period > 0 {
			t.fireAt = t.fireAt.Add(t.period)
			f.arm(t)
		}
	}
}

// WaitForTimers blocks until at least n timers are armed. It closes
// the race between a goroutine arming a timer and the test advancing
// the clock past it:
//
//	go worker(clk)       // worker eventually blocks on clk.After(d)
//	clk.WaitForTimers(1) // returns once the After is armed
//	clk.Advance(d)       // deterministically fires it
func (f *FakeClock) WaitForTimers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.armed) < n {
		f.grew.Wait()
	}
}

// PendingCount reports how many timers are armed. One-shot timers
// leave the count when they fire, tickers when they are stopped.
func (f *FakeClock) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.armed)
}

// arm inserts t in deadline order, after any entry with an equal
// deadline, so simultaneous timers fire in registration order. Caller
// holds f.mu.
func (f *FakeClock) arm(t *fakeTimer) {
	i := len(f.armed)
	for i > 0 && f.armed[i-1].fireAt.After(t.fireAt) {
		i--
	}
	f.armed = append(f.armed, nil)
	copy(f.armed[i+1:], f.armed[i:])
	f.armed[i] = t
	f.grew.Broadcast()
}

// disarm removes t if still armed. Idempotent.
func (f *FakeClock) disarm(t *fakeTimer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, armed := range f.armed {
		if armed == t {
			f.armed = append(f.armed[:i], f.armed[i+1:]...)
			return
		}
	}
}
