// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for the pipeline's scheduling code.
//
// Session expiry, anchor submission backoff, and storage retry delays
// all wait on timers. Testing those paths against the wall clock means
// sleeps and flakes, so components take a Clock instead: production
// wiring passes Real, tests pass Fake and drive time explicitly with
// Advance.
package clock

import "time"

// Clock supplies the three time operations the pipeline schedules
// with. Anything beyond Now, a one-shot wait, and a periodic tick
// belongs in the caller.
type Clock interface {
	// Now reports the current time.
	Now() time.Time

	// After returns a channel that receives the fire time once
	// duration d has elapsed. Equivalent to time.After.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering a tick on C every d.
	// Panics if d <= 0, like time.NewTicker.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks on C. C holds at most one tick; when
// the consumer falls behind, further ticks are dropped rather than
// queued, matching time.Ticker.
type Ticker struct {
	C    <-chan time.Time
	stop func()
}

// Stop disarms the ticker. It does not close C. Safe to call more
// than once.
func (t *Ticker) Stop() { t.stop() }

// Real returns the Clock backed by the time package.
func Real() Clock { return sysClock{} }

type sysClock struct{}

func (sysClock) Now() time.Time { return time.Now() }

func (sysClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (sysClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}
