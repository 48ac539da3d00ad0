// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

// FakeClock is a Clock whose time moves only when Advance is called.
// Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	pending []*fakeTimer
	changed *sync.Cond
}

type fakeTimer struct {
	deadline time.Time
	channel  chan time.Time
	done     bool // fired or stopped
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After is NewTimer(d).C.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	return c.NewTimer(d).C
}

// NewTimer registers a timer that fires when Advance reaches now+d. A
// non-positive d fires immediately without registering.
func (c *FakeClock) NewTimer(d time.Duration) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	timer := &fakeTimer{deadline: c.current.Add(d), channel: make(chan time.Time, 1)}
	if d <= 0 {
		timer.done = true
		timer.channel <- c.current
	} else {
		c.pending = append(c.pending, timer)
		c.changed.Broadcast()
	}

	return &Timer{
		C: timer.channel,
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if timer.done {
				return false
			}
			timer.done = true
			c.pending = slices.DeleteFunc(c.pending, func(candidate *fakeTimer) bool {
				return candidate == timer
			})
			c.changed.Broadcast()
			return true
		},
	}
}

// Advance moves the clock forward by d and fires, in deadline order,
// every timer whose deadline is not after the new time.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = c.current.Add(d)

	var expired []*fakeTimer
	c.pending = slices.DeleteFunc(c.pending, func(timer *fakeTimer) bool {
		if timer.deadline.After(c.current) {
			return false
		}
		expired = append(expired, timer)
		return true
	})
	slices.SortStableFunc(expired, func(a, b *fakeTimer) int {
		return a.deadline.Compare(b.deadline)
	})
	for _, timer := range expired {
		timer.done = true
		timer.channel <- c.current
	}
	if len(expired) > 0 {
		c.changed.Broadcast()
	}
}

// WaitForTimers blocks until at least n timers are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of timers that have neither fired nor
// been stopped.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
