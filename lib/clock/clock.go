// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations this module performs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the time once d has
	// elapsed. If d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// NewTimer returns a Timer that fires once after d. Unlike After,
	// the caller can Stop it, which matters for waits that a context
	// may abandon.
	NewTimer(d time.Duration) *Timer
}

// Timer is a one-shot event. Read the fire time from C.
type Timer struct {
	C <-chan time.Time

	stop func() bool
}

// Stop prevents the Timer from firing. It returns false if the timer
// already fired or was stopped.
func (t *Timer) Stop() bool { return t.stop() }
