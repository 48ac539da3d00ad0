// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used for connect
// backoff, request expiry, and audit timestamps.
//
// Production code takes a Clock and receives Real(). Tests pass Fake(),
// which stands still until Advance is called:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go connect(fake)              // sleeps in a backoff timer
//	fake.WaitForTimers(1)         // the timer is registered
//	fake.Advance(10 * time.Millisecond)
//
// WaitForTimers closes the race between a goroutine arming a timer and
// the test advancing past it.
package clock
