// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClockNow(t *testing.T) {
	clock := Fake(epoch)
	if got := clock.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	clock.Advance(5 * time.Second)
	want := epoch.Add(5 * time.Second)
	if got := clock.Now(); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeClockAfterFiresAtDeadline(t *testing.T) {
	clock := Fake(epoch)
	channel := clock.After(5 * time.Second)

	clock.Advance(3 * time.Second)
	select {
	case <-channel:
		t.Fatal("After fired before its deadline")
	default:
	}

	clock.Advance(2 * time.Second)
	select {
	case fired := <-channel:
		if want := epoch.Add(5 * time.Second); !fired.Equal(want) {
			t.Errorf("fired at %v, want %v", fired, want)
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeClockNonPositiveDurationFiresImmediately(t *testing.T) {
	clock := Fake(epoch)
	for _, d := range []time.Duration{0, -time.Second} {
		select {
		case <-clock.After(d):
		default:
			t.Errorf("After(%v) did not fire immediately", d)
		}
	}
	if clock.PendingCount() != 0 {
		t.Errorf("immediate timers left %d pending", clock.PendingCount())
	}
}

func TestFakeClockTimerStop(t *testing.T) {
	clock := Fake(epoch)
	timer := clock.NewTimer(time.Second)

	if !timer.Stop() {
		t.Fatal("Stop on pending timer returned false")
	}
	if timer.Stop() {
		t.Error("second Stop returned true")
	}
	if clock.PendingCount() != 0 {
		t.Errorf("stopped timer still pending")
	}

	clock.Advance(time.Minute)
	select {
	case <-timer.C:
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestFakeClockStopAfterFire(t *testing.T) {
	clock := Fake(epoch)
	timer := clock.NewTimer(time.Second)
	clock.Advance(time.Second)

	if timer.Stop() {
		t.Error("Stop after fire returned true")
	}
	select {
	case <-timer.C:
	default:
		t.Fatal("timer did not deliver")
	}
}

func TestFakeClockWaitForTimers(t *testing.T) {
	clock := Fake(epoch)
	done := make(chan struct{})

	go func() {
		<-clock.After(10 * time.Millisecond)
		close(done)
	}()

	clock.WaitForTimers(1)
	clock.Advance(10 * time.Millisecond)

	select {
	case <-done:
	case <-time.After(5 * time.Second): //nolint:realclock test hang prevention
		t.Fatal("goroutine did not observe the timer")
	}
}

func TestFakeClockAdvanceFiresAllExpired(t *testing.T) {
	clock := Fake(epoch)
	late := clock.After(3 * time.Second)
	early := clock.After(time.Second)

	clock.Advance(5 * time.Second)
	for name, channel := range map[string]<-chan time.Time{"early": early, "late": late} {
		select {
		case <-channel:
		default:
			t.Errorf("%s timer did not fire", name)
		}
	}
}

func TestRealClock(t *testing.T) {
	clock := Real()
	before := time.Now()
	if clock.Now().Before(before) {
		t.Error("Real().Now() went backwards")
	}

	timer := clock.NewTimer(time.Hour)
	if !timer.Stop() {
		t.Error("Stop on a fresh real timer returned false")
	}
	select {
	case <-clock.After(time.Millisecond):
	case <-time.After(5 * time.Second): //nolint:realclock test hang prevention
		t.Fatal("Real().After never fired")
	}
}
