// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package browserclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/contentanalysis/lib/channel"
	"github.com/bureau-foundation/contentanalysis/lib/clock"
)

// ErrEndpointBusy is returned by Connect when the endpoint stayed busy
// for every attempt the RetryPolicy allowed.
var ErrEndpointBusy = errors.New("browserclient: endpoint busy")

// Dialer opens a channel to an endpoint.
type Dialer interface {
	Dial(endpoint string) (channel.Channel, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(endpoint string) (channel.Channel, error)

func (f DialerFunc) Dial(endpoint string) (channel.Channel, error) { return f(endpoint) }

// DefaultDialer dials the platform transport.
var DefaultDialer Dialer = DialerFunc(channel.Dial)

// RetryPolicy bounds how Connect waits out a busy endpoint.
type RetryPolicy struct {
	// MaxAttempts is the total number of dials. Zero means retry until
	// the context ends.
	MaxAttempts int

	// InitialBackoff is the wait after the first busy attempt. It
	// doubles after each further busy attempt up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy retries indefinitely, starting at 10ms and backing
// off to one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
}

// Connect dials endpoint, retrying only while it is busy. Busy errors
// are never returned unless the attempt budget runs out, in which case
// the error wraps both ErrEndpointBusy and channel.ErrBusy.
func Connect(ctx context.Context, dialer Dialer, endpoint string, policy RetryPolicy, connectClock clock.Clock) (channel.Channel, error) {
	if dialer == nil {
		dialer = DefaultDialer
	}
	if connectClock == nil {
		connectClock = clock.Real()
	}
	backoff := exponentialBackoff{base: policy.InitialBackoff, max: policy.MaxBackoff}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		peer, err := dialer.Dial(endpoint)
		if err == nil {
			return peer, nil
		}
		if !errors.Is(err, channel.ErrBusy) {
			return nil, err
		}
		if policy.MaxAttempts > 0 && attempt >= policy.MaxAttempts {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrEndpointBusy, attempt, err)
		}

		timer := connectClock.NewTimer(backoff.next())
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// exponentialBackoff doubles from base up to max. A zero max leaves it
// uncapped.
type exponentialBackoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

func (b *exponentialBackoff) next() time.Duration {
	if b.base <= 0 {
		return 0
	}
	if b.current == 0 {
		b.current = b.base
		return b.current
	}
	b.current *= 2
	if b.max > 0 && b.current > b.max {
		b.current = b.max
	}
	return b.current
}
