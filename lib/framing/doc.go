// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package framing writes and reads whole messages over a
// [channel.Channel].
//
// A channel delivers a frame as a run of partial reads, each reporting
// whether more of the frame is pending. [Reader] assembles those reads
// into one message: it grows its buffer by [ReadQuantum] bytes only
// when the buffer is full and more is pending, always reads into the
// unfilled remainder, and truncates to exactly the received bytes when
// the frame completes. Because it retains its state across
// [channel.ErrWouldBlock], the agent's connection pool drives one
// Reader per connection from readiness events without a goroutine per
// peer.
//
// [WriteMessage] rejects empty payloads: an empty frame is never a
// valid wire message. A frame that completes with zero bytes is still
// delivered as an empty message; deserialization rejects it.
package framing
