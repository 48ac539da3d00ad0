// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"errors"
	"fmt"
)

var (
	// ErrWouldBlock is returned by non-blocking reads and accepts when
	// nothing is available yet. It is a loop condition, not a failure:
	// wait for the descriptor to become readable and call again. Any
	// partially read frame is retained by the channel.
	ErrWouldBlock = errors.New("channel: operation would block")

	// ErrBusy is returned by Dial when the endpoint exists but cannot
	// take another peer right now. Callers retry after a backoff.
	ErrBusy = errors.New("channel: endpoint busy")

	// ErrClosed is returned by operations on a channel, listener, or
	// handle that has already been closed.
	ErrClosed = errors.New("channel: closed")

	// ErrUnsupported is returned on platforms without a transport.
	ErrUnsupported = errors.New("channel: transport not supported on this platform")
)

// Channel is one connected endpoint of a duplex frame transport.
//
// A Channel supports one reader and one writer at a time. The reader
// and writer may be different goroutines.
type Channel interface {
	// ReadChunk reads the next bytes of the current frame into p. more
	// is true when the frame has bytes that were not delivered by this
	// call; the next ReadChunk continues the same frame. A call that
	// returns more == false has delivered the last bytes of the frame
	// (possibly zero of them). len(p) must be positive.
	//
	// A non-blocking channel returns ErrWouldBlock when no bytes are
	// available. io.EOF means the peer closed the channel between
	// frames; io.ErrUnexpectedEOF means it closed mid-frame.
	ReadChunk(p []byte) (n int, more bool, err error)

	// WriteFrame writes p as one complete frame. Concurrent writers
	// never interleave frames.
	WriteFrame(p []byte) error

	// Fd returns the descriptor a Poller waits on for readability.
	Fd() int

	// Peer returns the credentials of the process on the other end,
	// as captured when the channel was established.
	Peer() PeerCredentials

	// Shutdown disables further reads and writes without releasing the
	// descriptor. A goroutine blocked in ReadChunk or WriteFrame
	// returns promptly with an error.
	Shutdown() error

	// Close releases the descriptor. Safe to call more than once.
	Close() error
}

// Listener is a server endpoint that produces one Channel per
// connecting peer.
type Listener interface {
	// Accept returns the next queued peer as a non-blocking Channel, or
	// ErrWouldBlock when none is queued.
	Accept() (Channel, error)

	// Fd returns the descriptor that becomes readable when a peer is
	// queued.
	Fd() int

	// Path returns the endpoint name the listener was created with.
	Path() string

	// Close stops accepting and removes the endpoint.
	Close() error
}

// PeerCredentials identifies the process at the other end of a
// channel. Zero values mean the platform could not supply them.
type PeerCredentials struct {
	PID int32
	UID uint32
	GID uint32
}

func (p PeerCredentials) String() string {
	return fmt.Sprintf("pid=%d uid=%d gid=%d", p.PID, p.UID, p.GID)
}

// ListenOptions configures a server endpoint.
type ListenOptions struct {
	// UserSpecific restricts the endpoint to the creating user (mode
	// 0600). Otherwise any local user may connect (mode 0666).
	UserSpecific bool

	// Backlog is the number of peers the kernel queues while every
	// connection slot is busy. Once the queue is full, Dial reports
	// ErrBusy. Zero selects a default of 16.
	Backlog int
}
