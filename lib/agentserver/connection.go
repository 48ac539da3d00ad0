// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentserver

import (
	"sync"

	"github.com/bureau-foundation/contentanalysis/lib/channel"
	"github.com/bureau-foundation/contentanalysis/lib/framing"
)

// state is a slot's position in the connection state machine.
type state uint8

const (
	// stateListening: no peer; the slot is waiting on the shared
	// listener.
	stateListening state = iota

	// stateConnecting: a peer was accepted and is being verified.
	stateConnecting

	// stateIdle: a verified peer is bound and no read is armed.
	stateIdle

	// stateReading: the slot's channel is in the poll set and frames
	// are being assembled.
	stateReading

	// stateMessageReady: a request was handed off and the slot waits
	// for the session to send or close. The channel is not polled.
	stateMessageReady

	// stateClosed: terminal; only reached when the pool stops.
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateListening:
		return "listening"
	case stateConnecting:
		return "connecting"
	case stateIdle:
		return "idle"
	case stateReading:
		return "reading"
	case stateMessageReady:
		return "message-ready"
	case stateClosed:
		return "closed"
	}
	return "invalid"
}

// connection is one slot of the pool. Every field except those noted
// is owned by the pool's dispatch goroutine.
type connection struct {
	index int
	state state

	reader framing.Reader

	// session is the session currently attached to the slot: handed
	// off (MessageReady) or sent and awaiting its acknowledgement.
	session *Session

	// awaitingAck is set while Reading after the attached session's
	// response went out.
	awaitingAck bool

	// mu guards channel and generation against Session.Send on a
	// caller goroutine. The dispatch goroutine writes them only while
	// holding mu; it may read them without.
	mu         sync.Mutex
	channel    channel.Channel
	generation uint64
}

// bind attaches an accepted peer.
func (c *connection) bind(peer channel.Channel) {
	c.mu.Lock()
	c.channel = peer
	c.generation++
	c.mu.Unlock()
	c.state = stateConnecting
}

// release closes the peer channel and clears per-peer state. The
// attached session, if any, is detached and returned so the caller can
// finish its acknowledgement wait.
func (c *connection) release() *Session {
	c.mu.Lock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	c.generation++
	c.mu.Unlock()

	session := c.session
	c.session = nil
	c.awaitingAck = false
	c.reader.Reset()
	return session
}

// write sends one frame on behalf of a session, provided the slot is
// still bound to the peer that session came from.
func (c *connection) write(generation uint64, frame []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil || c.generation != generation {
		return false, nil
	}
	return true, framing.WriteMessage(c.channel, frame)
}
