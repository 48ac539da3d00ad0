// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentserver is the agent side of the content analysis
// protocol: it accepts browser peers on one endpoint, reads their
// requests, and hands each one to the application as a [Session].
//
// A [Pool] owns a fixed number of connection slots and a single
// dispatch goroutine. That goroutine waits on one [channel.Poller] for
// every slot at once (the shared listener while any slot is free, plus
// every slot with a read in progress), advances each ready slot's state
// machine, and pushes completed requests onto a bounded hand-off queue.
// The number of goroutines does not grow with the number of peers.
//
// Each slot moves through:
//
//	Listening → Connecting → Idle → Reading → MessageReady
//	                                  ↑            │ Session.Send
//	                                  └────────────┘ (awaiting acknowledgement)
//
// Any channel fault, a malformed frame, a rejected peer, or closing a
// session without answering it resets the slot: the accepted channel
// is closed and the slot goes back to Listening on the shared listener.
// Slots never own the listener, so every slot resets the same way.
//
// After the acknowledgement arrives the slot keeps reading, so one
// browser channel may carry several exchanges in sequence. A new
// request arriving where the acknowledgement was expected ends the
// previous session's wait with [ErrAcknowledgementMissing].
//
// The application calls [Pool.NextSession] (or [Agent.NextSession]),
// may analyse sessions concurrently on its own goroutines, and answers
// each with [Session.Send]. [Pool.Stop] is safe from any goroutine and
// releases a blocked NextSession promptly.
package agentserver
