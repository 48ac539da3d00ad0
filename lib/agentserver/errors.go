// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentserver

import "errors"

var (
	// ErrStopped is returned by NextSession, Send, and Acknowledgement
	// once the pool has been stopped.
	ErrStopped = errors.New("agentserver: stopped")

	// ErrAlreadySent is returned by a second Session.Send.
	ErrAlreadySent = errors.New("agentserver: response already sent")

	// ErrSessionClosed is returned by Send on a session that was closed,
	// or whose connection was reset after a send failure.
	ErrSessionClosed = errors.New("agentserver: session closed")

	// ErrNotSent is returned by Acknowledgement before Send succeeds.
	ErrNotSent = errors.New("agentserver: response not sent")

	// ErrAcknowledgementMissing means the peer will not acknowledge this
	// session's response: it disconnected, or sent its next request
	// instead. The verdict was delivered regardless.
	ErrAcknowledgementMissing = errors.New("agentserver: acknowledgement missing")
)
