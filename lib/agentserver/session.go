// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bureau-foundation/contentanalysis/lib/analysis"
	"github.com/bureau-foundation/contentanalysis/lib/channel"
	"github.com/bureau-foundation/contentanalysis/lib/codec"
)

// Session is one request/response/acknowledgement exchange with one
// peer. After NextSession returns it, the session belongs to the
// caller, which may handle it on any goroutine.
type Session struct {
	pool       *Pool
	connection *connection
	generation uint64

	request  *analysis.Request
	response analysis.Response
	peer     channel.PeerCredentials
	received time.Time

	mu     sync.Mutex
	sent   bool
	closed bool

	ackOnce sync.Once
	ackDone chan struct{}
	ack     *analysis.Acknowledgement
	ackErr  error
}

// newSession builds the session for a request just read on conn. The
// response starts as an allow verdict for the request's first tag.
func newSession(pool *Pool, conn *connection, request *analysis.Request) *Session {
	session := &Session{
		pool:       pool,
		connection: conn,
		generation: conn.generation,
		request:    request,
		peer:       conn.channel.Peer(),
		received:   pool.clock.Now(),
		ackDone:    make(chan struct{}),
	}
	session.response.RequestToken = request.RequestToken
	analysis.InitializeResponse(&session.response, request.FirstTag(), analysis.StatusSuccess)
	return session
}

// Request returns the peer's request. Treat it as read-only.
func (s *Session) Request() *analysis.Request { return s.request }

// Response returns the response Send will write. It is initialized, so
// analysis.SetVerdict and friends always succeed on it.
func (s *Session) Response() *analysis.Response { return &s.response }

// Peer returns the credentials of the process that sent the request.
func (s *Session) Peer() channel.PeerCredentials { return s.peer }

// Received returns when the request was read.
func (s *Session) Received() time.Time { return s.received }

// Expired reports whether the browser's deadline for this request has
// already passed.
func (s *Session) Expired() bool {
	return s.request.Expired(s.pool.clock.Now())
}

// Send writes the response to the peer. It may be called once.
//
// A write failure is a connection fault: the slot is reset and the
// session can no longer be acknowledged.
func (s *Session) Send() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.sent:
		return ErrAlreadySent
	case s.closed:
		return ErrSessionClosed
	}

	frame, err := codec.Marshal(&s.response)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}

	bound, err := s.connection.write(s.generation, frame)
	if !bound {
		if s.pool.isStopping() {
			return ErrStopped
		}
		return ErrSessionClosed
	}
	if err != nil {
		s.closed = true
		s.pool.post(controlEvent{kind: eventSendFailed, connection: s.connection, generation: s.generation})
		return fmt.Errorf("sending response for %s: %w", s.request.RequestToken, err)
	}

	s.sent = true
	s.pool.post(controlEvent{kind: eventSent, connection: s.connection, generation: s.generation})
	return nil
}

// Acknowledgement waits for the peer's acknowledgement of the sent
// response. It returns ErrAcknowledgementMissing if the peer
// disconnected or moved on to another request, an error wrapping
// analysis.ErrMalformedMessage if the acknowledgement frame was
// malformed, ErrNotSent before a successful Send, and ErrStopped if
// the pool stopped first. The verdict stands in every case.
func (s *Session) Acknowledgement(ctx context.Context) (*analysis.Acknowledgement, error) {
	s.mu.Lock()
	sent := s.sent
	s.mu.Unlock()
	if !sent {
		return nil, ErrNotSent
	}

	select {
	case <-s.ackDone:
		return s.ack, s.ackErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close ends the caller's use of the session. Closing an unanswered
// session resets its connection; after Send, Close only detaches and
// the connection stays open for the peer's acknowledgement and further
// requests. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if !s.sent {
		s.pool.post(controlEvent{kind: eventAbandoned, connection: s.connection, generation: s.generation})
	}
	return nil
}

func (s *Session) finishAcknowledgement(ack *analysis.Acknowledgement, err error) {
	s.ackOnce.Do(func() {
		s.ack = ack
		s.ackErr = err
		close(s.ackDone)
	})
}
