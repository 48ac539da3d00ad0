// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/bureau-foundation/contentanalysis/lib/analysis"
	"github.com/bureau-foundation/contentanalysis/lib/channel"
	"github.com/bureau-foundation/contentanalysis/lib/clock"
	"github.com/bureau-foundation/contentanalysis/lib/netutil"
)

// DefaultPoolSize is the number of concurrent peers a pool serves when
// PoolOptions.Size is not set.
const DefaultPoolSize = 8

// PoolOptions configures a Pool.
type PoolOptions struct {
	// Size is the number of connection slots. Peers beyond this wait
	// in the listener's backlog.
	Size int

	// UserSpecific rejects peers whose uid differs from this
	// process's.
	UserSpecific bool

	// MaxMessageSize bounds one request frame. Zero selects
	// framing.MaxMessageSize.
	MaxMessageSize int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Pool multiplexes a fixed set of connection slots over one listener.
type Pool struct {
	listener     channel.Listener
	poller       *channel.Poller
	connections  []*connection
	userSpecific bool
	uid          uint32
	clock        clock.Clock
	logger       *slog.Logger

	// sessions holds handed-off sessions until NextSession takes them.
	// A slot produces at most one session before that session sends
	// or closes, so a capacity of len(connections) never blocks the
	// dispatch goroutine.
	sessions chan *Session

	eventsMu sync.Mutex
	events   []controlEvent

	stopping     chan struct{}
	stoppingOnce sync.Once
	loopDone     chan struct{}
	stopOnce     sync.Once

	loopErrMu sync.Mutex
	loopErr   error
}

// controlEventKind names a session action that the dispatch goroutine
// must apply to a slot.
type controlEventKind uint8

const (
	// eventSent: the response was written; arm the acknowledgement
	// read.
	eventSent controlEventKind = iota

	// eventSendFailed: writing the response failed; reset.
	eventSendFailed

	// eventAbandoned: the session closed without a response; reset.
	eventAbandoned
)

type controlEvent struct {
	kind       controlEventKind
	connection *connection
	generation uint64
}

// NewPool takes ownership of listener and starts the dispatch
// goroutine. Call Stop to release everything.
func NewPool(listener channel.Listener, options PoolOptions) (*Pool, error) {
	size := options.Size
	if size <= 0 {
		size = DefaultPoolSize
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolClock := options.Clock
	if poolClock == nil {
		poolClock = clock.Real()
	}

	poller, err := channel.NewPoller()
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("creating poller: %w", err)
	}

	pool := &Pool{
		listener:     listener,
		poller:       poller,
		connections:  make([]*connection, size),
		userSpecific: options.UserSpecific,
		uid:          uint32(os.Getuid()),
		clock:        poolClock,
		logger:       logger,
		sessions:     make(chan *Session, size),
		stopping:     make(chan struct{}),
		loopDone:     make(chan struct{}),
	}
	for index := range pool.connections {
		pool.connections[index] = &connection{index: index}
		pool.connections[index].reader.MaxSize = options.MaxMessageSize
	}

	go pool.run()
	return pool, nil
}

// NextSession blocks until a request has been read from some peer and
// returns its session. It returns ErrStopped once Stop has been called,
// even if sessions are still queued, or ctx.Err() if ctx is done first.
func (p *Pool) NextSession(ctx context.Context) (*Session, error) {
	select {
	case <-p.stopping:
		return nil, p.stoppedError()
	default:
	}

	select {
	case session := <-p.sessions:
		return session, nil
	case <-p.stopping:
		return nil, p.stoppedError()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop ends the dispatch goroutine and releases every channel, the
// listener, and the poller. Sessions still waiting for an
// acknowledgement receive ErrStopped. Stop is idempotent and safe to
// call from any goroutine; concurrent callers return once cleanup is
// complete.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.signalStop()
		if err := p.poller.Wake(); err != nil {
			p.logger.Error("waking dispatch loop for stop", "error", err)
		}
		<-p.loopDone

		// A Send blocked on a full socket holds its slot's lock;
		// shutting the channel down releases it.
		for _, conn := range p.connections {
			if conn.channel != nil {
				conn.channel.Shutdown()
			}
		}
		for _, conn := range p.connections {
			if session := conn.release(); session != nil {
				session.finishAcknowledgement(nil, ErrStopped)
			}
			conn.state = stateClosed
		}

		if err := p.listener.Close(); err != nil {
			p.logger.Warn("closing listener", "path", p.listener.Path(), "error", err)
		}
		p.poller.Close()
		p.logger.Info("content analysis pool stopped", "path", p.listener.Path())
	})
}

func (p *Pool) signalStop() {
	p.stoppingOnce.Do(func() { close(p.stopping) })
}

func (p *Pool) isStopping() bool {
	select {
	case <-p.stopping:
		return true
	default:
		return false
	}
}

func (p *Pool) stoppedError() error {
	p.loopErrMu.Lock()
	defer p.loopErrMu.Unlock()
	if p.loopErr != nil {
		return fmt.Errorf("%w: %v", ErrStopped, p.loopErr)
	}
	return ErrStopped
}

// post queues a control event for the dispatch goroutine and wakes it.
func (p *Pool) post(event controlEvent) {
	p.eventsMu.Lock()
	p.events = append(p.events, event)
	p.eventsMu.Unlock()

	if err := p.poller.Wake(); err != nil && !errors.Is(err, channel.ErrClosed) {
		p.logger.Error("waking dispatch loop", "error", err)
	}
}

func (p *Pool) run() {
	defer close(p.loopDone)

	p.logger.Info("content analysis pool listening",
		"path", p.listener.Path(),
		"slots", len(p.connections),
	)
	for !p.isStopping() {
		if _, err := p.pollReadiness(); err != nil {
			p.logger.Error("dispatch loop failed", "error", err)
			p.loopErrMu.Lock()
			p.loopErr = err
			p.loopErrMu.Unlock()
			p.signalStop()
			return
		}
	}
}

// pollReadiness waits until the listener or some Reading slot is
// ready, or the loop is woken, then dispatches every ready slot in
// order. It returns the slots that were dispatched.
func (p *Pool) pollReadiness() ([]*connection, error) {
	p.applyEvents()

	type target struct {
		connection *connection // nil for the listener
		generation uint64
	}
	var targets []target
	var descriptors []int

	if p.hasListeningSlot() {
		targets = append(targets, target{})
		descriptors = append(descriptors, p.listener.Fd())
	}
	for _, conn := range p.connections {
		if conn.state == stateReading {
			targets = append(targets, target{connection: conn, generation: conn.generation})
			descriptors = append(descriptors, conn.channel.Fd())
		}
	}

	ready, err := p.poller.Wait(descriptors)
	if err != nil {
		return nil, err
	}
	if p.isStopping() {
		return nil, nil
	}
	p.applyEvents()

	var dispatched []*connection
	for _, index := range ready {
		entry := targets[index]
		if entry.connection == nil {
			dispatched = append(dispatched, p.acceptPeers()...)
			continue
		}
		conn := entry.connection
		if conn.generation != entry.generation || conn.state != stateReading {
			continue
		}
		p.readFrames(conn)
		dispatched = append(dispatched, conn)
	}
	return dispatched, nil
}

func (p *Pool) hasListeningSlot() bool {
	for _, conn := range p.connections {
		if conn.state == stateListening {
			return true
		}
	}
	return false
}

// acceptPeers binds queued peers to Listening slots until either runs
// out, and returns the slots that gained a peer.
func (p *Pool) acceptPeers() []*connection {
	var bound []*connection
	for _, conn := range p.connections {
		if conn.state != stateListening {
			continue
		}
		peer, err := p.listener.Accept()
		if errors.Is(err, channel.ErrWouldBlock) {
			break
		}
		if err != nil {
			p.logger.Warn("accept failed", "path", p.listener.Path(), "error", err)
			break
		}

		conn.bind(peer)
		if !p.verifyPeer(conn) {
			p.reset(conn, nil)
			continue
		}
		conn.state = stateIdle
		p.logger.Debug("peer connected", "slot", conn.index, "peer", peer.Peer().String())

		conn.state = stateReading
		p.readFrames(conn)
		bound = append(bound, conn)
	}
	return bound
}

// verifyPeer applies the user scope of the endpoint. Filesystem
// permissions already keep other users out of a user-specific
// endpoint; the credential check also covers privileged peers.
func (p *Pool) verifyPeer(conn *connection) bool {
	if !p.userSpecific {
		return true
	}
	peer := conn.channel.Peer()
	if peer.UID != p.uid {
		p.logger.Warn("rejecting peer from another user",
			"slot", conn.index,
			"peer", peer.String(),
			"agent_uid", p.uid,
		)
		return false
	}
	return true
}

// readFrames assembles and handles every frame currently available on
// a Reading slot.
func (p *Pool) readFrames(conn *connection) {
	for conn.state == stateReading {
		frame, err := conn.reader.Next(conn.channel)
		if errors.Is(err, channel.ErrWouldBlock) {
			return
		}
		if err != nil {
			p.connectionFault(conn, err)
			return
		}
		p.handleFrame(conn, frame)
	}
}

func (p *Pool) connectionFault(conn *connection, err error) {
	if netutil.IsExpectedCloseError(err) {
		p.logger.Debug("peer disconnected", "slot", conn.index, "state", conn.state.String())
	} else {
		p.logger.Warn("connection fault", "slot", conn.index, "state", conn.state.String(), "error", err)
	}
	p.reset(conn, ErrAcknowledgementMissing)
}

func (p *Pool) handleFrame(conn *connection, frame []byte) {
	message, err := analysis.DecodeBrowserMessage(frame)
	if err != nil {
		p.logger.Warn("malformed frame", "slot", conn.index, "bytes", len(frame), "error", err)
		p.reset(conn, err)
		return
	}

	switch message.Kind() {
	case analysis.KindAcknowledgement:
		if !conn.awaitingAck {
			p.logger.Warn("unsolicited acknowledgement", "slot", conn.index,
				"request_token", message.Acknowledgement.RequestToken)
			return
		}
		session := conn.session
		if message.Acknowledgement.RequestToken != session.request.RequestToken {
			p.logger.Warn("acknowledgement token mismatch", "slot", conn.index,
				"request_token", session.request.RequestToken,
				"acknowledged_token", message.Acknowledgement.RequestToken,
			)
		}
		conn.session = nil
		conn.awaitingAck = false
		session.finishAcknowledgement(message.Acknowledgement, nil)

	case analysis.KindRequest:
		if conn.awaitingAck {
			conn.session.finishAcknowledgement(nil, ErrAcknowledgementMissing)
			conn.session = nil
			conn.awaitingAck = false
		}
		if err := message.Request.Validate(); err != nil {
			p.logger.Warn("invalid request", "slot", conn.index, "error", err)
			p.reset(conn, nil)
			return
		}
		session := newSession(p, conn, message.Request)
		conn.session = session
		conn.state = stateMessageReady
		p.sessions <- session
	}
}

// applyEvents drains the control events posted by sessions.
func (p *Pool) applyEvents() {
	p.eventsMu.Lock()
	events := p.events
	p.events = nil
	p.eventsMu.Unlock()

	for _, event := range events {
		conn := event.connection
		if conn.generation != event.generation || conn.state != stateMessageReady {
			continue
		}
		switch event.kind {
		case eventSent:
			conn.awaitingAck = true
			conn.state = stateReading
		case eventSendFailed:
			p.reset(conn, ErrAcknowledgementMissing)
		case eventAbandoned:
			p.logger.Debug("session closed without a response", "slot", conn.index)
			p.reset(conn, nil)
		}
	}
}

// reset returns a slot to Listening. A session that was waiting for its
// acknowledgement receives ackErr (ErrAcknowledgementMissing when nil).
func (p *Pool) reset(conn *connection, ackErr error) {
	if session := conn.release(); session != nil {
		if ackErr == nil {
			ackErr = ErrAcknowledgementMissing
		}
		session.finishAcknowledgement(nil, ackErr)
	}
	conn.state = stateListening
}
