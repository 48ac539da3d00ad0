// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package browserclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/bureau-foundation/contentanalysis/lib/analysis"
	"github.com/bureau-foundation/contentanalysis/lib/channel"
	"github.com/bureau-foundation/contentanalysis/lib/clock"
	"github.com/bureau-foundation/contentanalysis/lib/codec"
	"github.com/bureau-foundation/contentanalysis/lib/framing"
)

var (
	// ErrClientClosed is returned by every call after Close, and after
	// a failed or cancelled round trip left the channel unusable.
	ErrClientClosed = errors.New("browserclient: client closed")

	// ErrTokenMismatch is returned when the agent answers with a
	// response for a different request.
	ErrTokenMismatch = errors.New("browserclient: response token does not match request")
)

// Config selects the agent endpoint and how to reach it.
type Config struct {
	// Name and UserSpecific must match the agent's configuration.
	Name            string
	UserSpecific    bool
	SocketDirectory string

	Retry  RetryPolicy
	Dialer Dialer
	Clock  clock.Clock
}

// Client holds one channel to an agent.
type Client struct {
	mu       sync.Mutex
	channel  channel.Channel
	endpoint string
	logger   *slog.Logger
}

// New connects to the agent named by config.
func New(ctx context.Context, config Config, logger *slog.Logger) (*Client, error) {
	if config.Name == "" {
		return nil, errors.New("agent name is required")
	}
	endpoint, err := channel.Endpoint(config.SocketDirectory, config.Name, config.UserSpecific)
	if err != nil {
		return nil, err
	}

	peer, err := Connect(ctx, config.Dialer, endpoint, config.Retry, config.Clock)
	if err != nil {
		return nil, fmt.Errorf("connecting to agent %s: %w", endpoint, err)
	}

	client := NewWithChannel(peer, logger)
	client.endpoint = endpoint
	return client, nil
}

// NewWithChannel wraps an established blocking channel. The Client
// takes ownership of it.
func NewWithChannel(peer channel.Channel, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{channel: peer, logger: logger}
}

// Endpoint returns the path the client connected to, or "" for a
// client built with NewWithChannel.
func (c *Client) Endpoint() string { return c.endpoint }

// Send submits request and waits for the agent's response. An empty
// RequestToken is replaced with a fresh UUID before sending.
//
// If ctx ends first the channel is shut down, Send returns ctx.Err(),
// and the Client is unusable. Any other failure also leaves the Client
// unusable; the caller decides whether a missing verdict means allow or
// block.
func (c *Client) Send(ctx context.Context, request *analysis.Request) (*analysis.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	peer := c.channel
	if peer == nil {
		return nil, ErrClientClosed
	}
	if request.RequestToken == "" {
		request.RequestToken = uuid.NewString()
	}

	frame, err := codec.Marshal(analysis.BrowserMessage{Request: request})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { peer.Shutdown() })
	response, err := c.roundTrip(peer, frame)
	if !stop() {
		// The context ended while the round trip was in flight; the
		// channel has been shut down even if the read completed.
		c.discardLocked()
		if err != nil {
			return nil, ctx.Err()
		}
	}
	if err != nil {
		c.discardLocked()
		return nil, fmt.Errorf("request %s: %w", request.RequestToken, err)
	}

	if response.RequestToken != request.RequestToken {
		c.discardLocked()
		return nil, fmt.Errorf("%w: sent %s, received %s", ErrTokenMismatch, request.RequestToken, response.RequestToken)
	}

	c.logger.Debug("verdict received",
		"request_token", request.RequestToken,
		"verdict", response.Verdict().String(),
	)
	return response, nil
}

func (c *Client) roundTrip(peer channel.Channel, frame []byte) (*analysis.Response, error) {
	if err := framing.WriteMessage(peer, frame); err != nil {
		return nil, err
	}
	data, err := framing.ReadMessage(peer)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return analysis.DecodeResponse(data)
}

// Acknowledge tells the agent what the browser did with a response. It
// does not wait for a reply. A failure does not affect the verdict
// already received.
func (c *Client) Acknowledge(ack *analysis.Acknowledgement) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel == nil {
		return ErrClientClosed
	}
	if err := framing.Encode(c.channel, analysis.BrowserMessage{Acknowledgement: ack}); err != nil {
		c.discardLocked()
		return fmt.Errorf("acknowledging %s: %w", ack.RequestToken, err)
	}
	return nil
}

// Close releases the channel. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel == nil {
		return nil
	}
	err := c.channel.Close()
	c.channel = nil
	return err
}

func (c *Client) discardLocked() {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
}
