// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/contentanalysis/lib/channel"
	"github.com/bureau-foundation/contentanalysis/lib/clock"
)

// Config describes an agent endpoint.
type Config struct {
	// Name identifies the agent. Browsers derive the same endpoint
	// from it.
	Name string

	// UserSpecific scopes the endpoint to the current user.
	UserSpecific bool

	// SocketDirectory holds the endpoint. Empty selects os.TempDir().
	SocketDirectory string

	// PoolSize is the number of peers served concurrently. Zero
	// selects DefaultPoolSize.
	PoolSize int

	// Backlog is the kernel accept queue length behind the pool.
	Backlog int

	// MaxMessageSize bounds a single request frame.
	MaxMessageSize int

	Clock clock.Clock
}

// Agent serves one content analysis endpoint.
type Agent struct {
	endpoint string
	pool     *Pool
}

// New creates the endpoint described by config and starts serving it.
func New(config Config, logger *slog.Logger) (*Agent, error) {
	if config.Name == "" {
		return nil, errors.New("agent name is required")
	}
	endpoint, err := channel.Endpoint(config.SocketDirectory, config.Name, config.UserSpecific)
	if err != nil {
		return nil, err
	}

	listener, err := channel.Listen(endpoint, channel.ListenOptions{
		UserSpecific: config.UserSpecific,
		Backlog:      config.Backlog,
	})
	if err != nil {
		return nil, fmt.Errorf("creating agent endpoint: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := NewPool(listener, PoolOptions{
		Size:           config.PoolSize,
		UserSpecific:   config.UserSpecific,
		MaxMessageSize: config.MaxMessageSize,
		Clock:          config.Clock,
		Logger:         logger.With("agent", config.Name),
	})
	if err != nil {
		return nil, err
	}

	return &Agent{endpoint: endpoint, pool: pool}, nil
}

// Endpoint returns the path browsers connect to.
func (a *Agent) Endpoint() string { return a.endpoint }

// NextSession returns the next request from any browser peer.
func (a *Agent) NextSession(ctx context.Context) (*Session, error) {
	return a.pool.NextSession(ctx)
}

// Stop shuts the agent down. See Pool.Stop.
func (a *Agent) Stop() { a.pool.Stop() }
