// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// DefaultPoolSize is used when Config.PoolSize is not positive.
const DefaultPoolSize = 4

// Config holds the parameters for opening a pool. Path is required.
type Config struct {
	// Path is the database file. The parent directory must exist.
	// ":memory:" works only with PoolSize 1, since every in-memory
	// connection is a separate database.
	Path string

	PoolSize int

	// Durable selects synchronous=FULL, which survives power loss at
	// the cost of an fsync per commit.
	Durable bool

	// Schema is an idempotent SQL script run on every new connection.
	Schema string

	// OnConnect runs after Schema on every new connection.
	OnConnect func(conn *sqlite.Conn) error

	// Logger receives pool open and close messages. Nil discards them.
	Logger *slog.Logger
}

// Pool is a fixed-size pool of prepared SQLite connections. It is safe
// for concurrent use; the connections it hands out are not.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open creates the pool. Connections are prepared lazily on first
// Take. The caller must Close the pool.
func Open(cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlitepool: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, cfg)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", cfg.Path, err)
	}

	logger.Debug("sqlite pool opened",
		"path", cfg.Path,
		"pool_size", poolSize,
		"durable", cfg.Durable,
	)

	return &Pool{
		inner:  inner,
		logger: logger,
		path:   cfg.Path,
	}, nil
}

// Path returns the database path the pool was opened with.
func (p *Pool) Path() string { return p.path }

// Take borrows a connection, blocking until one is free or ctx is
// done. The caller must Put it back.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool. Put(nil) does nothing.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// With runs fn on a borrowed connection and returns it to the pool.
func (p *Pool) With(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := p.Take(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)
	return fn(conn)
}

// Close closes every connection, waiting for borrowed ones to be
// returned. Take fails after Close.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error("sqlite pool close failed",
			"path", p.path,
			"error", err,
		)
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Debug("sqlite pool closed", "path", p.path)
	return nil
}

func prepareConnection(conn *sqlite.Conn, cfg Config) error {
	synchronous := "NORMAL"
	if cfg.Durable {
		synchronous = "FULL"
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=" + synchronous,
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-4096",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}

	if cfg.Schema != "" {
		if err := sqlitex.ExecuteScript(conn, cfg.Schema, nil); err != nil {
			return fmt.Errorf("sqlitepool: applying schema: %w", err)
		}
	}
	if cfg.OnConnect != nil {
		if err := cfg.OnConnect(conn); err != nil {
			return fmt.Errorf("sqlitepool: OnConnect: %w", err)
		}
	}
	return nil
}
