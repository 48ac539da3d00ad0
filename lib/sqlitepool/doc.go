// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite connection pools with the pragmas
// local content analysis storage expects.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool. Callers [Pool.Take]
// a connection and [Pool.Put] it back, or run a function against a
// borrowed connection with [Pool.With]. A connection is used by one
// goroutine at a time.
//
// Every connection gets:
//
//   - journal_mode=WAL, so audit queries never block the agent's writes.
//   - synchronous=NORMAL, or FULL when [Config].Durable is set.
//   - busy_timeout=5000.
//   - cache_size=-4096 (4 MB per connection).
//   - temp_store=MEMORY.
//
// [Config].Schema, when set, is executed as a script on every new
// connection after the pragmas, so it must be idempotent (CREATE ...
// IF NOT EXISTS).
package sqlitepool
