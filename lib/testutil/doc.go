// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [SocketDir] creates a short temporary directory in /tmp for agent
// endpoints. Unix domain sockets have a 108-byte path limit
// (sun_path in sockaddr_un) and t.TempDir() paths under build
// sandboxes routinely exceed it.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests never hang on a broken agent or client.
//
// [UniqueID] generates monotonically increasing identifiers for
// request tokens and payloads that must be distinguishable across
// concurrent sessions.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
