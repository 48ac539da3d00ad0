// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package channel provides the local duplex IPC endpoint shared by a
// content analysis agent and the browser processes that submit user
// actions to it.
//
// A channel carries discrete frames. The rest of the system depends
// only on the [Channel] capability interface: read the next chunk of
// the current frame, write one whole frame, shut down, close. The
// protocol, framing, and session logic in lib/framing,
// lib/agentserver, and lib/browserclient is written once against that
// interface.
//
// On Linux the transport is an AF_UNIX stream socket. A stream has no
// message boundaries of its own, so the transport restores them:
// every frame is written as a run of chunks, each prefixed by a 4-byte
// big-endian word whose top bit says whether more chunks follow and
// whose low 31 bits give the chunk length. The total frame length is
// never declared. A reader learns only "more of this frame is pending"
// or "the frame is complete", which is the delivery model of a
// message-mode named pipe.
//
// Trust is established by the endpoint's filesystem permissions, not
// by this package: user-specific endpoints are created mode 0600 and
// the agent additionally compares SO_PEERCRED credentials against its
// own uid.
//
// Key exports:
//
//   - [Endpoint] derives the deterministic socket path both sides
//     rendezvous on.
//   - [Listen] and [Dial] create the server and client endpoints.
//   - [Poller] is the readiness reactor the agent's connection pool
//     multiplexes all endpoints through.
//   - [Handle] owns a descriptor and releases it exactly once.
package channel
