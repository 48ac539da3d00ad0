// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package browserclient is the browser side of the content analysis
// protocol.
//
// [Connect] opens a channel to the agent's endpoint, retrying with
// exponential backoff while the endpoint reports [channel.ErrBusy] (the
// agent's accept queue is full). Any other dial failure is returned at
// once. A [Client] then performs synchronous round trips over that one
// channel: [Client.Send] writes a request and reads exactly one
// response; [Client.Acknowledge] writes the acknowledgement and returns
// without waiting. Calls on one Client are serialized. Use one Client
// per concurrent request stream.
package browserclient
