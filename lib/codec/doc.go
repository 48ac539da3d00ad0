// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding configuration shared by the
// agent and the browser-side client.
//
// Every frame that crosses the content analysis channel is exactly one
// CBOR item: a [analysis.BrowserMessage] envelope from the browser, or
// a [analysis.Response] from the agent. Framing is handled by
// lib/framing; this package only turns values into bytes and back.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2). The
// decoder ignores unknown fields for forward compatibility and rejects
// duplicate map keys.
//
// # Struct Tag Rules
//
// Wire types use `cbor` tags only. They are never marshaled to JSON;
// the client binary renders them for humans through their String
// methods rather than through a second serialization format.
package codec
