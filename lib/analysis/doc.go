// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package analysis defines the payloads exchanged between a browser
// and a content analysis agent, and the helpers that keep a Response
// structurally valid.
//
// One exchange on a channel is:
//
//	browser → agent   BrowserMessage{Request}
//	agent   → browser Response
//	browser → agent   BrowserMessage{Acknowledgement}
//
// Both browser-to-agent frames share one envelope because they travel
// the same direction at different stages; the agent's single Response
// per session needs none.
//
// A Response carries at most one Result, and that Result carries at
// most one TriggeredRule whose Action is the verdict.
// [InitializeResponse] establishes the Result; [SetVerdict] and
// [SetVerdictBlock] set the verdict on it. A freshly initialized
// Response is an allow verdict.
//
// All types encode as CBOR through lib/codec.
package analysis
