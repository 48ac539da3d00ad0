// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit keeps a local SQLite record of every verdict the agent
// sends and of what the browser reported doing with it.
//
// Each session produces one row. [Log.RecordVerdict] writes it when the
// response goes out, with the acknowledgement outcome "pending". The
// row is completed by either [Log.RecordAcknowledgement] or
// [Log.RecordMissingAcknowledgement].
//
// Content is never stored. Rows carry a keyed BLAKE3 [Fingerprint] of
// the text or file instead, so repeated submissions of the same content
// can be correlated without retaining it.
//
// A nil *Log accepts every call and records nothing, which is how the
// agent runs with auditing disabled.
package audit
