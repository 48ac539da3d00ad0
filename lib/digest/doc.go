// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest computes the SHA-256 content digests carried in
// analysis requests.
//
// The browser reports the digest of the content it submits as a
// lowercase hex string in RequestData.Digest. [File] and [Bytes]
// produce digests, [Format] and [Parse] convert between the raw and
// wire forms, and [VerifyFile] checks a file against a reported digest.
//
// This package depends on no other packages of this module.
package digest
