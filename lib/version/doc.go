// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the content analysis
// binaries.
//
// [GitCommit], [GitDirty], and [BuildTime] are injected with -ldflags:
//
//	go build -ldflags "-X github.com/bureau-foundation/contentanalysis/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// When they are not injected, [Info] falls back to the VCS stamp the Go
// toolchain records in the binary's build info.
package version
