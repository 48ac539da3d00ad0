// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers shared by the content
// analysis binaries: reporting an error from run() before or after the
// structured logger exists, and mapping errors to exit codes.
package process
