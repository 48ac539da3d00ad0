// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies errors from local IPC channels.
package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/bureau-foundation/contentanalysis/lib/channel"
)

// IsExpectedCloseError reports whether err is an ordinary hang-up: the
// peer closed between frames (EOF), the channel was already closed
// locally, or the kernel reported a broken pipe or reset while the
// peer went away. Such errors are logged at debug level. A hang-up in
// the middle of a frame (io.ErrUnexpectedEOF) is not expected.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, channel.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
