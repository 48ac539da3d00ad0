// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import "sync/atomic"

// invalidFd marks a handle that no longer owns a descriptor.
const invalidFd = -1

// Handle owns one OS descriptor. Close releases it exactly once, no
// matter how many times or from how many goroutines it is called.
// Detach hands the descriptor to a new owner without closing it.
type Handle struct {
	fd atomic.Int64
}

// NewHandle takes ownership of fd.
func NewHandle(fd int) *Handle {
	handle := &Handle{}
	handle.fd.Store(int64(fd))
	return handle
}

// Fd returns the owned descriptor, or -1 after Close or Detach.
func (h *Handle) Fd() int {
	return int(h.fd.Load())
}

// Valid reports whether the handle still owns a descriptor.
func (h *Handle) Valid() bool {
	return h.fd.Load() != invalidFd
}

// Detach relinquishes ownership and returns the descriptor without
// closing it. Returns -1 if the handle was already closed or detached.
func (h *Handle) Detach() int {
	return int(h.fd.Swap(invalidFd))
}

// Close releases the descriptor. Only the first call closes; later
// calls return nil.
func (h *Handle) Close() error {
	fd := h.fd.Swap(invalidFd)
	if fd == invalidFd {
		return nil
	}
	return closeDescriptor(int(fd))
}
