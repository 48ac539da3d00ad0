// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package channel

func closeDescriptor(int) error { return ErrUnsupported }

// Listen is not available on this platform.
func Listen(string, ListenOptions) (Listener, error) { return nil, ErrUnsupported }

// Dial is not available on this platform.
func Dial(string) (Channel, error) { return nil, ErrUnsupported }

// Poller is not available on this platform.
type Poller struct{}

// NewPoller is not available on this platform.
func NewPoller() (*Poller, error) { return nil, ErrUnsupported }

func (p *Poller) Wait([]int) ([]int, error) { return nil, ErrUnsupported }
func (p *Poller) Wake() error               { return ErrUnsupported }
func (p *Poller) Close() error              { return nil }
