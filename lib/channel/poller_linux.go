// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package channel

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// readyEvents are the poll results that make a descriptor worth
// dispatching. Hang-ups and errors count: the subsequent read reports
// them.
const readyEvents = unix.POLLIN | unix.POLLHUP | unix.POLLERR | unix.POLLNVAL

// Poller waits for readability on many descriptors from one goroutine.
// A self-pipe lets any other goroutine interrupt the wait.
//
// Wait must be called from a single goroutine. Wake is safe from any
// goroutine, including concurrently with Wait and Close.
type Poller struct {
	mu        sync.RWMutex
	wakeRead  *Handle
	wakeWrite *Handle

	descriptors []unix.PollFd
}

// NewPoller creates a Poller. Call Close to release its wake pipe.
func NewPoller() (*Poller, error) {
	var pipe [2]int
	if err := unix.Pipe2(pipe[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("creating wake pipe: %w", err)
	}
	return &Poller{
		wakeRead:  NewHandle(pipe[0]),
		wakeWrite: NewHandle(pipe[1]),
	}, nil
}

// Wait blocks until at least one descriptor in fds is readable (or hung
// up, or in error) or Wake is called. It returns the indexes into fds
// that are ready, in ascending order. A wake-up with nothing else ready
// returns an empty slice.
func (p *Poller) Wait(fds []int) ([]int, error) {
	wakeFd := p.wakeRead.Fd()
	if wakeFd < 0 {
		return nil, ErrClosed
	}

	p.descriptors = p.descriptors[:0]
	p.descriptors = append(p.descriptors, unix.PollFd{Fd: int32(wakeFd), Events: unix.POLLIN})
	for _, fd := range fds {
		p.descriptors = append(p.descriptors, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}

	for {
		_, err := unix.Poll(p.descriptors, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("poll: %w", err)
		}
		break
	}

	if p.descriptors[0].Revents != 0 {
		p.drain(wakeFd)
	}

	var ready []int
	for index, descriptor := range p.descriptors[1:] {
		if descriptor.Revents&readyEvents != 0 {
			ready = append(ready, index)
		}
	}
	return ready, nil
}

// drain empties the wake pipe so the next Wait blocks again. Wakes
// that arrive during a dispatch pass coalesce into one.
func (p *Poller) drain(fd int) {
	var scratch [64]byte
	for {
		n, err := unix.Read(fd, scratch[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil || n < len(scratch) {
			return
		}
	}
}

// Wake interrupts a concurrent or the next Wait.
func (p *Poller) Wake() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	fd := p.wakeWrite.Fd()
	if fd < 0 {
		return ErrClosed
	}
	for {
		_, err := unix.Write(fd, []byte{1})
		switch err {
		case nil, unix.EAGAIN:
			// EAGAIN: the pipe is full of pending wakes already.
			return nil
		case unix.EINTR:
			continue
		default:
			return fmt.Errorf("waking poller: %w", err)
		}
	}
}

// Close releases the wake pipe. Wait must not be running.
func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	writeErr := p.wakeWrite.Close()
	readErr := p.wakeRead.Close()
	if writeErr != nil {
		return writeErr
	}
	return readErr
}
