// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// chunkHeaderSize is the size of the word preceding every chunk.
	chunkHeaderSize = 4

	// chunkMoreFlag is set in a chunk header when further chunks of
	// the same frame follow.
	chunkMoreFlag = 1 << 31

	// chunkLengthMask extracts the chunk length from a header word.
	chunkLengthMask = chunkMoreFlag - 1

	// maxChunkSize bounds a single chunk. Frames larger than this are
	// split; the reader sees "more pending" at every chunk boundary.
	maxChunkSize = 64 << 10

	// writeTimeout bounds how long a non-blocking WriteFrame waits for
	// a peer that has stopped reading.
	writeTimeout = 10 * time.Second

	// defaultBacklog is the listen queue length when ListenOptions
	// does not set one.
	defaultBacklog = 16

	// maxSocketPath is the size of sun_path in sockaddr_un, including
	// the terminating NUL.
	maxSocketPath = 108
)

func closeDescriptor(fd int) error {
	return unix.Close(fd)
}

// Listen creates the server endpoint at path. Any stale socket file at
// path is removed first; the file is removed again by Close.
func Listen(path string, options ListenOptions) (Listener, error) {
	if len(path) >= maxSocketPath {
		return nil, fmt.Errorf("endpoint path %s exceeds %d bytes", path, maxSocketPath-1)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale endpoint %s: %w", path, err)
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("creating socket: %w", err)
	}
	handle := NewHandle(fd)

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		handle.Close()
		return nil, fmt.Errorf("binding %s: %w", path, err)
	}

	mode := os.FileMode(0o666)
	if options.UserSpecific {
		mode = 0o600
	}
	if err := os.Chmod(path, mode); err != nil {
		handle.Close()
		os.Remove(path)
		return nil, fmt.Errorf("setting permissions on %s: %w", path, err)
	}

	backlog := options.Backlog
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	if err := unix.Listen(fd, backlog); err != nil {
		handle.Close()
		os.Remove(path)
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}

	return &unixListener{handle: handle, path: path}, nil
}

// Dial connects to the endpoint at path and returns a blocking
// channel. ErrBusy (wrapped) means the agent's accept queue is full and
// the caller should retry; every other error is final.
func Dial(path string) (Channel, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("creating socket: %w", err)
	}
	handle := NewHandle(fd)
	defer handle.Close()

	// A non-blocking connect on a Unix socket either completes
	// immediately or fails with EAGAIN when the listen queue is full.
	for {
		err = unix.Connect(fd, &unix.SockaddrUnix{Name: path})
		if err != unix.EINTR {
			break
		}
	}
	if errors.Is(err, unix.EAGAIN) {
		return nil, fmt.Errorf("connecting to %s: %w", path, ErrBusy)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", path, err)
	}

	if err := unix.SetNonblock(fd, false); err != nil {
		return nil, fmt.Errorf("configuring %s: %w", path, err)
	}

	peer := peerCredentials(fd)
	return newUnixChannel(handle.Detach(), peer), nil
}

type unixListener struct {
	handle *Handle
	path   string
}

func (l *unixListener) Accept() (Channel, error) {
	fd := l.handle.Fd()
	if fd < 0 {
		return nil, ErrClosed
	}

	for {
		connFd, _, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			return newUnixChannel(connFd, peerCredentials(connFd)), nil
		case err == unix.EINTR, err == unix.ECONNABORTED:
			continue
		case err == unix.EAGAIN:
			return nil, ErrWouldBlock
		default:
			return nil, fmt.Errorf("accepting on %s: %w", l.path, err)
		}
	}
}

func (l *unixListener) Fd() int      { return l.handle.Fd() }
func (l *unixListener) Path() string { return l.path }

func (l *unixListener) Close() error {
	if !l.handle.Valid() {
		return nil
	}
	err := l.handle.Close()
	if removeErr := os.Remove(l.path); removeErr != nil && !os.IsNotExist(removeErr) && err == nil {
		err = removeErr
	}
	return err
}

func peerCredentials(fd int) PeerCredentials {
	ucred, err := unix.GetsockoptUcred(fd, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return PeerCredentials{}
	}
	return PeerCredentials{PID: ucred.Pid, UID: ucred.Uid, GID: ucred.Gid}
}

// unixChannel implements Channel over a connected AF_UNIX stream
// socket using the chunk encoding described in the package comment.
type unixChannel struct {
	handle *Handle
	peer   PeerCredentials

	// Read-side decoder state. Survives ErrWouldBlock so a frame can
	// arrive across many readiness events.
	readMu         sync.Mutex
	header         [chunkHeaderSize]byte
	headerFilled   int
	inChunk        bool
	chunkRemaining int
	chunkMore      bool
	midFrame       bool

	writeMu sync.Mutex
}

func newUnixChannel(fd int, peer PeerCredentials) *unixChannel {
	return &unixChannel{handle: NewHandle(fd), peer: peer}
}

func (c *unixChannel) Fd() int               { return c.handle.Fd() }
func (c *unixChannel) Peer() PeerCredentials { return c.peer }

func (c *unixChannel) ReadChunk(p []byte) (int, bool, error) {
	if len(p) == 0 {
		return 0, false, fmt.Errorf("channel: ReadChunk called with empty buffer")
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	fd := c.handle.Fd()
	if fd < 0 {
		return 0, false, ErrClosed
	}

	for !c.inChunk {
		n, err := readDescriptor(fd, c.header[c.headerFilled:])
		if err != nil {
			return 0, false, err
		}
		if n == 0 {
			if c.headerFilled == 0 && !c.midFrame {
				return 0, false, io.EOF
			}
			return 0, false, io.ErrUnexpectedEOF
		}
		c.headerFilled += n
		if c.headerFilled < chunkHeaderSize {
			continue
		}

		word := binary.BigEndian.Uint32(c.header[:])
		c.headerFilled = 0
		c.inChunk = true
		c.chunkRemaining = int(word & chunkLengthMask)
		c.chunkMore = word&chunkMoreFlag != 0
		if c.chunkRemaining > maxChunkSize {
			return 0, false, fmt.Errorf("channel: chunk of %d bytes exceeds %d", c.chunkRemaining, maxChunkSize)
		}
	}

	n := 0
	if c.chunkRemaining > 0 {
		var err error
		n, err = readDescriptor(fd, p[:min(len(p), c.chunkRemaining)])
		if err != nil {
			return 0, false, err
		}
		if n == 0 {
			return 0, false, io.ErrUnexpectedEOF
		}
		c.chunkRemaining -= n
	}

	if c.chunkRemaining > 0 {
		c.midFrame = true
		return n, true, nil
	}
	c.inChunk = false
	c.midFrame = c.chunkMore
	return n, c.chunkMore, nil
}

// readDescriptor reads once from fd, retrying on EINTR and mapping
// EAGAIN to ErrWouldBlock.
func readDescriptor(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		switch {
		case err == nil:
			return n, nil
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, ErrWouldBlock
		default:
			return 0, fmt.Errorf("reading frame: %w", err)
		}
	}
}

func (c *unixChannel) WriteFrame(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	fd := c.handle.Fd()
	if fd < 0 {
		return ErrClosed
	}

	chunks := max(1, (len(p)+maxChunkSize-1)/maxChunkSize)
	buffer := make([]byte, 0, len(p)+chunks*chunkHeaderSize)
	for offset := 0; ; {
		size := min(len(p)-offset, maxChunkSize)
		word := uint32(size)
		if offset+size < len(p) {
			word |= chunkMoreFlag
		}
		buffer = binary.BigEndian.AppendUint32(buffer, word)
		buffer = append(buffer, p[offset:offset+size]...)
		offset += size
		if offset >= len(p) {
			break
		}
	}

	deadline := time.Now().Add(writeTimeout)
	for len(buffer) > 0 {
		n, err := unix.SendmsgN(fd, buffer, nil, nil, unix.MSG_NOSIGNAL)
		switch {
		case err == nil:
			buffer = buffer[n:]
		case err == unix.EINTR:
		case err == unix.EAGAIN:
			if err := waitWritable(fd, deadline); err != nil {
				return err
			}
		default:
			return fmt.Errorf("writing frame: %w", err)
		}
	}
	return nil
}

// waitWritable blocks until fd can take more bytes or the deadline
// passes. Only reached on non-blocking descriptors whose socket buffer
// is full.
func waitWritable(fd int, deadline time.Time) error {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("writing frame: %w", os.ErrDeadlineExceeded)
		}
		descriptors := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		count, err := unix.Poll(descriptors, int(remaining/time.Millisecond)+1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("waiting for writability: %w", err)
		}
		if count == 0 {
			continue
		}
		revents := descriptors[0].Revents
		if revents&unix.POLLOUT == 0 && revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return fmt.Errorf("writing frame: %w", unix.EPIPE)
		}
		return nil
	}
}

func (c *unixChannel) Shutdown() error {
	fd := c.handle.Fd()
	if fd < 0 {
		return ErrClosed
	}
	if err := unix.Shutdown(fd, unix.SHUT_RDWR); err != nil && err != unix.ENOTCONN {
		return fmt.Errorf("shutting down channel: %w", err)
	}
	return nil
}

func (c *unixChannel) Close() error {
	return c.handle.Close()
}
