// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package framing

import (
	"errors"
	"fmt"
	"slices"

	"github.com/bureau-foundation/contentanalysis/lib/channel"
	"github.com/bureau-foundation/contentanalysis/lib/codec"
)

const (
	// ReadQuantum is the amount a Reader's buffer grows by each time it
	// fills while more of the frame is pending.
	ReadQuantum = 4096

	// MaxMessageSize is the default upper bound on one assembled
	// message. Request payloads carry file paths rather than file
	// content, so real messages are far smaller; the bound only stops a
	// misbehaving peer from exhausting memory.
	MaxMessageSize = 64 << 20
)

var (
	// ErrEmptyMessage is returned by WriteMessage for a zero-length
	// payload.
	ErrEmptyMessage = errors.New("framing: empty message")

	// ErrMessageTooLarge is returned when a frame exceeds the Reader's
	// size limit. The partial frame is discarded.
	ErrMessageTooLarge = errors.New("framing: message too large")
)

// ChunkReader is the read half of a channel.
type ChunkReader interface {
	ReadChunk(p []byte) (n int, more bool, err error)
}

// FrameWriter is the write half of a channel.
type FrameWriter interface {
	WriteFrame(p []byte) error
}

// WriteMessage writes message as one frame.
func WriteMessage(w FrameWriter, message []byte) error {
	if len(message) == 0 {
		return ErrEmptyMessage
	}
	if err := w.WriteFrame(message); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// ReadMessage reads one complete frame from a blocking channel.
func ReadMessage(r ChunkReader) ([]byte, error) {
	var reader Reader
	return reader.Next(r)
}

// Encode marshals v as CBOR and writes it as one frame.
func Encode(w FrameWriter, v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	return WriteMessage(w, data)
}

// Decode reads one frame from a blocking channel and unmarshals it into
// v.
func Decode(r ChunkReader, v any) error {
	data, err := ReadMessage(r)
	if err != nil {
		return err
	}
	if err := codec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	return nil
}

// Reader assembles frames from partial reads. The zero value is ready
// to use with the default MaxMessageSize.
//
// A Reader is not safe for concurrent use.
type Reader struct {
	// MaxSize overrides MaxMessageSize when positive.
	MaxSize int

	buffer  []byte
	filled  int
	inFrame bool
}

// NewReader returns a Reader that rejects frames larger than maxSize
// bytes. A non-positive maxSize selects MaxMessageSize.
func NewReader(maxSize int) *Reader {
	return &Reader{MaxSize: maxSize}
}

// Next reads from source until the current frame is complete and
// returns it. The returned slice is owned by the caller.
//
// On channel.ErrWouldBlock the bytes received so far are kept and the
// next call resumes the same frame. Any other error discards them.
func (r *Reader) Next(source ChunkReader) ([]byte, error) {
	limit := r.MaxSize
	if limit <= 0 {
		limit = MaxMessageSize
	}

	for {
		if r.filled == len(r.buffer) {
			if r.filled >= limit {
				r.Reset()
				return nil, fmt.Errorf("%w: exceeds %d bytes", ErrMessageTooLarge, limit)
			}
			grow := min(ReadQuantum, limit-r.filled)
			r.buffer = slices.Grow(r.buffer, grow)[:r.filled+grow]
		}

		n, more, err := source.ReadChunk(r.buffer[r.filled:])
		if err != nil {
			if errors.Is(err, channel.ErrWouldBlock) {
				return nil, err
			}
			r.Reset()
			return nil, err
		}
		r.filled += n
		r.inFrame = true
		if more {
			continue
		}

		message := r.buffer[:r.filled:r.filled]
		r.buffer = nil
		r.filled = 0
		r.inFrame = false
		return message, nil
	}
}

// Pending reports whether part of a frame has been received but the
// frame is not yet complete.
func (r *Reader) Pending() bool {
	return r.inFrame
}

// Reset discards any partial frame.
func (r *Reader) Reset() {
	r.buffer = nil
	r.filled = 0
	r.inFrame = false
}
