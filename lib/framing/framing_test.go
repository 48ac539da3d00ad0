// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package framing

import (
	"bytes"
	"errors"
	"io"
	"math/rand/v2"
	"testing"

	"github.com/bureau-foundation/contentanalysis/lib/channel"
)

// scriptedChannel replays a fixed sequence of deliveries. Each delivery
// is one write-side burst that the reader may only consume up to
// len(p) bytes at a time, mirroring a message-mode channel. An entry
// with a non-nil err is returned once in place of data.
type scriptedChannel struct {
	steps   []step
	current []byte
	last    bool

	written [][]byte
	calls   int
}

type step struct {
	data []byte
	last bool // the delivery ends the frame
	err  error
}

func (c *scriptedChannel) ReadChunk(p []byte) (int, bool, error) {
	c.calls++
	if len(p) == 0 {
		return 0, false, errors.New("empty read buffer")
	}
	if c.current == nil {
		if len(c.steps) == 0 {
			return 0, false, io.EOF
		}
		next := c.steps[0]
		c.steps = c.steps[1:]
		if next.err != nil {
			return 0, false, next.err
		}
		c.current = next.data
		if c.current == nil {
			c.current = []byte{}
		}
		c.last = next.last
	}

	n := copy(p, c.current)
	c.current = c.current[n:]
	more := len(c.current) > 0 || !c.last
	if len(c.current) == 0 {
		c.current = nil
	}
	return n, more, nil
}

func (c *scriptedChannel) WriteFrame(p []byte) error {
	c.written = append(c.written, bytes.Clone(p))
	return nil
}

// splitAt delivers payload as two bursts split at offset.
func splitAt(payload []byte, offset int) *scriptedChannel {
	return &scriptedChannel{steps: []step{
		{data: payload[:offset]},
		{data: payload[offset:], last: true},
	}}
}

func testPayload(size int) []byte {
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i*7 + i/251)
	}
	return payload
}

func TestReadMessageEverySplit(t *testing.T) {
	for _, size := range []int{2, 3, 64, 257} {
		payload := testPayload(size)
		for offset := 1; offset < size; offset++ {
			got, err := ReadMessage(splitAt(payload, offset))
			if err != nil {
				t.Fatalf("size %d split %d: %v", size, offset, err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("size %d split %d: got %d bytes, payload mismatch", size, offset, len(got))
			}
		}
	}
}

func TestReadMessageAcrossReadQuantum(t *testing.T) {
	size := 3*ReadQuantum + 11
	payload := testPayload(size)

	offsets := []int{1, ReadQuantum - 1, ReadQuantum, ReadQuantum + 1, 2 * ReadQuantum, size - 1}
	for offset := 2; offset < size; offset += 97 {
		offsets = append(offsets, offset)
	}
	for _, offset := range offsets {
		got, err := ReadMessage(splitAt(payload, offset))
		if err != nil {
			t.Fatalf("split %d: %v", offset, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("split %d: payload mismatch", offset)
		}
		if len(got) != cap(got) {
			t.Errorf("split %d: message not truncated (len %d cap %d)", offset, len(got), cap(got))
		}
	}
}

func TestReadMessageManySmallDeliveries(t *testing.T) {
	random := rand.New(rand.NewPCG(1, 2))
	for trial := range 50 {
		size := 1 + random.IntN(5*ReadQuantum)
		payload := testPayload(size)

		source := &scriptedChannel{}
		for offset := 0; offset < size; {
			burst := min(size-offset, 1+random.IntN(700))
			source.steps = append(source.steps, step{data: payload[offset : offset+burst]})
			offset += burst
		}
		source.steps[len(source.steps)-1].last = true

		got, err := ReadMessage(source)
		if err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("trial %d: payload mismatch (%d bytes, want %d)", trial, len(got), size)
		}
	}
}

func TestReadMessageExactQuantum(t *testing.T) {
	payload := testPayload(ReadQuantum)
	got, err := ReadMessage(&scriptedChannel{steps: []step{{data: payload, last: true}}})
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("payload mismatch")
	}
}

func TestReadMessageZeroByteFrame(t *testing.T) {
	got, err := ReadMessage(&scriptedChannel{steps: []step{{last: true}}})
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d bytes, want empty message", len(got))
	}
}

func TestReaderResumesAfterWouldBlock(t *testing.T) {
	payload := testPayload(2*ReadQuantum + 5)
	source := &scriptedChannel{steps: []step{
		{data: payload[:100]},
		{err: channel.ErrWouldBlock},
		{data: payload[100 : ReadQuantum+50]},
		{err: channel.ErrWouldBlock},
		{data: payload[ReadQuantum+50:], last: true},
	}}

	var reader Reader
	var got []byte
	blocks := 0
	for {
		message, err := reader.Next(source)
		if errors.Is(err, channel.ErrWouldBlock) {
			blocks++
			if !reader.Pending() {
				t.Fatal("partial frame not pending after ErrWouldBlock")
			}
			continue
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = message
		break
	}

	if blocks != 2 {
		t.Errorf("saw %d ErrWouldBlock, want 2", blocks)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("payload mismatch after resume")
	}
	if reader.Pending() {
		t.Error("reader still pending after complete frame")
	}
}

func TestReaderDiscardsPartialOnError(t *testing.T) {
	fault := errors.New("peer vanished")
	source := &scriptedChannel{steps: []step{
		{data: []byte("partial")},
		{err: fault},
		{data: []byte("next"), last: true},
	}}

	var reader Reader
	if _, err := reader.Next(source); !errors.Is(err, fault) {
		t.Fatalf("Next = %v, want %v", err, fault)
	}
	if reader.Pending() {
		t.Fatal("partial bytes retained after error")
	}

	got, err := reader.Next(source)
	if err != nil {
		t.Fatalf("Next after error: %v", err)
	}
	if string(got) != "next" {
		t.Errorf("got %q, want %q (stale bytes leaked)", got, "next")
	}
}

func TestReaderConsecutiveFrames(t *testing.T) {
	source := &scriptedChannel{steps: []step{
		{data: []byte("first"), last: true},
		{data: []byte("sec")},
		{data: []byte("ond"), last: true},
	}}

	var reader Reader
	for _, want := range []string{"first", "second"} {
		got, err := reader.Next(source)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if string(got) != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
	if _, err := reader.Next(source); !errors.Is(err, io.EOF) {
		t.Errorf("Next at end = %v, want io.EOF", err)
	}
}

func TestReaderMaxSize(t *testing.T) {
	payload := testPayload(3 * ReadQuantum)
	reader := NewReader(2 * ReadQuantum)

	_, err := reader.Next(&scriptedChannel{steps: []step{{data: payload, last: true}}})
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("Next = %v, want ErrMessageTooLarge", err)
	}
	if reader.Pending() {
		t.Error("oversized frame left pending")
	}

	got, err := reader.Next(&scriptedChannel{steps: []step{{data: payload[:2*ReadQuantum], last: true}}})
	if err != nil {
		t.Fatalf("frame at the limit: %v", err)
	}
	if len(got) != 2*ReadQuantum {
		t.Errorf("got %d bytes", len(got))
	}
}

func TestWriteMessageRejectsEmpty(t *testing.T) {
	sink := &scriptedChannel{}
	if err := WriteMessage(sink, nil); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("WriteMessage(nil) = %v, want ErrEmptyMessage", err)
	}
	if err := WriteMessage(sink, []byte{}); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("WriteMessage(empty) = %v, want ErrEmptyMessage", err)
	}
	if len(sink.written) != 0 {
		t.Errorf("empty message reached the channel: %d frames", len(sink.written))
	}
}

type failingWriter struct{ err error }

func (w failingWriter) WriteFrame([]byte) error { return w.err }

func TestWriteMessageSurfacesWriteError(t *testing.T) {
	fault := errors.New("broken pipe")
	if err := WriteMessage(failingWriter{fault}, []byte("x")); !errors.Is(err, fault) {
		t.Errorf("WriteMessage = %v, want wrapped %v", err, fault)
	}
}

type envelope struct {
	Token string `cbor:"token"`
	Count int    `cbor:"count"`
}

func TestEncodeDecode(t *testing.T) {
	sink := &scriptedChannel{}
	if err := Encode(sink, envelope{Token: "abc", Count: 3}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(sink.written) != 1 {
		t.Fatalf("Encode wrote %d frames, want 1", len(sink.written))
	}

	frame := sink.written[0]
	source := &scriptedChannel{steps: []step{
		{data: frame[:1]},
		{data: frame[1:], last: true},
	}}
	var decoded envelope
	if err := Decode(source, &decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded != (envelope{Token: "abc", Count: 3}) {
		t.Errorf("decoded %+v", decoded)
	}
}

func TestDecodeRejectsEmptyFrame(t *testing.T) {
	var decoded envelope
	if err := Decode(&scriptedChannel{steps: []step{{last: true}}}, &decoded); err == nil {
		t.Error("Decode accepted an empty frame")
	}
}
