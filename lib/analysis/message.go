// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/contentanalysis/lib/codec"
)

// ErrMalformedMessage is returned when a frame does not decode into a
// valid BrowserMessage.
var ErrMalformedMessage = errors.New("analysis: malformed message")

// MessageKind discriminates the two browser-to-agent frames.
type MessageKind uint8

const (
	KindInvalid MessageKind = iota
	KindRequest
	KindAcknowledgement
)

func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindAcknowledgement:
		return "acknowledgement"
	}
	return "invalid"
}

// BrowserMessage is the envelope for every browser-to-agent frame.
// Exactly one field is set.
type BrowserMessage struct {
	Request         *Request         `cbor:"request,omitempty"`
	Acknowledgement *Acknowledgement `cbor:"acknowledgement,omitempty"`
}

// Kind reports which payload the envelope carries, or KindInvalid if it
// carries neither or both.
func (m *BrowserMessage) Kind() MessageKind {
	switch {
	case m.Request != nil && m.Acknowledgement == nil:
		return KindRequest
	case m.Acknowledgement != nil && m.Request == nil:
		return KindAcknowledgement
	}
	return KindInvalid
}

// Validate checks that exactly one payload is present.
func (m *BrowserMessage) Validate() error {
	switch {
	case m.Request == nil && m.Acknowledgement == nil:
		return fmt.Errorf("%w: envelope carries no payload", ErrMalformedMessage)
	case m.Request != nil && m.Acknowledgement != nil:
		return fmt.Errorf("%w: envelope carries both request and acknowledgement", ErrMalformedMessage)
	}
	return nil
}

// DecodeBrowserMessage decodes and validates one frame. Every failure
// wraps ErrMalformedMessage.
func DecodeBrowserMessage(data []byte) (*BrowserMessage, error) {
	var message BrowserMessage
	if err := codec.Unmarshal(data, &message); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := message.Validate(); err != nil {
		return nil, err
	}
	return &message, nil
}

// DecodeResponse decodes one agent-to-browser frame.
func DecodeResponse(data []byte) (*Response, error) {
	var response Response
	if err := codec.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return &response, nil
}
