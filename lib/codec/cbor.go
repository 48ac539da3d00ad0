// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items. The same response always
// produces identical bytes on the wire.
var encMode cbor.EncMode

// decMode is the CBOR decoder used for every frame received from a
// peer process. Unknown fields are ignored so that an older agent can
// still read requests from a newer browser, but duplicate map keys are
// rejected: an envelope carrying two "request" keys is malformed, not
// last-writer-wins.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		DupMapKey:      cbor.DupMapKeyEnforcedAPF,
		// Payloads are shallow. The limits bound the work a hostile
		// peer can make the decoder do for a single frame.
		MaxNestedLevels:  16,
		MaxArrayElements: 65536,
		MaxMapPairs:      4096,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Valid reports whether data is exactly one well-formed CBOR item.
func Valid(data []byte) error {
	return decMode.Wellformed(data)
}

// RawMessage is a raw encoded CBOR value. Type alias so consumers
// import only lib/codec, not fxamacker/cbor directly.
type RawMessage = cbor.RawMessage

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for the
// entire contents of data. The agent logs this at debug level when a
// frame fails to decode into the expected envelope.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
