// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// Size is the length of a raw digest in bytes.
const Size = sha256.Size

// Digest is a raw SHA-256 digest.
type Digest [Size]byte

// ErrMismatch is returned by VerifyFile when the content does not
// match the expected digest.
var ErrMismatch = errors.New("content digest mismatch")

// File streams the file at path through SHA-256.
func File(path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return Digest{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	var digest Digest
	hasher.Sum(digest[:0])
	return digest, nil
}

// Bytes returns the digest of data.
func Bytes(data []byte) Digest {
	return sha256.Sum256(data)
}

// String is Format(d).
func (d Digest) String() string { return Format(d) }

// Format returns the lowercase hex form used on the wire.
func Format(digest Digest) string {
	return hex.EncodeToString(digest[:])
}

// Parse decodes a hex digest. Upper-case hex is accepted.
func Parse(hexString string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing content digest: %w", err)
	}
	if len(decoded) != Size {
		return digest, fmt.Errorf("content digest is %d bytes, want %d", len(decoded), Size)
	}
	copy(digest[:], decoded)
	return digest, nil
}

// VerifyFile checks that the file at path has the given hex digest.
// It returns an error wrapping ErrMismatch when the content differs.
func VerifyFile(path, expected string) error {
	want, err := Parse(expected)
	if err != nil {
		return err
	}
	got, err := File(path)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: %s is %s, request says %s", ErrMismatch, path, got, want)
	}
	return nil
}
