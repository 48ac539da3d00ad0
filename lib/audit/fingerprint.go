// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/contentanalysis/lib/analysis"
)

// fingerprintKey separates content fingerprints from any other BLAKE3
// use of the same bytes. Changing it breaks correlation with existing
// rows.
var fingerprintKey = [32]byte{
	'c', 'o', 'n', 't', 'e', 'n', 't', 'a', 'n', 'a', 'l', 'y', 's', 'i', 's', '.',
	'a', 'u', 'd', 'i', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Fingerprint returns the hex keyed BLAKE3 hash of a request's text
// content or of the file it names. Requests with neither return "".
func Fingerprint(request *analysis.Request) (string, error) {
	hasher, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		return "", fmt.Errorf("audit: fingerprint key: %w", err)
	}

	switch {
	case request.TextContent != "":
		io.WriteString(hasher, request.TextContent)
	case request.FilePath != "":
		file, err := os.Open(request.FilePath)
		if err != nil {
			return "", fmt.Errorf("audit: fingerprinting %s: %w", request.FilePath, err)
		}
		defer file.Close()
		if _, err := io.Copy(hasher, file); err != nil {
			return "", fmt.Errorf("audit: fingerprinting %s: %w", request.FilePath, err)
		}
	default:
		return "", nil
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
