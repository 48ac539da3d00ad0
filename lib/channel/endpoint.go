// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Endpoint derives the socket path for an agent. The agent and every
// browser process call it with the same arguments and must get the
// same answer, so it depends only on its inputs and the caller's uid.
//
// A user-specific endpoint embeds the numeric uid, which scopes it to
// one user's session: "<name>.<uid>.sock". A shared endpoint is
// "<name>.sock". An empty directory means os.TempDir().
func Endpoint(directory, name string, userSpecific bool) (string, error) {
	if name == "" {
		return "", fmt.Errorf("endpoint name is empty")
	}
	if strings.ContainsRune(name, '/') || name == "." || name == ".." {
		return "", fmt.Errorf("endpoint name %q must be a single path element", name)
	}
	if directory == "" {
		directory = os.TempDir()
	}

	file := name + ".sock"
	if userSpecific {
		file = fmt.Sprintf("%s.%d.sock", name, os.Getuid())
	}
	return filepath.Join(directory, file), nil
}
