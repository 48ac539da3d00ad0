// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestInfoUsesInjectedValues(t *testing.T) {
	saved := [...]string{GitCommit, GitDirty, BuildTime, Version}
	t.Cleanup(func() {
		GitCommit, GitDirty, BuildTime, Version = saved[0], saved[1], saved[2], saved[3]
	})

	GitCommit, GitDirty, BuildTime, Version = "abc1234", "true", "2026-03-01T00:00:00Z", "1.2.3"
	if got, want := Info(), "1.2.3 (abc1234-dirty, 2026-03-01T00:00:00Z)"; got != want {
		t.Errorf("Info() = %q, want %q", got, want)
	}

	GitDirty = "false"
	if got := Info(); strings.Contains(got, "-dirty") {
		t.Errorf("Info() = %q, want no dirty marker", got)
	}
}

func TestInfoWithoutInjection(t *testing.T) {
	if !strings.HasPrefix(Info(), Version+" (") {
		t.Errorf("Info() = %q, want it to start with the version", Info())
	}
}

func TestFull(t *testing.T) {
	full := Full()
	if !strings.HasPrefix(full, Info()) {
		t.Errorf("Full() = %q does not start with Info()", full)
	}
	if !strings.Contains(full, runtime.Version()) || !strings.Contains(full, runtime.GOOS+"/"+runtime.GOARCH) {
		t.Errorf("Full() = %q missing toolchain or platform", full)
	}
}
