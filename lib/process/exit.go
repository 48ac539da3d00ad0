// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ExitError asks Exit to leave with Code. A nil Err exits silently.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode returns the status a binary should exit with for err: 0 for
// nil, the Code of an *ExitError, and 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

// Report writes "error: err" to w unless err is nil or a silent
// *ExitError.
func Report(w io.Writer, err error) {
	if err == nil {
		return
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err == nil {
		return
	}
	fmt.Fprintf(w, "error: %v\n", err)
}

// Exit reports err to stderr and exits with ExitCode(err). It returns
// only for a nil err.
func Exit(err error) {
	if err == nil {
		return
	}
	Report(os.Stderr, err)
	os.Exit(ExitCode(err))
}

// Fatal writes "error: err" to stderr and exits with code 1.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
