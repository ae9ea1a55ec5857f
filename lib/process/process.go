// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint error handling Capstan
// binaries share. A main() is the one place raw stderr output is
// legitimate: the structured logger is either not up yet or already
// torn down, and the process is about to exit.
package process

import (
	"fmt"
	"os"
)

// Fatal reports err and exits the process. An err implementing
// ExitCode() int means the command already wrote its own findings
// (capstan verify prints a report before failing); Fatal honors the
// code and adds nothing. Anything else prints as "error: <err>" and
// exits 1.
func Fatal(err error) {
	if coder, ok := err.(interface{ ExitCode() int }); ok {
		os.Exit(coder.ExitCode())
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
