// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// ReadFromPath loads a secret into guarded memory from a file, or
// from the first line of stdin when path is "-". Surrounding
// whitespace never counts as secret material and is trimmed; every
// transient heap copy is zeroed on the way. Errors on an empty
// source.
func ReadFromPath(path string) (*Buffer, error) {
	if path == "-" {
		return readStdinLine()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return guard(data)
}

// readStdinLine consumes a single line. Piped callers (CI, scripts)
// send the secret with a trailing newline; anything after the first
// line is left unread.
func readStdinLine() (*Buffer, error) {
	line, err := bufio.NewReader(os.Stdin).ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	if len(line) == 0 {
		return nil, fmt.Errorf("stdin is empty")
	}
	return guard(line)
}

// guard moves the trimmed secret out of data into a locked Buffer and
// zeroes data itself, including the whitespace shoulders the trim
// excluded.
func guard(data []byte) (*Buffer, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		Zero(data)
		return nil, fmt.Errorf("secret is empty")
	}

	buffer, err := NewFromBytes(trimmed) // zeroes trimmed
	Zero(data)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}
