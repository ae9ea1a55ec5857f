// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "github.com/capstan-io/capstan/lib/manifest"

// ID identifies a session: 16 random bytes, hex in text form. It is
// an alias for manifest.SessionID: the id is born here but lives in
// every layer below, and the manifest package is the one place all of
// them already import.
type ID = manifest.SessionID

// NewID generates a random session id.
func NewID() (ID, error) {
	return manifest.NewSessionID()
}

// ParseID parses the hex text form of a session id.
func ParseID(s string) (ID, error) {
	return manifest.ParseSessionID(s)
}
