// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// SessionID is the 128-bit session identifier. It renders as 32
// lowercase hex characters in logs, URLs, filenames, JSON, and CBOR.
type SessionID [16]byte

// NewSessionID returns a cryptographically random session id.
func NewSessionID() (SessionID, error) {
	var id SessionID
	if _, err := rand.Read(id[:]); err != nil {
		return SessionID{}, fmt.Errorf("generating session id: %w", err)
	}
	return id, nil
}

// ParseSessionID parses a 32-character hex string into a SessionID.
func ParseSessionID(hexString string) (SessionID, error) {
	var id SessionID
	if len(hexString) != hex.EncodedLen(len(id)) {
		return SessionID{}, fmt.Errorf("session id must be %d hex characters, got %d", hex.EncodedLen(len(id)), len(hexString))
	}
	if _, err := hex.Decode(id[:], []byte(hexString)); err != nil {
		return SessionID{}, fmt.Errorf("invalid session id %q: %w", hexString, err)
	}
	return id, nil
}

// IsZero reports whether the id is all zeros (the invalid value).
func (id SessionID) IsZero() bool {
	return id == SessionID{}
}

// String returns the id as lowercase hex.
func (id SessionID) String() string {
	return hex.EncodeToString(id[:])
}

// MarshalText implements encoding.TextMarshaler; ids serialize as hex
// strings in both JSON and CBOR.
func (id SessionID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *SessionID) UnmarshalText(text []byte) error {
	parsed, err := ParseSessionID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
