// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"strings"
	"testing"
)

func TestNewSessionID_Unique(t *testing.T) {
	seen := make(map[SessionID]bool)
	for range 64 {
		id, err := NewSessionID()
		if err != nil {
			t.Fatalf("NewSessionID: %v", err)
		}
		if id.IsZero() {
			t.Fatal("NewSessionID returned the zero id")
		}
		if seen[id] {
			t.Fatalf("NewSessionID returned duplicate %s", id)
		}
		seen[id] = true
	}
}

func TestSessionID_StringRoundTrip(t *testing.T) {
	id, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID: %v", err)
	}

	s := id.String()
	if len(s) != 32 {
		t.Errorf("String() length = %d, want 32", len(s))
	}
	if s != strings.ToLower(s) {
		t.Errorf("String() is not lowercase: %q", s)
	}

	parsed, err := ParseSessionID(s)
	if err != nil {
		t.Fatalf("ParseSessionID(%q): %v", s, err)
	}
	if parsed != id {
		t.Errorf("roundtrip mismatch: %s != %s", parsed, id)
	}
}

func TestParseSessionID_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"short", "abcd"},
		{"long", strings.Repeat("ab", 17)},
		{"bad_hex", strings.Repeat("zz", 16)},
		{"uppercase_wrong_length", "ABC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSessionID(tt.input); err == nil {
				t.Errorf("ParseSessionID(%q) succeeded", tt.input)
			}
		})
	}
}

func TestSessionID_TextMarshaling(t *testing.T) {
	id, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID: %v", err)
	}

	text, err := id.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var parsed SessionID
	if err := parsed.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if parsed != id {
		t.Errorf("text roundtrip mismatch")
	}
}
