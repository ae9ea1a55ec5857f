// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package anchor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testProfileDocument = `{
	// Production anchors through the hosted gateway.
	"profiles": [
		{
			"name": "mainnet",
			"endpoint": "https://anchor.capstan.example",
			"contract": "0x4f2a9c31e8d07bb5",
			"confirmation_depth": 12,
			"poll_interval": "5s",
		},
		{
			"name": "devnet",
			"endpoint": "http://localhost:8651",
		},
	],
}`

func TestParseProfiles(t *testing.T) {
	profiles, err := ParseProfiles([]byte(testProfileDocument))
	if err != nil {
		t.Fatalf("ParseProfiles: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("parsed %d profiles, want 2", len(profiles))
	}

	mainnet, ok := profiles["mainnet"]
	if !ok {
		t.Fatal("mainnet profile missing")
	}
	if mainnet.Endpoint != "https://anchor.capstan.example" {
		t.Errorf("endpoint = %q", mainnet.Endpoint)
	}
	if mainnet.Contract != "0x4f2a9c31e8d07bb5" {
		t.Errorf("contract = %q", mainnet.Contract)
	}
	if mainnet.ConfirmationDepth != 12 {
		t.Errorf("confirmation depth = %d, want 12", mainnet.ConfirmationDepth)
	}
	if got := mainnet.PollIntervalDuration(); got != 5*time.Second {
		t.Errorf("poll interval = %v, want 5s", got)
	}

	devnet := profiles["devnet"]
	if got := devnet.PollIntervalDuration(); got != DefaultPollInterval {
		t.Errorf("default poll interval = %v, want %v", got, DefaultPollInterval)
	}
	if devnet.ConfirmationDepth != 0 {
		t.Errorf("confirmation depth = %d, want 0", devnet.ConfirmationDepth)
	}
}

func TestParseProfiles_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		document string
		wantErr  string
	}{
		{
			name:     "empty document",
			document: `{"profiles": []}`,
			wantErr:  "no profiles",
		},
		{
			name:     "malformed json",
			document: `{"profiles": [`,
			wantErr:  "parsing chain profiles",
		},
		{
			name:     "missing name",
			document: `{"profiles": [{"endpoint": "https://x.example"}]}`,
			wantErr:  "empty name",
		},
		{
			name:     "missing endpoint",
			document: `{"profiles": [{"name": "a"}]}`,
			wantErr:  "empty endpoint",
		},
		{
			name:     "bad scheme",
			document: `{"profiles": [{"name": "a", "endpoint": "ftp://x.example"}]}`,
			wantErr:  "scheme",
		},
		{
			name:     "no host",
			document: `{"profiles": [{"name": "a", "endpoint": "https://"}]}`,
			wantErr:  "no host",
		},
		{
			name:     "negative depth",
			document: `{"profiles": [{"name": "a", "endpoint": "https://x.example", "confirmation_depth": -1}]}`,
			wantErr:  "negative confirmation depth",
		},
		{
			name:     "unparseable poll interval",
			document: `{"profiles": [{"name": "a", "endpoint": "https://x.example", "poll_interval": "soon"}]}`,
			wantErr:  "invalid poll_interval",
		},
		{
			name:     "zero poll interval",
			document: `{"profiles": [{"name": "a", "endpoint": "https://x.example", "poll_interval": "0s"}]}`,
			wantErr:  "must be positive",
		},
		{
			name: "duplicate names",
			document: `{"profiles": [
				{"name": "a", "endpoint": "https://x.example"},
				{"name": "a", "endpoint": "https://y.example"}
			]}`,
			wantErr: "duplicate profile name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProfiles([]byte(tt.document))
			if err == nil {
				t.Fatal("ParseProfiles accepted an invalid document")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadProfiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chains.jsonc")
	if err := os.WriteFile(path, []byte(testProfileDocument), 0o644); err != nil {
		t.Fatalf("writing profile document: %v", err)
	}

	profiles, err := LoadProfiles(path)
	if err != nil {
		t.Fatalf("LoadProfiles: %v", err)
	}
	if _, ok := profiles["mainnet"]; !ok {
		t.Error("mainnet profile missing after load")
	}

	if _, err := LoadProfiles(filepath.Join(dir, "absent.jsonc")); err == nil {
		t.Error("LoadProfiles succeeded on a missing file")
	}
}
