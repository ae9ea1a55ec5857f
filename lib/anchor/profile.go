// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package anchor

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/tidwall/jsonc"
)

// Profile describes one chain endpoint the service can anchor
// through. Profiles are authored on disk as JSONC (JSON extended with
// // comments and trailing commas); operators typically keep one per
// environment under a shared document.
type Profile struct {
	// Name identifies the profile in configuration and logs.
	Name string `json:"name"`

	// Endpoint is the base URL of the chain gateway, e.g.
	// "https://anchor.capstan.example". Required.
	Endpoint string `json:"endpoint"`

	// Contract is the address of the anchoring contract, passed
	// through to the gateway on submission. Optional for gateways
	// with a fixed contract.
	Contract string `json:"contract,omitempty"`

	// ConfirmationDepth is how many blocks must build on the anchor
	// transaction before the gateway reports it confirmed. Zero means
	// the gateway's default.
	ConfirmationDepth int `json:"confirmation_depth,omitempty"`

	// PollInterval is the wait between confirmation polls, in Go
	// time.ParseDuration format (e.g. "2s", "500ms"). Empty means
	// DefaultPollInterval.
	PollInterval string `json:"poll_interval,omitempty"`
}

// profileDocument is the on-disk shape: a single object holding the
// profile list, leaving room for document-level fields later.
type profileDocument struct {
	Profiles []Profile `json:"profiles"`
}

// Validate checks that the profile is complete enough to build a
// chain client from.
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("chain profile: empty name")
	}
	if p.Endpoint == "" {
		return fmt.Errorf("chain profile %q: empty endpoint", p.Name)
	}
	parsed, err := url.Parse(p.Endpoint)
	if err != nil {
		return fmt.Errorf("chain profile %q: invalid endpoint: %w", p.Name, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("chain profile %q: endpoint scheme must be http or https, got %q", p.Name, parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("chain profile %q: endpoint %q has no host", p.Name, p.Endpoint)
	}
	if p.ConfirmationDepth < 0 {
		return fmt.Errorf("chain profile %q: negative confirmation depth %d", p.Name, p.ConfirmationDepth)
	}
	if p.PollInterval != "" {
		interval, err := time.ParseDuration(p.PollInterval)
		if err != nil {
			return fmt.Errorf("chain profile %q: invalid poll_interval %q: %w", p.Name, p.PollInterval, err)
		}
		if interval <= 0 {
			return fmt.Errorf("chain profile %q: poll_interval must be positive, got %s", p.Name, p.PollInterval)
		}
	}
	return nil
}

// PollIntervalDuration returns the parsed poll interval, or
// DefaultPollInterval when the field is empty. Call Validate first;
// this accessor assumes the field parses.
func (p Profile) PollIntervalDuration() time.Duration {
	if p.PollInterval == "" {
		return DefaultPollInterval
	}
	interval, err := time.ParseDuration(p.PollInterval)
	if err != nil {
		return DefaultPollInterval
	}
	return interval
}

// ParseProfiles strips JSONC comments and trailing commas from data,
// unmarshals the profile document, and validates every profile.
// Returns the profiles keyed by name.
func ParseProfiles(data []byte) (map[string]Profile, error) {
	stripped := jsonc.ToJSON(data)

	var document profileDocument
	if err := json.Unmarshal(stripped, &document); err != nil {
		return nil, fmt.Errorf("parsing chain profiles: %w", err)
	}
	if len(document.Profiles) == 0 {
		return nil, fmt.Errorf("parsing chain profiles: no profiles defined")
	}

	profiles := make(map[string]Profile, len(document.Profiles))
	for i, profile := range document.Profiles {
		if err := profile.Validate(); err != nil {
			return nil, fmt.Errorf("profiles[%d]: %w", i, err)
		}
		if _, exists := profiles[profile.Name]; exists {
			return nil, fmt.Errorf("profiles[%d]: duplicate profile name %q", i, profile.Name)
		}
		profiles[profile.Name] = profile
	}
	return profiles, nil
}

// LoadProfiles reads a JSONC profile document from disk and parses
// it.
func LoadProfiles(path string) (map[string]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	profiles, err := ParseProfiles(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return profiles, nil
}
