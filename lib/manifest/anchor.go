// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"fmt"

	"github.com/capstan-io/capstan/lib/merkle"
)

// AnchorStatus tracks the chain submission lifecycle of a manifest.
type AnchorStatus string

const (
	// AnchorPending: the record exists but no submission has been
	// acknowledged by the chain. This is the durable initial state,
	// written before the first network call, and the state a session
	// returns to when submission attempts exhaust; the recovery
	// sweep picks pending records up.
	AnchorPending AnchorStatus = "pending"

	// AnchorSubmitted: the chain accepted the transaction; its
	// confirmation is still outstanding.
	AnchorSubmitted AnchorStatus = "submitted"

	// AnchorConfirmed: the chain confirmed the transaction. Terminal.
	AnchorConfirmed AnchorStatus = "confirmed"

	// AnchorFailed: the chain definitively rejected the anchor
	// (invalid submission, not transport trouble). Terminal.
	AnchorFailed AnchorStatus = "failed"
)

// ParseAnchorStatus validates a status string read from storage.
func ParseAnchorStatus(s string) (AnchorStatus, error) {
	switch AnchorStatus(s) {
	case AnchorPending, AnchorSubmitted, AnchorConfirmed, AnchorFailed:
		return AnchorStatus(s), nil
	default:
		return "", fmt.Errorf("unknown anchor status %q", s)
	}
}

// Terminal reports whether the status can never change again.
func (s AnchorStatus) Terminal() bool {
	return s == AnchorConfirmed || s == AnchorFailed
}

// AnchorRecord is the durable trail of one manifest's anchoring.
// Created (status pending) before the first network call so a crash
// mid-submission leaves evidence for the recovery sweep; updated only
// on submission, confirmation, or terminal failure.
type AnchorRecord struct {
	ManifestHash        merkle.Hash  `json:"manifest_hash"`
	SessionID           SessionID    `json:"session_id"`
	TxRef               string       `json:"tx_ref,omitempty"`
	Attempts            int          `json:"attempts"`
	SubmittedAtUnixNano int64        `json:"submitted_at_unix_nano,omitempty"`
	ConfirmedAtUnixNano int64        `json:"confirmed_at_unix_nano,omitempty"`
	Status              AnchorStatus `json:"status"`
}
