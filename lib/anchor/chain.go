// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package anchor

import (
	"context"
	"fmt"

	"github.com/capstan-io/capstan/lib/manifest"
	"github.com/capstan-io/capstan/lib/merkle"
)

// TxRef identifies a submitted anchor transaction on the chain. The
// format is chain-specific and opaque to this package; it only needs
// to be stable enough to poll with.
type TxRef string

// Submission is the commitment written on-chain for one session. It
// carries exactly the fields a third party needs to check a recording
// against its anchor: the manifest hash binds the full manifest, the
// Merkle root and chunk count let chunk-level proofs be verified
// without fetching the manifest at all.
type Submission struct {
	SessionID    manifest.SessionID `json:"session_id"`
	ManifestHash merkle.Hash        `json:"manifest_hash"`
	MerkleRoot   merkle.Hash        `json:"merkle_root"`
	ChunkCount   uint64             `json:"chunk_count"`
}

// ConfirmationStatus is the chain's view of a submitted transaction.
type ConfirmationStatus string

const (
	// StatusPending: the transaction is known to the chain but not
	// yet confirmed at the required depth.
	StatusPending ConfirmationStatus = "pending"

	// StatusConfirmed: the transaction is final.
	StatusConfirmed ConfirmationStatus = "confirmed"

	// StatusFailed: the chain rejected or reverted the transaction.
	// This is a verdict on the submission itself, not a transport
	// error; transport errors surface as Go errors instead.
	StatusFailed ConfirmationStatus = "failed"
)

// ParseConfirmationStatus validates a status string from a chain
// response.
func ParseConfirmationStatus(s string) (ConfirmationStatus, error) {
	switch ConfirmationStatus(s) {
	case StatusPending, StatusConfirmed, StatusFailed:
		return ConfirmationStatus(s), nil
	default:
		return "", fmt.Errorf("unknown confirmation status %q", s)
	}
}

// Confirmation reports the state of a submitted transaction.
type Confirmation struct {
	Status ConfirmationStatus `json:"status"`

	// BlockNumber is the block that included the transaction. Zero
	// until the chain reports inclusion.
	BlockNumber uint64 `json:"block_number,omitempty"`
}

// Chain is the anchor interface of the external blockchain. The
// chain's consensus and execution semantics are out of scope; Capstan
// only needs these two calls.
//
// Implementations must be safe for concurrent use: the service
// anchors sessions independently and the recovery sweep runs
// alongside live submissions.
type Chain interface {
	// SubmitAnchor writes the commitment on-chain and returns a
	// reference for confirmation polling. Submitting the same
	// commitment twice is the chain's problem to deduplicate or
	// tolerate; the Client avoids resubmission through its durable
	// records, so a duplicate can only follow a crash that lost the
	// first TxRef.
	SubmitAnchor(ctx context.Context, sub Submission) (TxRef, error)

	// GetConfirmation polls the state of a previously submitted
	// transaction.
	GetConfirmation(ctx context.Context, ref TxRef) (Confirmation, error)
}
