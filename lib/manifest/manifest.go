// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"fmt"
	"time"

	"github.com/capstan-io/capstan/lib/chunker"
	"github.com/capstan-io/capstan/lib/codec"
	"github.com/capstan-io/capstan/lib/merkle"
)

// FormatVersion is the manifest layout version. Bumped only for
// incompatible field changes; verifiers refuse versions they do not
// know.
const FormatVersion = 1

// Manifest is the sealed record of one session: what was recorded,
// how it was encoded, and the Merkle root that commits to every
// chunk. Created once at seal time; immutable afterward.
//
// Hash covers the deterministic CBOR encoding of the manifest with
// Hash, Signature, and PublicKey zeroed, so signing (which fills the
// latter two) never changes the hash that was anchored.
type Manifest struct {
	FormatVersion     int           `json:"format_version"`
	SessionID         SessionID     `json:"session_id"`
	Owner             string        `json:"owner"`
	ChunkCount        uint64        `json:"chunk_count"`
	PlaintextSize     int64         `json:"plaintext_size"`
	CiphertextSize    int64         `json:"ciphertext_size"`
	MerkleRoot        merkle.Hash   `json:"merkle_root"`
	Codec             chunker.Codec `json:"codec"`
	StartedAtUnixNano int64         `json:"started_at_unix_nano"`
	SealedAtUnixNano  int64         `json:"sealed_at_unix_nano"`
	Hash              merkle.Hash   `json:"manifest_hash"`
	Signature         []byte        `json:"signature,omitempty"`
	PublicKey         []byte        `json:"public_key,omitempty"`
}

// Draft carries the fields the orchestrator knows at seal time. Build
// turns a draft into a hashed manifest.
type Draft struct {
	SessionID      SessionID
	Owner          string
	ChunkCount     uint64
	PlaintextSize  int64
	CiphertextSize int64
	MerkleRoot     merkle.Hash
	Codec          chunker.Codec
	StartedAt      time.Time
	SealedAt       time.Time
}

// Build validates a draft, assembles the manifest, and computes its
// hash. The returned manifest is unsigned.
func Build(draft Draft) (*Manifest, error) {
	if draft.SessionID.IsZero() {
		return nil, fmt.Errorf("building manifest: zero session id")
	}
	if draft.Owner == "" {
		return nil, fmt.Errorf("building manifest: empty owner")
	}
	if draft.ChunkCount > 0 && draft.MerkleRoot.IsZero() {
		return nil, fmt.Errorf("building manifest: %d chunks but zero merkle root", draft.ChunkCount)
	}
	if draft.PlaintextSize < 0 || draft.CiphertextSize < 0 {
		return nil, fmt.Errorf("building manifest: negative size")
	}
	if draft.SealedAt.Before(draft.StartedAt) {
		return nil, fmt.Errorf("building manifest: sealed at %v before started at %v", draft.SealedAt, draft.StartedAt)
	}

	m := &Manifest{
		FormatVersion:     FormatVersion,
		SessionID:         draft.SessionID,
		Owner:             draft.Owner,
		ChunkCount:        draft.ChunkCount,
		PlaintextSize:     draft.PlaintextSize,
		CiphertextSize:    draft.CiphertextSize,
		MerkleRoot:        draft.MerkleRoot,
		Codec:             draft.Codec,
		StartedAtUnixNano: draft.StartedAt.UTC().UnixNano(),
		SealedAtUnixNano:  draft.SealedAt.UTC().UnixNano(),
	}

	hash, err := m.Recompute()
	if err != nil {
		return nil, err
	}
	m.Hash = hash
	return m, nil
}

// Recompute derives the manifest hash from the current field values,
// ignoring Hash, Signature, and PublicKey. It does not modify the
// manifest: callers compare the result against Hash to detect
// corruption, or assign it when building.
func (m *Manifest) Recompute() (merkle.Hash, error) {
	clone := *m
	clone.Hash = merkle.Hash{}
	clone.Signature = nil
	clone.PublicKey = nil

	data, err := codec.Marshal(&clone)
	if err != nil {
		return merkle.Hash{}, fmt.Errorf("encoding manifest for hashing: %w", err)
	}
	return merkle.HashManifest(data), nil
}

// VerifyHash recomputes the manifest hash and compares it to the
// stored Hash field.
func (m *Manifest) VerifyHash() error {
	recomputed, err := m.Recompute()
	if err != nil {
		return err
	}
	if recomputed != m.Hash {
		return fmt.Errorf("manifest hash mismatch for session %s: stored %s, recomputed %s",
			m.SessionID, m.Hash, recomputed)
	}
	return nil
}

// StartedAt returns the recording start time.
func (m *Manifest) StartedAt() time.Time {
	return time.Unix(0, m.StartedAtUnixNano).UTC()
}

// SealedAt returns the seal time.
func (m *Manifest) SealedAt() time.Time {
	return time.Unix(0, m.SealedAtUnixNano).UTC()
}
