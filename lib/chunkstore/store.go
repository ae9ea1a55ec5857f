// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"context"
	"errors"

	"github.com/capstan-io/capstan/lib/chunker"
	"github.com/capstan-io/capstan/lib/merkle"
	"github.com/capstan-io/capstan/lib/seal"
)

// ErrNotFound is returned by Get when no record exists for the
// requested session and index. Callers match it with errors.Is.
var ErrNotFound = errors.New("chunk record not found")

// Record is one sealed chunk as persisted. All fields are immutable
// after Put: the pipeline seals a chunk exactly once, and a record
// re-written on a retried Put is identical to the original because
// encryption is deterministic per (session, index).
//
// The hashes are stored so that a verifier can check a single chunk
// without decrypting it (CipherHash, the Merkle leaf) and check the
// recovered plaintext after decryption (PlainHash).
type Record struct {
	SessionID      [16]byte             `cbor:"session_id"`
	Index          uint64               `cbor:"index"`
	PlaintextSize  int64                `cbor:"plaintext_size"`
	CompressedSize int64                `cbor:"compressed_size"`
	Codec          chunker.Codec        `cbor:"codec"`
	Ciphertext     []byte               `cbor:"ciphertext"`
	Nonce          [seal.NonceSize]byte `cbor:"nonce"`
	Tag            [seal.TagSize]byte   `cbor:"tag"`
	PlainHash      merkle.Hash          `cbor:"plain_hash"`
	CipherHash     merkle.Hash          `cbor:"cipher_hash"`
}

// Store persists chunk records keyed by session id and chunk index.
// Implementations are safe for concurrent use by multiple sessions.
type Store interface {
	// Put persists a record, overwriting any existing record for the
	// same (session, index).
	Put(ctx context.Context, rec *Record) error

	// Get loads the record for the given session and chunk index.
	// Returns an error wrapping ErrNotFound if no such record exists.
	Get(ctx context.Context, sessionID [16]byte, index uint64) (*Record, error)

	// Count returns the number of records stored for the session.
	// Zero with a nil error means the session has no chunks.
	Count(ctx context.Context, sessionID [16]byte) (uint64, error)

	// Delete removes every record for the session. Deleting a session
	// with no records is not an error.
	Delete(ctx context.Context, sessionID [16]byte) error

	// Close releases backend resources. The store must not be used
	// after Close.
	Close() error
}
