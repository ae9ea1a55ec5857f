// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"io"

	"github.com/capstan-io/capstan/lib/chunker"
	"github.com/capstan-io/capstan/lib/chunkstore"
	"github.com/capstan-io/capstan/lib/manifest"
	"github.com/capstan-io/capstan/lib/merkle"
	"github.com/capstan-io/capstan/lib/seal"
)

// Reader streams a sealed session's plaintext back in chunk order.
// Every chunk is checked on the way through: the stored cipher hash
// before decryption, the AEAD tag during it, and the plain hash
// after decompression. When the last chunk has been read, the reader
// recomputes the merkle root from the cipher hashes it saw and
// refuses to return EOF unless it matches the manifest.
//
// The session key is borrowed from the key set per chunk; the caller
// owns its lifecycle and drops it when done.
type Reader struct {
	ctx   context.Context
	keys  *seal.KeySet
	store chunkstore.Store
	m     *manifest.Manifest

	next     uint64
	buf      []byte
	leaves   []merkle.Hash
	verified bool
	err      error
}

// NewReader opens a verified plaintext stream over a sealed session.
func NewReader(ctx context.Context, keys *seal.KeySet, store chunkstore.Store, m *manifest.Manifest) (*Reader, error) {
	if keys == nil {
		return nil, fmt.Errorf("session reader: key set is required")
	}
	if store == nil {
		return nil, fmt.Errorf("session reader: chunk store is required")
	}
	if m == nil {
		return nil, fmt.Errorf("session reader: manifest is required")
	}
	return &Reader{
		ctx:    ctx,
		keys:   keys,
		store:  store,
		m:      m,
		leaves: make([]merkle.Hash, 0, m.ChunkCount),
	}, nil
}

// Read implements io.Reader. Errors are sticky: once a chunk fails
// verification, every subsequent call returns the same error.
func (r *Reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	for len(r.buf) == 0 {
		if r.next == r.m.ChunkCount {
			if err := r.checkRoot(); err != nil {
				r.err = err
				return 0, err
			}
			r.err = io.EOF
			return 0, io.EOF
		}
		if err := r.loadChunk(); err != nil {
			r.err = err
			return 0, err
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// loadChunk fetches, verifies, decrypts, and decompresses the next
// chunk into the read buffer.
func (r *Reader) loadChunk() error {
	rec, err := r.store.Get(r.ctx, r.m.SessionID, r.next)
	if err != nil {
		return fmt.Errorf("session %s: loading chunk %d: %w", r.m.SessionID, r.next, err)
	}
	if rec.Index != r.next {
		return fmt.Errorf("session %s: store returned chunk %d for index %d", r.m.SessionID, rec.Index, r.next)
	}

	// Recompute the cipher-domain hash before the AEAD sees anything.
	// This is the same value the merkle tree was built over, so a
	// storage-level flip is caught here and attributed to the store
	// rather than surfacing as a bare authentication failure.
	sealed := make([]byte, 0, len(rec.Ciphertext)+seal.TagSize)
	sealed = append(sealed, rec.Ciphertext...)
	sealed = append(sealed, rec.Tag[:]...)
	if got := merkle.HashCiphertext(sealed); got != rec.CipherHash {
		return fmt.Errorf("session %s: chunk %d: stored ciphertext does not match its recorded hash", r.m.SessionID, r.next)
	}

	key, err := r.keys.SessionKey(r.m.SessionID)
	if err != nil {
		return fmt.Errorf("session %s: deriving key: %w", r.m.SessionID, err)
	}

	payload, err := seal.DecryptChunk(key, r.m.SessionID, rec.Index, rec.Ciphertext, rec.Tag)
	if err != nil {
		return fmt.Errorf("session %s: chunk %d: %w", r.m.SessionID, r.next, err)
	}

	plain, err := chunker.Decompress(payload, rec.Codec, int(rec.PlaintextSize))
	if err != nil {
		return fmt.Errorf("session %s: chunk %d: %w", r.m.SessionID, r.next, err)
	}
	if got := merkle.HashPlaintext(plain); got != rec.PlainHash {
		return fmt.Errorf("session %s: chunk %d: plaintext does not match its recorded hash", r.m.SessionID, r.next)
	}

	r.leaves = append(r.leaves, rec.CipherHash)
	r.buf = plain
	r.next++
	return nil
}

// checkRoot verifies the recomputed merkle root against the manifest
// once all chunks have been read.
func (r *Reader) checkRoot() error {
	if r.verified {
		return nil
	}
	if r.m.ChunkCount == 0 {
		if !r.m.MerkleRoot.IsZero() {
			return fmt.Errorf("session %s: manifest claims zero chunks but a non-zero merkle root", r.m.SessionID)
		}
		r.verified = true
		return nil
	}
	if got := merkle.Root(r.leaves); got != r.m.MerkleRoot {
		return fmt.Errorf("session %s: merkle root mismatch: computed %s, manifest has %s", r.m.SessionID, got, r.m.MerkleRoot)
	}
	r.verified = true
	return nil
}

// Leaves returns the cipher-domain leaf hashes seen so far, one per
// chunk in index order. Complete once Read has returned io.EOF. The
// slice is the reader's own; callers must not modify it.
func (r *Reader) Leaves() []merkle.Hash {
	return r.leaves
}
