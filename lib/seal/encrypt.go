// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package seal

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/capstan-io/capstan/lib/merkle"
	"github.com/capstan-io/capstan/lib/secret"
)

// BlobVersion is the version byte authenticated with every chunk.
// Included in the AAD, so an attacker cannot downgrade the format
// without failing authentication.
const BlobVersion byte = 0x01

// NonceSize is the XChaCha20-Poly1305 extended nonce size: the
// 16-byte session id followed by the 8-byte big-endian chunk index.
const NonceSize = chacha20poly1305.NonceSizeX

// TagSize is the Poly1305 authentication tag size.
const TagSize = chacha20poly1305.Overhead

// Encrypted holds the encryption products for one chunk: everything
// the store persists and the Merkle tree consumes.
type Encrypted struct {
	// Ciphertext is the encrypted payload, without the tag.
	Ciphertext []byte

	// Nonce is the deterministic nonce the chunk was sealed under.
	// Persisted for verifiers that check nonce construction; never
	// required for decryption, which re-derives it.
	Nonce [NonceSize]byte

	// Tag is the Poly1305 authentication tag.
	Tag [TagSize]byte

	// CipherHash is the cipher-domain hash over ciphertext‖tag, the
	// chunk's Merkle leaf. Covering the tag means even a forgery that
	// somehow preserved ciphertext bytes would still change the leaf.
	CipherHash merkle.Hash
}

// ChunkNonce builds the deterministic nonce for chunk index of the
// given session: the session id (16 bytes) followed by the big-endian
// index (8 bytes). Unique per (session, index) by construction, and
// the session id itself is unique per session key, so no nonce is
// ever reused under any key.
func ChunkNonce(sessionID [16]byte, index uint64) [NonceSize]byte {
	var nonce [NonceSize]byte
	copy(nonce[:16], sessionID[:])
	binary.BigEndian.PutUint64(nonce[16:], index)
	return nonce
}

// EncryptChunk seals a chunk payload under the session key. The key
// is borrowed (read via Bytes) and not closed. The payload is the
// chunker's output: compressed bytes, or the raw window for
// incompressible data.
func EncryptChunk(key *secret.Buffer, sessionID [16]byte, index uint64, payload []byte) (*Encrypted, error) {
	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	nonce := ChunkNonce(sessionID, index)
	aad := buildAAD(BlobVersion, sessionID, index)

	// Seal appends ciphertext+tag to the destination.
	sealed := aead.Seal(make([]byte, 0, len(payload)+TagSize), nonce[:], payload, aad)

	encrypted := &Encrypted{
		Ciphertext: sealed[:len(sealed)-TagSize],
		Nonce:      nonce,
		CipherHash: merkle.HashCiphertext(sealed),
	}
	copy(encrypted.Tag[:], sealed[len(sealed)-TagSize:])
	return encrypted, nil
}

// DecryptChunk authenticates and decrypts a stored chunk. Returns the
// compressed payload bytes on success. Any tampering (ciphertext,
// tag, a record moved to another index or session) fails
// authentication and returns an error; there is no unauthenticated
// output path.
//
// The key is borrowed and not closed.
func DecryptChunk(key *secret.Buffer, sessionID [16]byte, index uint64, ciphertext []byte, tag [TagSize]byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	nonce := ChunkNonce(sessionID, index)
	aad := buildAAD(BlobVersion, sessionID, index)

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag[:]...)

	payload, err := aead.Open(nil, nonce[:], sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("chunk %d authentication failed (tampered data, wrong session, or wrong key): %w", index, err)
	}
	return payload, nil
}

// buildAAD constructs the additional authenticated data: version
// byte, session id, and big-endian chunk index. Binding the identity
// into the AAD means ciphertexts cannot be swapped between chunks or
// sessions even where the same key is in play.
func buildAAD(version byte, sessionID [16]byte, index uint64) []byte {
	aad := make([]byte, 1+16+8)
	aad[0] = version
	copy(aad[1:17], sessionID[:])
	binary.BigEndian.PutUint64(aad[17:], index)
	return aad
}
