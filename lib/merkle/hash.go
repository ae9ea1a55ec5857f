// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package merkle

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest. All Capstan content hashes
// (plaintext, ciphertext, tree node, manifest) are this size.
type Hash [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures that the same input bytes produce different
// hashes in different contexts, preventing cross-domain collisions.
type domainKey [32]byte

// Domain separation keys. These are fixed constants; changing them
// invalidates all existing hashes in that domain. The byte values
// are the ASCII encoding of the domain name, zero-padded to 32 bytes.
// Using readable ASCII makes the keys inspectable in hex dumps and
// debuggers without sacrificing any cryptographic property (BLAKE3
// keyed mode treats the key as an opaque 32-byte value).
var (
	plainDomainKey = domainKey{
		'c', 'a', 'p', 's', 't', 'a', 'n', '.', 'c', 'h', 'u', 'n', 'k', '.',
		'p', 'l', 'a', 'i', 'n', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	cipherDomainKey = domainKey{
		'c', 'a', 'p', 's', 't', 'a', 'n', '.', 'c', 'h', 'u', 'n', 'k', '.',
		'c', 'i', 'p', 'h', 'e', 'r', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	nodeDomainKey = domainKey{
		'c', 'a', 'p', 's', 't', 'a', 'n', '.', 'm', 'e', 'r', 'k', 'l', 'e', '.',
		'n', 'o', 'd', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	manifestDomainKey = domainKey{
		'c', 'a', 'p', 's', 't', 'a', 'n', '.', 'm', 'a', 'n', 'i', 'f', 'e', 's',
		't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// HashPlaintext computes the plain-domain hash of an uncompressed
// chunk payload. Stored in chunk records for local pre-encryption
// verification during playback.
func HashPlaintext(data []byte) Hash {
	return keyedHash(plainDomainKey, data)
}

// HashCiphertext computes the cipher-domain hash of an encrypted
// chunk payload (ciphertext including the authentication tag). This
// is the leaf value fed to the Merkle tree, so any post-encryption
// tampering changes the session root.
func HashCiphertext(data []byte) Hash {
	return keyedHash(cipherDomainKey, data)
}

// HashManifest computes the manifest-domain hash of an encoded
// manifest body. This is the value anchored on-chain and used as the
// idempotence key for anchor submission.
func HashManifest(data []byte) Hash {
	return keyedHash(manifestDomainKey, data)
}

// IsZero reports whether the hash is the all-zero value. The zero
// hash is never a valid digest output; it marks absent values (the
// root of a chunkless session, an unset manifest field).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns the hex-encoded representation of the hash. This is
// the canonical format used in manifests, logs, and CLI output.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalText implements encoding.TextMarshaler so hashes serialize
// as hex text in both CBOR and JSON.
func (h Hash) MarshalText() ([]byte, error) {
	text := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(text, h[:])
	return text, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing hash: %w", err)
	}
	if len(decoded) != 32 {
		return hash, fmt.Errorf("hash is %d bytes, want 32", len(decoded))
	}
	copy(hash[:], decoded)
	return hash, nil
}

// keyedHash computes BLAKE3 keyed hash with the given domain key.
func keyedHash(key domainKey, data []byte) Hash {
	// NewKeyed requires exactly 32 bytes, which domainKey guarantees.
	// The error is only returned for wrong key length, so this cannot
	// fail with our fixed-size type.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("merkle: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// hashNode concatenates two child hashes and computes the node-domain
// hash of the result. All internal tree nodes use this, on both the
// construction and verification sides.
func hashNode(left, right Hash) Hash {
	var combined [64]byte
	copy(combined[:32], left[:])
	copy(combined[32:], right[:])
	return keyedHash(nodeDomainKey, combined[:])
}
