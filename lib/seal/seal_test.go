// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package seal

import (
	"bytes"
	"testing"

	"github.com/capstan-io/capstan/lib/merkle"
	"github.com/capstan-io/capstan/lib/secret"
)

// testMasterSecret creates a deterministic 32-byte master secret so
// tests are reproducible.
func testMasterSecret(t *testing.T) *secret.Buffer {
	t.Helper()
	key := [KeySize]byte{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
		0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18,
		0x19, 0x1a, 0x1b, 0x1c, 0x1d, 0x1e, 0x1f, 0x20,
	}
	buffer, err := secret.NewFromBytes(key[:])
	if err != nil {
		t.Fatal(err)
	}
	return buffer
}

// testKeySet builds a KeySet over the deterministic master secret and
// closes it with the test.
func testKeySet(t *testing.T) *KeySet {
	t.Helper()
	keySet, err := NewKeySet(testMasterSecret(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { keySet.Close() })
	return keySet
}

var (
	testSessionA = [16]byte{0xaa, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f}
	testSessionB = [16]byte{0xbb, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f}
)

func TestNewKeySetRejectsWrongSize(t *testing.T) {
	short, err := secret.NewFromBytes([]byte("too short"))
	if err != nil {
		t.Fatal(err)
	}
	defer short.Close()

	if _, err := NewKeySet(short); err == nil {
		t.Error("NewKeySet accepted a non-32-byte master secret")
	}
}

func TestSessionKeyDeterministic(t *testing.T) {
	keySet := testKeySet(t)

	key1, err := keySet.SessionKey(testSessionA)
	if err != nil {
		t.Fatal(err)
	}
	key2, err := keySet.SessionKey(testSessionA)
	if err != nil {
		t.Fatal(err)
	}

	// Second fetch hits the cache and must be the same key.
	if !key1.Equal(key2) {
		t.Error("same session id produced different keys")
	}
}

func TestSessionKeyVariesWithSession(t *testing.T) {
	keySet := testKeySet(t)

	keyA, err := keySet.SessionKey(testSessionA)
	if err != nil {
		t.Fatal(err)
	}
	keyB, err := keySet.SessionKey(testSessionB)
	if err != nil {
		t.Fatal(err)
	}

	if keyA.Equal(keyB) {
		t.Error("different session ids produced the same key")
	}
}

func TestSessionKeyDiffersFromMaster(t *testing.T) {
	keySet := testKeySet(t)

	key, err := keySet.SessionKey(testSessionA)
	if err != nil {
		t.Fatal(err)
	}

	master := testMasterSecret(t)
	defer master.Close()
	if key.Equal(master) {
		t.Error("derived session key equals the master secret")
	}
}

func TestDropSessionRemovesCachedKey(t *testing.T) {
	keySet := testKeySet(t)

	if _, err := keySet.SessionKey(testSessionA); err != nil {
		t.Fatal(err)
	}
	keySet.DropSession(testSessionA)

	// Dropping again is a no-op.
	keySet.DropSession(testSessionA)

	// A fresh derivation still works and produces the same key value
	// (derivation is deterministic; only the cached buffer was
	// destroyed).
	key, err := keySet.SessionKey(testSessionA)
	if err != nil {
		t.Fatalf("SessionKey after DropSession failed: %v", err)
	}
	if key.Len() != KeySize {
		t.Errorf("re-derived key is %d bytes, want %d", key.Len(), KeySize)
	}
}

func TestKeySetClosed(t *testing.T) {
	keySet, err := NewKeySet(testMasterSecret(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := keySet.Close(); err != nil {
		t.Fatal(err)
	}
	if err := keySet.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if _, err := keySet.SessionKey(testSessionA); err == nil {
		t.Error("SessionKey on a closed key set succeeded")
	}
}

func TestChunkNonceLayout(t *testing.T) {
	nonce := ChunkNonce(testSessionA, 0x0102030405060708)

	if !bytes.Equal(nonce[:16], testSessionA[:]) {
		t.Error("nonce does not start with the session id")
	}
	want := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	if !bytes.Equal(nonce[16:], want) {
		t.Errorf("nonce index bytes = %x, want %x", nonce[16:], want)
	}
}

func TestChunkNonceUnique(t *testing.T) {
	seen := make(map[[NonceSize]byte]bool)
	for index := uint64(0); index < 100; index++ {
		nonce := ChunkNonce(testSessionA, index)
		if seen[nonce] {
			t.Fatalf("nonce for index %d collides with an earlier index", index)
		}
		seen[nonce] = true
	}
	if seen[ChunkNonce(testSessionB, 0)] {
		t.Error("nonces collide across sessions")
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	keySet := testKeySet(t)
	key, err := keySet.SessionKey(testSessionA)
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte("compressed chunk payload bytes")
	encrypted, err := EncryptChunk(key, testSessionA, 7, payload)
	if err != nil {
		t.Fatalf("EncryptChunk failed: %v", err)
	}

	if len(encrypted.Ciphertext) != len(payload) {
		t.Errorf("ciphertext length = %d, want %d", len(encrypted.Ciphertext), len(payload))
	}
	if bytes.Contains(encrypted.Ciphertext, payload) {
		t.Error("ciphertext contains the plaintext")
	}
	if encrypted.Nonce != ChunkNonce(testSessionA, 7) {
		t.Error("encrypted nonce is not the deterministic chunk nonce")
	}

	decrypted, err := DecryptChunk(key, testSessionA, 7, encrypted.Ciphertext, encrypted.Tag)
	if err != nil {
		t.Fatalf("DecryptChunk failed: %v", err)
	}
	if !bytes.Equal(decrypted, payload) {
		t.Error("roundtrip did not reproduce the payload")
	}
}

func TestEncryptDeterministicPerChunk(t *testing.T) {
	// Retried encryption of the same chunk must reproduce identical
	// output (nonce, ciphertext, and leaf hash all equal), so a
	// retry can never create a divergent artifact.
	keySet := testKeySet(t)
	key, err := keySet.SessionKey(testSessionA)
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte("the same chunk, encrypted twice")
	first, err := EncryptChunk(key, testSessionA, 3, payload)
	if err != nil {
		t.Fatal(err)
	}
	second, err := EncryptChunk(key, testSessionA, 3, payload)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(first.Ciphertext, second.Ciphertext) || first.Tag != second.Tag {
		t.Error("re-encrypting the same chunk produced different output")
	}
	if first.CipherHash != second.CipherHash {
		t.Error("re-encrypting the same chunk produced a different leaf hash")
	}
}

func TestCipherHashCoversTag(t *testing.T) {
	keySet := testKeySet(t)
	key, err := keySet.SessionKey(testSessionA)
	if err != nil {
		t.Fatal(err)
	}

	encrypted, err := EncryptChunk(key, testSessionA, 0, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}

	sealed := append(append([]byte(nil), encrypted.Ciphertext...), encrypted.Tag[:]...)
	if merkle.HashCiphertext(sealed) != encrypted.CipherHash {
		t.Error("CipherHash is not the cipher-domain hash over ciphertext||tag")
	}
	if merkle.HashCiphertext(encrypted.Ciphertext) == encrypted.CipherHash {
		t.Error("CipherHash ignores the tag")
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	keySet := testKeySet(t)
	key, err := keySet.SessionKey(testSessionA)
	if err != nil {
		t.Fatal(err)
	}

	encrypted, err := EncryptChunk(key, testSessionA, 0, []byte("authentic payload"))
	if err != nil {
		t.Fatal(err)
	}

	// Flip a single bit.
	tampered := append([]byte(nil), encrypted.Ciphertext...)
	tampered[0] ^= 0x01

	if _, err := DecryptChunk(key, testSessionA, 0, tampered, encrypted.Tag); err == nil {
		t.Error("decryption accepted a tampered ciphertext")
	}
}

func TestDecryptRejectsTamperedTag(t *testing.T) {
	keySet := testKeySet(t)
	key, err := keySet.SessionKey(testSessionA)
	if err != nil {
		t.Fatal(err)
	}

	encrypted, err := EncryptChunk(key, testSessionA, 0, []byte("authentic payload"))
	if err != nil {
		t.Fatal(err)
	}

	tag := encrypted.Tag
	tag[TagSize-1] ^= 0x80

	if _, err := DecryptChunk(key, testSessionA, 0, encrypted.Ciphertext, tag); err == nil {
		t.Error("decryption accepted a tampered tag")
	}
}

func TestDecryptRejectsWrongIndex(t *testing.T) {
	// A ciphertext replayed at a different index must fail: the index
	// is bound through both the nonce and the AAD.
	keySet := testKeySet(t)
	key, err := keySet.SessionKey(testSessionA)
	if err != nil {
		t.Fatal(err)
	}

	encrypted, err := EncryptChunk(key, testSessionA, 4, []byte("chunk four"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := DecryptChunk(key, testSessionA, 5, encrypted.Ciphertext, encrypted.Tag); err == nil {
		t.Error("decryption accepted a ciphertext replayed at another index")
	}
}

func TestDecryptRejectsWrongSession(t *testing.T) {
	keySet := testKeySet(t)
	keyA, err := keySet.SessionKey(testSessionA)
	if err != nil {
		t.Fatal(err)
	}
	keyB, err := keySet.SessionKey(testSessionB)
	if err != nil {
		t.Fatal(err)
	}

	encrypted, err := EncryptChunk(keyA, testSessionA, 0, []byte("session A chunk"))
	if err != nil {
		t.Fatal(err)
	}

	// Wrong key entirely.
	if _, err := DecryptChunk(keyB, testSessionB, 0, encrypted.Ciphertext, encrypted.Tag); err == nil {
		t.Error("decryption with another session's key succeeded")
	}
	// Right key, wrong claimed session (AAD mismatch).
	if _, err := DecryptChunk(keyA, testSessionB, 0, encrypted.Ciphertext, encrypted.Tag); err == nil {
		t.Error("decryption with a mismatched session id succeeded")
	}
}

func TestEncryptEmptyPayload(t *testing.T) {
	// An empty payload never occurs in the pipeline (empty windows
	// are not sealed), but the primitive itself should handle it.
	keySet := testKeySet(t)
	key, err := keySet.SessionKey(testSessionA)
	if err != nil {
		t.Fatal(err)
	}

	encrypted, err := EncryptChunk(key, testSessionA, 0, nil)
	if err != nil {
		t.Fatalf("EncryptChunk(nil) failed: %v", err)
	}
	if len(encrypted.Ciphertext) != 0 {
		t.Errorf("ciphertext of empty payload has %d bytes", len(encrypted.Ciphertext))
	}

	decrypted, err := DecryptChunk(key, testSessionA, 0, encrypted.Ciphertext, encrypted.Tag)
	if err != nil {
		t.Fatalf("DecryptChunk failed: %v", err)
	}
	if len(decrypted) != 0 {
		t.Errorf("decrypted empty payload has %d bytes", len(decrypted))
	}
}
