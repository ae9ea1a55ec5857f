// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package seal

import (
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/capstan-io/capstan/lib/secret"
)

// KeySize is the size in bytes of all symmetric keys: the node master
// secret and every derived session key.
const KeySize = 32

// hkdfInfoSession is the "info" parameter for session key derivation,
// providing domain separation from any other key derived from the
// same master secret. Changing it invalidates every existing session
// ciphertext.
var hkdfInfoSession = []byte("capstan.session.v1")

// KeySet holds the master secret in guarded memory and derives and
// caches per-session encryption keys. Safe for concurrent use: the
// orchestrator derives keys at session creation while pipelines for
// other sessions encrypt in parallel.
//
// Close zeroes the master secret and every cached session key. After
// Close, all methods fail.
type KeySet struct {
	mu          sync.Mutex
	masterKey   *secret.Buffer
	sessionKeys map[[16]byte]*secret.Buffer
	closed      bool
}

// NewKeySet creates a key set from a master secret. The buffer is
// owned by the KeySet and will be closed with it; the caller must not
// use masterKey after passing it in.
//
// Returns an error if masterKey is not exactly KeySize (32) bytes.
func NewKeySet(masterKey *secret.Buffer) (*KeySet, error) {
	if masterKey.Len() != KeySize {
		return nil, fmt.Errorf("master secret must be %d bytes, got %d", KeySize, masterKey.Len())
	}
	return &KeySet{
		masterKey:   masterKey,
		sessionKeys: make(map[[16]byte]*secret.Buffer),
	}, nil
}

// SessionKey returns the encryption key for a session, deriving and
// caching it on first use. The returned buffer is owned by the KeySet;
// callers borrow it for Encrypt/Decrypt calls and must not close it.
// DropSession releases it.
func (k *KeySet) SessionKey(sessionID [16]byte) (*secret.Buffer, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil, fmt.Errorf("key set is closed")
	}
	if key, ok := k.sessionKeys[sessionID]; ok {
		return key, nil
	}

	info := make([]byte, len(hkdfInfoSession)+len(sessionID))
	copy(info, hkdfInfoSession)
	copy(info[len(hkdfInfoSession):], sessionID[:])

	key, err := deriveKey(k.masterKey.Bytes(), info)
	if err != nil {
		return nil, fmt.Errorf("deriving session key: %w", err)
	}
	k.sessionKeys[sessionID] = key
	return key, nil
}

// CachedSessions reports how many session keys are currently cached.
// Operational surface: the count should track the number of sessions
// between creation and termination, so a persistently growing value
// means a termination path is not dropping its key.
func (k *KeySet) CachedSessions() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.sessionKeys)
}

// DropSession zeroes and releases the cached key for a session. No-op
// when no key is cached. Called on session termination (sealed,
// failed, expired, or aborted) so key material never outlives the
// session that needs it.
func (k *KeySet) DropSession(sessionID [16]byte) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if key, ok := k.sessionKeys[sessionID]; ok {
		_ = key.Close()
		delete(k.sessionKeys, sessionID)
	}
}

// Close zeroes the master secret and all cached session keys.
// Idempotent.
func (k *KeySet) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil
	}
	k.closed = true

	for id, key := range k.sessionKeys {
		_ = key.Close()
		delete(k.sessionKeys, id)
	}
	return k.masterKey.Close()
}

// deriveKey derives a 32-byte key from inputKeyMaterial via
// HKDF-SHA256 with the given info parameter. The salt is nil: the
// master secret is already uniformly random key material, so HKDF's
// extract phase with nil salt (HMAC-SHA256 with zero key) is
// appropriate per RFC 5869.
func deriveKey(inputKeyMaterial []byte, info []byte) (*secret.Buffer, error) {
	reader := hkdf.New(sha256.New, inputKeyMaterial, nil, info)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	// NewFromBytes copies into mmap and zeros the heap slice.
	return secret.NewFromBytes(derived)
}
