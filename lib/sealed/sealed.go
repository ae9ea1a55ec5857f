// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed protects the Capstan master secret at rest with age
// encryption. It wraps filippo.io/age for the operations the key
// lifecycle needs: generate a node identity, seal the master secret
// to one or more recipients, and unseal it at service startup.
//
// Sealed payloads are base64 text, so a sealed key file survives
// copy-paste, configuration management, and backup tooling that
// mangles binary. Identities and unsealed payloads live in
// secret.Buffer values: mmap memory outside the Go heap, locked
// against swap, excluded from core dumps, zeroed on close.
//
// Sealing to multiple recipients covers operational recovery: the
// usual pair is the node's own identity plus an operator escrow key,
// so losing the node identity does not orphan every session key
// derived from the master secret.
package sealed

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"

	"github.com/capstan-io/capstan/lib/secret"
)

// Keypair holds an age x25519 identity. The private half lives in a
// secret.Buffer; the public half is a plain age1... string, safe to
// publish and to list as a seal recipient.
//
// The caller must Close the keypair when no longer needed.
type Keypair struct {
	// PrivateKey is the identity in AGE-SECRET-KEY-1... form, held in
	// mmap memory outside the Go heap. Never log it, never pass it on
	// a command line.
	PrivateKey *secret.Buffer

	// PublicKey is the matching recipient in age1... form.
	PublicKey string
}

// Close zeroes and unmaps the private key memory. Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey == nil {
		return nil
	}
	return k.PrivateKey.Close()
}

// GenerateKeypair generates a new age x25519 identity, moving the
// private key into guarded memory immediately.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}

	// The identity's string form is briefly on the heap; the guarded
	// buffer is the durable copy and NewFromBytes zeros the byte
	// slice intermediate.
	guarded, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}

	return &Keypair{
		PrivateKey: guarded,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// Seal encrypts plaintext to one or more age recipients and returns
// the ciphertext as base64 text. At least one recipient is required.
func Seal(plaintext []byte, recipientKeys []string) (string, error) {
	if len(plaintext) == 0 {
		return "", fmt.Errorf("refusing to seal an empty payload")
	}
	if len(recipientKeys) == 0 {
		return "", fmt.Errorf("sealing requires at least one recipient")
	}

	recipients := make([]age.Recipient, len(recipientKeys))
	for i, key := range recipientKeys {
		parsed, err := age.ParseX25519Recipient(key)
		if err != nil {
			return "", fmt.Errorf("recipient key %q: %w", key, err)
		}
		recipients[i] = parsed
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return "", fmt.Errorf("sealing payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalizing seal: %w", err)
	}

	return base64.StdEncoding.EncodeToString(ciphertext.Bytes()), nil
}

// Unseal decrypts a base64 sealed payload with the given identity and
// returns the plaintext in a guarded buffer. The identity is borrowed,
// not closed.
func Unseal(sealedPayload string, identity *secret.Buffer) (*secret.Buffer, error) {
	parsed, err := age.ParseX25519Identity(identity.String())
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sealedPayload))
	if err != nil {
		return nil, fmt.Errorf("decoding sealed payload: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(raw), parsed)
	if err != nil {
		return nil, fmt.Errorf("unsealing: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading unsealed payload: %w", err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("sealed payload was empty")
	}

	out, err := secret.NewFromBytes(plaintext)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("protecting unsealed payload: %w", err)
	}
	return out, nil
}

// ParsePublicKey validates an age public key string before it is used
// as a seal recipient.
func ParsePublicKey(publicKey string) error {
	if _, err := age.ParseX25519Recipient(publicKey); err != nil {
		return fmt.Errorf("invalid age public key: %w", err)
	}
	return nil
}

// ParseIdentity validates an age identity held in a guarded buffer.
func ParseIdentity(identity *secret.Buffer) error {
	if _, err := age.ParseX25519Identity(identity.String()); err != nil {
		return fmt.Errorf("invalid age identity: %w", err)
	}
	return nil
}

// SealToFile seals plaintext and writes the base64 payload to path
// with 0600 permissions. This is how the CLI persists the sealed
// master key.
func SealToFile(path string, plaintext []byte, recipientKeys []string) error {
	sealedPayload, err := Seal(plaintext, recipientKeys)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(sealedPayload+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing sealed key file %s: %w", path, err)
	}
	return nil
}

// UnsealFile reads a sealed key file and unseals it with the given
// identity. The service calls this once at startup to recover the
// master secret.
func UnsealFile(path string, identity *secret.Buffer) (*secret.Buffer, error) {
	sealedPayload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sealed key file %s: %w", path, err)
	}
	unsealed, err := Unseal(string(sealedPayload), identity)
	if err != nil {
		return nil, fmt.Errorf("unsealing %s: %w", path, err)
	}
	return unsealed, nil
}

// LoadIdentity reads an age identity from a file (or stdin with "-")
// into a guarded buffer and validates it.
func LoadIdentity(path string) (*secret.Buffer, error) {
	identity, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity: %w", err)
	}
	if err := ParseIdentity(identity); err != nil {
		identity.Close()
		return nil, err
	}
	return identity, nil
}
