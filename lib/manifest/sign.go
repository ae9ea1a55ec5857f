// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
)

const (
	signingKeyFile    = "manifest-signing-key"
	signingKeyPubFile = "manifest-signing-key.pub"
)

// Signer signs manifest hashes with the node identity key. The
// signature attests which node sealed the session; the hash itself is
// what the chain anchors.
type Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// NewSigner wraps an Ed25519 private key.
func NewSigner(private ed25519.PrivateKey) (*Signer, error) {
	if len(private) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key has %d bytes, want %d", len(private), ed25519.PrivateKeySize)
	}
	return &Signer{
		private: private,
		public:  private.Public().(ed25519.PublicKey),
	}, nil
}

// Public returns the signer's public key.
func (s *Signer) Public() ed25519.PublicKey {
	return s.public
}

// Sign fills the manifest's Signature and PublicKey fields. The
// manifest must already carry a valid hash; Sign refuses to endorse a
// manifest whose hash does not match its content.
func (s *Signer) Sign(m *Manifest) error {
	if m.Hash.IsZero() {
		return fmt.Errorf("signing manifest for session %s: hash not computed", m.SessionID)
	}
	if err := m.VerifyHash(); err != nil {
		return fmt.Errorf("signing refused: %w", err)
	}
	m.Signature = ed25519.Sign(s.private, m.Hash[:])
	m.PublicKey = append([]byte(nil), s.public...)
	return nil
}

// Verify checks a signed manifest: the hash must match the content
// and the signature must verify against the embedded public key.
// Which keys are trusted is the caller's policy; Verify only proves
// the manifest is intact and was signed by the holder of PublicKey.
func Verify(m *Manifest) error {
	if err := m.VerifyHash(); err != nil {
		return err
	}
	if len(m.Signature) == 0 {
		return fmt.Errorf("manifest for session %s is unsigned", m.SessionID)
	}
	if len(m.PublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("manifest for session %s has a %d-byte public key, want %d",
			m.SessionID, len(m.PublicKey), ed25519.PublicKeySize)
	}
	if !ed25519.Verify(ed25519.PublicKey(m.PublicKey), m.Hash[:], m.Signature) {
		return fmt.Errorf("manifest signature for session %s does not verify", m.SessionID)
	}
	return nil
}

// GenerateKeypair creates a new Ed25519 keypair for manifest signing.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating Ed25519 keypair: %w", err)
	}
	return public, private, nil
}

// SaveKeypair writes the keypair to the state directory. The private
// key file has 0600 permissions; the public key file has 0644.
func SaveKeypair(stateDir string, public ed25519.PublicKey, private ed25519.PrivateKey) error {
	privatePath := filepath.Join(stateDir, signingKeyFile)
	if err := os.WriteFile(privatePath, private, 0o600); err != nil {
		return fmt.Errorf("writing signing key: %w", err)
	}

	publicPath := filepath.Join(stateDir, signingKeyPubFile)
	if err := os.WriteFile(publicPath, public, 0o644); err != nil {
		return fmt.Errorf("writing signing public key: %w", err)
	}

	return nil
}

// LoadKeypair loads the keypair from the state directory. Returns an
// error if either file is missing or has an unexpected size.
func LoadKeypair(stateDir string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	privateBytes, err := os.ReadFile(filepath.Join(stateDir, signingKeyFile))
	if err != nil {
		return nil, nil, fmt.Errorf("reading signing key: %w", err)
	}
	if len(privateBytes) != ed25519.PrivateKeySize {
		return nil, nil, fmt.Errorf("signing key has %d bytes, want %d", len(privateBytes), ed25519.PrivateKeySize)
	}

	publicBytes, err := os.ReadFile(filepath.Join(stateDir, signingKeyPubFile))
	if err != nil {
		return nil, nil, fmt.Errorf("reading signing public key: %w", err)
	}
	if len(publicBytes) != ed25519.PublicKeySize {
		return nil, nil, fmt.Errorf("signing public key has %d bytes, want %d", len(publicBytes), ed25519.PublicKeySize)
	}

	return ed25519.PublicKey(publicBytes), ed25519.PrivateKey(privateBytes), nil
}

// LoadOrGenerateKeypair loads an existing keypair from stateDir, or
// generates and saves a new one if none exists. Returns the keypair
// and whether it was newly generated.
func LoadOrGenerateKeypair(stateDir string) (ed25519.PublicKey, ed25519.PrivateKey, bool, error) {
	public, private, err := LoadKeypair(stateDir)
	if err == nil {
		return public, private, false, nil
	}

	// Missing files mean first boot; anything else (bad size, bad
	// permissions) is a real error the operator must see.
	if _, statErr := os.Stat(filepath.Join(stateDir, signingKeyFile)); statErr == nil {
		return nil, nil, false, err
	}

	public, private, err = GenerateKeypair()
	if err != nil {
		return nil, nil, false, err
	}
	if err := SaveKeypair(stateDir, public, private); err != nil {
		return nil, nil, false, err
	}
	return public, private, true, nil
}
