// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"bytes"
	"testing"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	_, private, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	signer, err := NewSigner(private)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return signer
}

func TestSignAndVerify(t *testing.T) {
	m, err := Build(testDraft())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	signer := testSigner(t)
	if err := signer.Sign(m); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(m.Signature) == 0 {
		t.Fatal("Sign left Signature empty")
	}
	if !bytes.Equal(m.PublicKey, signer.Public()) {
		t.Fatal("Sign embedded the wrong public key")
	}

	if err := Verify(m); err != nil {
		t.Errorf("Verify on a freshly signed manifest: %v", err)
	}
}

func TestSign_RefusesZeroHash(t *testing.T) {
	m, err := Build(testDraft())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	m.Hash = [32]byte{}

	if err := testSigner(t).Sign(m); err == nil {
		t.Error("Sign accepted a manifest with no hash")
	}
}

func TestSign_RefusesCorruptedManifest(t *testing.T) {
	m, err := Build(testDraft())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	m.ChunkCount++ // hash no longer matches content

	if err := testSigner(t).Sign(m); err == nil {
		t.Error("Sign endorsed a manifest whose hash does not match")
	}
}

func TestVerify_Unsigned(t *testing.T) {
	m, err := Build(testDraft())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := Verify(m); err == nil {
		t.Error("Verify accepted an unsigned manifest")
	}
}

func TestVerify_TamperedContent(t *testing.T) {
	m, err := Build(testDraft())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := testSigner(t).Sign(m); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	m.Owner = "acct:intruder"
	if err := Verify(m); err == nil {
		t.Error("Verify accepted a manifest altered after signing")
	}
}

func TestVerify_TamperedSignature(t *testing.T) {
	m, err := Build(testDraft())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := testSigner(t).Sign(m); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	m.Signature[0] ^= 0x01
	if err := Verify(m); err == nil {
		t.Error("Verify accepted a flipped signature bit")
	}
}

func TestVerify_WrongKey(t *testing.T) {
	m, err := Build(testDraft())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := testSigner(t).Sign(m); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	// Swap in a different node's key: the signature no longer matches.
	other := testSigner(t)
	m.PublicKey = append([]byte(nil), other.Public()...)
	if err := Verify(m); err == nil {
		t.Error("Verify accepted a signature against the wrong key")
	}
}

func TestNewSigner_RejectsBadKeySize(t *testing.T) {
	if _, err := NewSigner(make([]byte, 17)); err == nil {
		t.Error("NewSigner accepted a 17-byte key")
	}
}

func TestKeypair_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	public, private, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if err := SaveKeypair(dir, public, private); err != nil {
		t.Fatalf("SaveKeypair: %v", err)
	}

	loadedPublic, loadedPrivate, err := LoadKeypair(dir)
	if err != nil {
		t.Fatalf("LoadKeypair: %v", err)
	}
	if !bytes.Equal(loadedPublic, public) || !bytes.Equal(loadedPrivate, private) {
		t.Error("loaded keypair differs from saved keypair")
	}
}

func TestLoadOrGenerateKeypair(t *testing.T) {
	dir := t.TempDir()

	public, _, generated, err := LoadOrGenerateKeypair(dir)
	if err != nil {
		t.Fatalf("first LoadOrGenerateKeypair: %v", err)
	}
	if !generated {
		t.Error("first call should generate")
	}

	publicAgain, _, generatedAgain, err := LoadOrGenerateKeypair(dir)
	if err != nil {
		t.Fatalf("second LoadOrGenerateKeypair: %v", err)
	}
	if generatedAgain {
		t.Error("second call should load, not generate")
	}
	if !bytes.Equal(public, publicAgain) {
		t.Error("second call returned a different key")
	}
}
