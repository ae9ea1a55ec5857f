// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

// Package seal implements per-chunk authenticated encryption for
// session capture data.
//
// A [KeySet] holds the node's master secret in guarded memory and
// derives one 256-bit key per session via HKDF-SHA256, cached in a
// guarded buffer for the session's lifetime and zeroed when the
// session terminates. The master secret never encrypts data directly
// and session keys never leave the process.
//
// Chunks are encrypted with XChaCha20-Poly1305. The 24-byte extended
// nonce is not random: it is the session's 16-byte identifier
// followed by the big-endian chunk index, which makes nonce reuse
// under one session key structurally impossible: there is no counter
// state to lose and no RNG to trust. Retried encryption of the same
// chunk reproduces the same nonce instead of a colliding fresh one.
//
// The additional authenticated data binds each ciphertext to the blob
// format version, the session, and the chunk index. A ciphertext
// moved to a different index or session fails authentication even
// though the key would otherwise accept it.
package seal
