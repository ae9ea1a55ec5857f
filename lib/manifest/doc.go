// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest defines the sealed-session manifest, its hash and
// signature, the anchor record that tracks its chain submission, and
// the durable store that persists manifests as sharded CBOR files.
//
// A manifest is created exactly once, when a session seals, and is
// immutable afterward. Its hash is a keyed BLAKE3 digest of the
// deterministic CBOR encoding with the hash and signature fields
// zeroed, so any two parties computing it over the same logical
// manifest get the same bytes and the same digest. The hash is what
// gets anchored on chain; the optional Ed25519 signature binds the
// manifest to the node identity that sealed it.
//
// The session id type lives here rather than in lib/session because
// every layer below the orchestrator (chunk store, anchor client,
// verifier) handles ids without needing the orchestrator itself;
// lib/session aliases it.
package manifest
