// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

// Package merkle provides Capstan's content hashing and Merkle tree
// construction.
//
// All hashes are 32-byte BLAKE3 keyed digests. Keyed hashing with
// fixed domain keys separates the hash domains (plaintext chunk,
// ciphertext chunk, tree node, manifest) so that identical input
// bytes never produce colliding hashes across contexts.
//
// The Merkle tree over a session's ciphertext hashes is binary and
// strictly ordered: leaves are ciphertext hashes in chunk index
// order, internal nodes are the node-domain hash of left||right, and
// an unpaired trailing node is promoted to the next level unchanged
// rather than paired with a copy of itself. Duplicate-leaf padding is
// deliberately avoided: with duplication, a sequence and the same
// sequence with its last leaf repeated produce the same root, which
// makes inclusion proofs ambiguous.
//
// Two construction paths produce identical roots:
//
//   - [Builder] consumes leaves one at a time and holds only O(log n)
//     pending subtree roots. The recording pipeline uses it so a
//     session's root can be computed without keeping every leaf in
//     memory.
//   - [Root] computes the root from a complete ordered leaf slice.
//     Verifiers use it to recompute a manifest's root from stored
//     chunk records.
//
// [BuildProof] produces the inclusion proof for one leaf from the
// complete ordered leaf slice; [Proof.Verify] reconstructs the root
// from a single leaf hash plus the proof path.
package merkle
