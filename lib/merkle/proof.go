// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package merkle

import (
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

// Root computes the Merkle root over the given ordered leaf hashes.
// The tree is constructed bottom-up: adjacent pairs are concatenated
// and hashed in the node domain. If a level has an odd number of
// nodes, the last node is promoted to the next level without hashing
// (it is NOT duplicated; duplicating would mean two different leaf
// sequences produce the same root when one is a prefix of the other).
//
// Root over the full leaf sequence always equals the value an
// incremental [Builder] produces for the same sequence.
//
// Panics if leaves is empty. A chunkless session has no tree; callers
// represent its root as the zero hash and never reach this function.
func Root(leaves []Hash) Hash {
	if len(leaves) == 0 {
		panic("merkle.Root: empty leaf list")
	}
	if len(leaves) == 1 {
		return leaves[0]
	}

	// Pre-create a single keyed hasher and reuse it via Reset() for
	// each pair. This avoids allocating a new Hasher per pair, the
	// dominant allocation source for large trees.
	hasher, err := blake3.NewKeyed(nodeDomainKey[:])
	if err != nil {
		panic("merkle: BLAKE3 keyed hash initialization failed: " + err.Error())
	}

	var combined [64]byte
	hashPairWith := func(left, right Hash) Hash {
		copy(combined[:32], left[:])
		copy(combined[32:], right[:])
		hasher.Reset()
		hasher.Write(combined[:])
		var result Hash
		copy(result[:], hasher.Sum(nil))
		return result
	}

	// Work on a copy to avoid mutating the caller's slice.
	level := make([]Hash, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		nextLength := (len(level) + 1) / 2
		next := make([]Hash, nextLength)

		for i := 0; i+1 < len(level); i += 2 {
			next[i/2] = hashPairWith(level[i], level[i+1])
		}

		// Odd node: promote without hashing.
		if len(level)%2 == 1 {
			next[nextLength-1] = level[len(level)-1]
		}

		level = next
	}

	return level[0]
}

// ProofStep is one level of an inclusion proof: the sibling hash to
// combine with, and which side the sibling sits on.
type ProofStep struct {
	Sibling Hash `json:"sibling"`

	// Right is true when the sibling is the right operand of the
	// node hash (the proven node sits on the left).
	Right bool `json:"right"`
}

// Proof is an inclusion proof for a single leaf. Combined with the
// leaf hash, the path reconstructs the tree root without access to
// any other leaf. Levels where the proven node was promoted unpaired
// contribute no step, so paths for the trailing leaves of an
// odd-count tree are shorter than ceil(log2(n)).
type Proof struct {
	LeafIndex uint64      `json:"leaf_index"`
	LeafCount uint64      `json:"leaf_count"`
	Path      []ProofStep `json:"path"`
}

// BuildProof computes the inclusion proof for the leaf at index from
// the complete ordered leaf slice. The leaf sequence must be the same
// one the root was computed over: for a session, the ciphertext
// hashes in chunk index order.
func BuildProof(leaves []Hash, index int) (Proof, error) {
	if len(leaves) == 0 {
		return Proof{}, errors.New("merkle: cannot build proof over empty leaf list")
	}
	if index < 0 || index >= len(leaves) {
		return Proof{}, fmt.Errorf("merkle: leaf index %d out of range [0, %d)", index, len(leaves))
	}

	proof := Proof{
		LeafIndex: uint64(index),
		LeafCount: uint64(len(leaves)),
	}

	level := make([]Hash, len(leaves))
	copy(level, leaves)
	position := index

	for len(level) > 1 {
		promoted := len(level)%2 == 1 && position == len(level)-1
		switch {
		case promoted:
			// Unpaired node carried up unchanged: no step.
		case position%2 == 0:
			proof.Path = append(proof.Path, ProofStep{Sibling: level[position+1], Right: true})
		default:
			proof.Path = append(proof.Path, ProofStep{Sibling: level[position-1], Right: false})
		}

		nextLength := (len(level) + 1) / 2
		next := make([]Hash, nextLength)
		for i := 0; i+1 < len(level); i += 2 {
			next[i/2] = hashNode(level[i], level[i+1])
		}
		if len(level)%2 == 1 {
			next[nextLength-1] = level[len(level)-1]
		}

		level = next
		// Holds for promoted nodes too: with an odd level length,
		// (len-1)/2 is exactly the promoted slot in the next level.
		position /= 2
	}

	return proof, nil
}

// Verify reconstructs the root from the given leaf hash and the proof
// path and reports whether it matches root. A false result means the
// leaf, the proof, or the root does not belong to the others.
func (p Proof) Verify(leaf, root Hash) bool {
	current := leaf
	for _, step := range p.Path {
		if step.Right {
			current = hashNode(current, step.Sibling)
		} else {
			current = hashNode(step.Sibling, current)
		}
	}
	return current == root
}
