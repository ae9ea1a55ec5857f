// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package merkle

import (
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

// Builder errors. All of them indicate a sequencing bug in the caller
// (the pipeline feeds leaves strictly in index order and finalizes
// exactly once), never a recoverable runtime condition.
var (
	// ErrFinalized is returned by Append and Finalize after the
	// builder has produced its root.
	ErrFinalized = errors.New("merkle: builder already finalized")

	// ErrEmptyTree is returned by Finalize when no leaves were
	// appended. A chunkless session has no tree; callers represent
	// its root as the zero hash instead.
	ErrEmptyTree = errors.New("merkle: no leaves appended")

	// ErrLeafCount is returned by Finalize when the number of
	// appended leaves does not match the caller's expected count,
	// meaning a chunk was lost or double-fed somewhere upstream.
	ErrLeafCount = errors.New("merkle: leaf count mismatch")
)

// Builder incrementally computes a Merkle root over an ordered leaf
// stream. It holds at most one pending subtree root per tree level
// (the binary-counter construction), so memory use is O(log n) in the
// number of leaves rather than O(n).
//
// Append must be called with leaves strictly in index order. The
// builder cannot detect reordering (two swapped leaves produce a
// valid but different root), so ordering is the caller's invariant.
//
// Builder is not safe for concurrent use. Each session pipeline owns
// one builder and feeds it from a single goroutine.
type Builder struct {
	hasher *blake3.Hasher

	// subtrees[i] is the root of a completed subtree covering 2^i
	// leaves, or nil when no subtree of that size is pending. Lower
	// entries always cover later leaves than higher entries.
	subtrees []*Hash

	count     uint64
	finalized bool

	// Scratch buffer for concatenating two hashes.
	combined [64]byte
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	hasher, err := blake3.NewKeyed(nodeDomainKey[:])
	if err != nil {
		panic("merkle: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return &Builder{hasher: hasher}
}

// Append adds the next leaf hash to the tree. Works like incrementing
// a binary counter: a new 1-leaf subtree is merged with the pending
// subtree at each level until it lands in an empty slot, so each
// append performs amortized O(1) node hashes.
func (b *Builder) Append(leaf Hash) error {
	if b.finalized {
		return ErrFinalized
	}

	node := leaf
	for i := 0; ; i++ {
		if i == len(b.subtrees) {
			b.subtrees = append(b.subtrees, nil)
		}
		if b.subtrees[i] == nil {
			pending := node
			b.subtrees[i] = &pending
			break
		}
		// The pending subtree covers earlier leaves, so it is the
		// left operand.
		node = b.hashNodeReused(*b.subtrees[i], node)
		b.subtrees[i] = nil
	}

	b.count++
	return nil
}

// Count returns the number of leaves appended so far.
func (b *Builder) Count() uint64 {
	return b.count
}

// Finalize merges the pending subtrees into the root and marks the
// builder finished. expectedLeaves is the caller's independent count
// of leaves that should have been appended; a mismatch returns
// ErrLeafCount without finalizing, so the discrepancy is observable.
//
// The merge folds pending subtrees from the lowest level upward.
// Lower levels hold later leaves, so the accumulated hash is always
// the right operand; a subtree that never finds a partner is carried
// up unchanged. This produces the same root as [Root] over the full
// leaf sequence.
func (b *Builder) Finalize(expectedLeaves uint64) (Hash, error) {
	if b.finalized {
		return Hash{}, ErrFinalized
	}
	if b.count != expectedLeaves {
		return Hash{}, fmt.Errorf("%w: appended %d, expected %d", ErrLeafCount, b.count, expectedLeaves)
	}
	if b.count == 0 {
		return Hash{}, ErrEmptyTree
	}
	b.finalized = true

	var root Hash
	merged := false
	for _, subtree := range b.subtrees {
		if subtree == nil {
			continue
		}
		if !merged {
			root = *subtree
			merged = true
			continue
		}
		root = b.hashNodeReused(*subtree, root)
	}
	return root, nil
}

// hashNodeReused computes the node-domain hash of left||right using
// the builder's pre-allocated hasher. Reset() preserves the key and
// returns the hasher to its initial keyed state, avoiding a Hasher
// allocation per node.
func (b *Builder) hashNodeReused(left, right Hash) Hash {
	copy(b.combined[:32], left[:])
	copy(b.combined[32:], right[:])
	b.hasher.Reset()
	b.hasher.Write(b.combined[:])
	var result Hash
	copy(result[:], b.hasher.Sum(nil))
	return result
}
