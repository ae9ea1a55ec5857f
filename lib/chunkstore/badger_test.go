// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"bytes"
	"context"
	"testing"
)

func TestChunkKey_OrdersByIndex(t *testing.T) {
	id := testSessionID(20)
	indices := []uint64{0, 1, 2, 255, 256, 65535, 65536, 1<<32 - 1, 1 << 32}

	for i := 1; i < len(indices); i++ {
		prev := chunkKey(id, indices[i-1])
		curr := chunkKey(id, indices[i])
		if bytes.Compare(prev, curr) >= 0 {
			t.Errorf("key for index %d does not sort before key for index %d", indices[i-1], indices[i])
		}
	}
}

func TestChunkKey_SessionPrefix(t *testing.T) {
	sessionA := testSessionID(21)
	sessionB := testSessionID(22)
	prefixA := sessionKeyPrefix(sessionA)

	for _, index := range []uint64{0, 7, 1 << 40} {
		if !bytes.HasPrefix(chunkKey(sessionA, index), prefixA) {
			t.Errorf("chunkKey(A, %d) does not start with A's session prefix", index)
		}
		if bytes.HasPrefix(chunkKey(sessionB, index), prefixA) {
			t.Errorf("chunkKey(B, %d) matches A's session prefix", index)
		}
	}
}

// TestBadgerStore_Reopen verifies records survive a close and reopen
// of the same database directory.
func TestBadgerStore_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	id := testSessionID(23)

	store, err := OpenBadger(dir)
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	want := testRecord(id, 3)
	if err := store.Put(ctx, want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenBadger(dir)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, id, 3)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.CipherHash != want.CipherHash || !bytes.Equal(got.Ciphertext, want.Ciphertext) {
		t.Errorf("record changed across reopen")
	}
}
