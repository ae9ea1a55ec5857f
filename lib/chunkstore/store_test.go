// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/capstan-io/capstan/lib/chunker"
	"github.com/capstan-io/capstan/lib/merkle"
	"github.com/capstan-io/capstan/lib/testutil"
)

// testSessionID builds a distinct session id from a seed byte.
func testSessionID(seed byte) [16]byte {
	var id [16]byte
	for i := range id {
		id[i] = seed + byte(i)
	}
	return id
}

// testRecord fabricates a record whose fields all vary with the index,
// so a mixed-up read shows up as a field mismatch rather than passing
// by coincidence.
func testRecord(sessionID [16]byte, index uint64) *Record {
	ciphertext := testutil.Payload(int64(index)+1, 512+int(index%64))
	rec := &Record{
		SessionID:      sessionID,
		Index:          index,
		PlaintextSize:  int64(len(ciphertext)) * 3,
		CompressedSize: int64(len(ciphertext)),
		Codec:          chunker.CodecZstd,
		Ciphertext:     ciphertext,
		PlainHash:      merkle.HashPlaintext(ciphertext),
		CipherHash:     merkle.HashCiphertext(ciphertext),
	}
	copy(rec.Nonce[:], sessionID[:])
	rec.Tag[0] = byte(index + 1)
	return rec
}

// eachBackend runs fn as a subtest against every Store backend.
func eachBackend(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Helper()
	backends := map[string]func(t *testing.T) Store{
		"badger": func(t *testing.T) Store {
			store, err := OpenBadger(t.TempDir())
			if err != nil {
				t.Fatalf("OpenBadger: %v", err)
			}
			return store
		},
		"dir": func(t *testing.T) Store {
			store, err := OpenDir(t.TempDir())
			if err != nil {
				t.Fatalf("OpenDir: %v", err)
			}
			return store
		},
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			t.Cleanup(func() {
				if err := store.Close(); err != nil {
					t.Errorf("Close: %v", err)
				}
			})
			fn(t, store)
		})
	}
}

func TestStore_RoundTrip(t *testing.T) {
	eachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		id := testSessionID(1)

		var want []*Record
		for index := uint64(0); index < 5; index++ {
			rec := testRecord(id, index)
			if err := store.Put(ctx, rec); err != nil {
				t.Fatalf("Put(%d): %v", index, err)
			}
			want = append(want, rec)
		}

		for index := uint64(0); index < 5; index++ {
			got, err := store.Get(ctx, id, index)
			if err != nil {
				t.Fatalf("Get(%d): %v", index, err)
			}
			if !reflect.DeepEqual(got, want[index]) {
				t.Errorf("Get(%d) mismatch:\n got  %+v\n want %+v", index, got, want[index])
			}
		}
	})
}

func TestStore_GetMissing(t *testing.T) {
	eachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		id := testSessionID(2)

		// Unknown session.
		if _, err := store.Get(ctx, id, 0); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get on empty store: got %v, want ErrNotFound", err)
		}

		// Known session, unknown index.
		if err := store.Put(ctx, testRecord(id, 0)); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if _, err := store.Get(ctx, id, 1); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get past last index: got %v, want ErrNotFound", err)
		}
	})
}

func TestStore_Overwrite(t *testing.T) {
	eachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		id := testSessionID(3)

		first := testRecord(id, 0)
		if err := store.Put(ctx, first); err != nil {
			t.Fatalf("first Put: %v", err)
		}

		second := testRecord(id, 0)
		second.Ciphertext = testutil.Payload(99, 256)
		second.CipherHash = merkle.HashCiphertext(second.Ciphertext)
		if err := store.Put(ctx, second); err != nil {
			t.Fatalf("second Put: %v", err)
		}

		got, err := store.Get(ctx, id, 0)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !reflect.DeepEqual(got, second) {
			t.Errorf("Get after overwrite returned the first record")
		}

		count, err := store.Count(ctx, id)
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if count != 1 {
			t.Errorf("Count after overwrite: got %d, want 1", count)
		}
	})
}

func TestStore_Count(t *testing.T) {
	eachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		sessionA := testSessionID(4)
		sessionB := testSessionID(5)

		count, err := store.Count(ctx, sessionA)
		if err != nil {
			t.Fatalf("Count on empty store: %v", err)
		}
		if count != 0 {
			t.Errorf("Count on empty store: got %d, want 0", count)
		}

		// Interleave writes so per-session isolation is exercised.
		for index := uint64(0); index < 4; index++ {
			if err := store.Put(ctx, testRecord(sessionA, index)); err != nil {
				t.Fatalf("Put A/%d: %v", index, err)
			}
			if index < 2 {
				if err := store.Put(ctx, testRecord(sessionB, index)); err != nil {
					t.Fatalf("Put B/%d: %v", index, err)
				}
			}
		}

		if count, _ := store.Count(ctx, sessionA); count != 4 {
			t.Errorf("Count(A): got %d, want 4", count)
		}
		if count, _ := store.Count(ctx, sessionB); count != 2 {
			t.Errorf("Count(B): got %d, want 2", count)
		}
	})
}

func TestStore_Delete(t *testing.T) {
	eachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		sessionA := testSessionID(6)
		sessionB := testSessionID(7)

		for index := uint64(0); index < 3; index++ {
			if err := store.Put(ctx, testRecord(sessionA, index)); err != nil {
				t.Fatalf("Put A/%d: %v", index, err)
			}
		}
		if err := store.Put(ctx, testRecord(sessionB, 0)); err != nil {
			t.Fatalf("Put B/0: %v", err)
		}

		if err := store.Delete(ctx, sessionA); err != nil {
			t.Fatalf("Delete(A): %v", err)
		}

		if count, _ := store.Count(ctx, sessionA); count != 0 {
			t.Errorf("Count(A) after delete: got %d, want 0", count)
		}
		if _, err := store.Get(ctx, sessionA, 0); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(A, 0) after delete: got %v, want ErrNotFound", err)
		}

		// The other session is untouched.
		if count, _ := store.Count(ctx, sessionB); count != 1 {
			t.Errorf("Count(B) after deleting A: got %d, want 1", count)
		}

		// Deleting a session with no records is not an error.
		if err := store.Delete(ctx, testSessionID(8)); err != nil {
			t.Errorf("Delete of unknown session: %v", err)
		}
	})
}

// TestStore_IndexBoundaries exercises indices around byte boundaries
// of the encoded index, where an ordering or formatting bug in the
// key layout would surface.
func TestStore_IndexBoundaries(t *testing.T) {
	eachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		id := testSessionID(9)
		indices := []uint64{0, 1, 255, 256, 65535, 65536, 1 << 32}

		for _, index := range indices {
			if err := store.Put(ctx, testRecord(id, index)); err != nil {
				t.Fatalf("Put(%d): %v", index, err)
			}
		}
		for _, index := range indices {
			got, err := store.Get(ctx, id, index)
			if err != nil {
				t.Fatalf("Get(%d): %v", index, err)
			}
			if got.Index != index {
				t.Errorf("Get(%d) returned record with index %d", index, got.Index)
			}
		}
		if count, _ := store.Count(ctx, id); count != uint64(len(indices)) {
			t.Errorf("Count: got %d, want %d", count, len(indices))
		}
	})
}

func TestStore_CancelledContext(t *testing.T) {
	eachBackend(t, func(t *testing.T, store Store) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		id := testSessionID(10)
		if err := store.Put(ctx, testRecord(id, 0)); !errors.Is(err, context.Canceled) {
			t.Errorf("Put with cancelled context: got %v, want context.Canceled", err)
		}
		if _, err := store.Get(ctx, id, 0); !errors.Is(err, context.Canceled) {
			t.Errorf("Get with cancelled context: got %v, want context.Canceled", err)
		}
	})
}
