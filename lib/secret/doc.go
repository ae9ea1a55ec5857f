// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides guarded memory for key material: the pipeline
// master secret, derived per-session keys, and unsealed identities.
//
// [Buffer] allocates its backing memory outside the Go heap with
// mmap(MAP_ANONYMOUS), pins it against swap with mlock, and excludes it
// from core dumps with madvise(MADV_DONTDUMP). Close zeroes the region
// before unlocking and unmapping it. The garbage collector never sees
// the region, so it cannot copy or relocate the secret. That is the
// only way in Go to bound where key bytes live.
//
// Constructors:
//
//   - [New] allocates a zero-filled buffer of a given size
//   - [NewFromBytes] moves existing bytes in and zeroes the source
//   - [NewFromReader] fills a buffer from an io.Reader (exact length)
//   - [ReadFromPath] loads a secret from a file or stdin
//
// [Buffer.Bytes] exposes the mmap region directly; [Buffer.String]
// makes a heap copy for string-only API boundaries and should be used
// sparingly. [Buffer.Equal] compares two buffers in constant time.
// [Zero] wipes any byte slice in place. After Close every accessor
// panics; Close is idempotent.
//
// Depends only on golang.org/x/sys/unix.
package secret
