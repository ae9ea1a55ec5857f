// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import "math/rand"

// Payload returns size bytes of seeded pseudo-random data. The same
// seed always produces the same bytes, so tests can regenerate their
// input instead of buffering it for later comparison. Random bytes do
// not compress, which makes Payload suitable for exercising the
// incompressible-input paths.
func Payload(seed int64, size int) []byte {
	data := make([]byte, size)
	//nolint:gosec // deterministic test data, not key material
	rand.New(rand.NewSource(seed)).Read(data)
	return data
}

// CompressiblePayload returns size bytes of highly repetitive data
// (a cycling 64-byte phrase). Compressors reduce it by orders of
// magnitude, which makes it suitable for exercising the compression
// paths without multi-gigabyte inputs.
func CompressiblePayload(size int) []byte {
	const phrase = "the quick brown fox jumps over the lazy dog, again and again. "
	data := make([]byte, size)
	for i := range data {
		data[i] = phrase[i%len(phrase)]
	}
	return data
}
