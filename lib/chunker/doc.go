// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunker splits a session's capture stream into bounded,
// compressed chunk payloads.
//
// A [Chunker] owns one rolling buffer per session. Appended bytes
// accumulate until the buffer reaches the configured window size, at
// which point the window is sealed: hashed, compressed, and assigned
// the next contiguous chunk index. Flush seals whatever remains
// (possibly below the window size; the final chunk of a session is
// the only one allowed to be short) and retires the chunker.
//
// Window sizing is by construction, not by checking: every non-final
// window is exactly the configured size, so the bounded-chunk
// invariant cannot be violated by any input pattern.
//
// Compression is per-window and self-contained: each sealed payload
// decompresses independently, which is what allows chunk-granular
// playback and verification. When a window does not shrink under the
// configured codec (already-compressed video, encrypted regions), the
// payload is stored raw and tagged [CodecNone]; the fallback is
// recorded per chunk, so sessions can mix compressed and raw chunks.
package chunker
