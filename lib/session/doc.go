// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

// Package session orchestrates the recording pipeline: it owns the
// lifecycle of every session from creation through sealing and chain
// anchoring, and it is the only component that mutates session state.
//
// A session moves through created → recording → sealing →
// anchor_pending → anchored. Failed and expired are terminal and
// reachable from every non-terminal state; a terminal session is
// never revived; dispute recovery means a new session. Only created
// and recording accept capture bytes.
//
// Each active session runs a pipeline of four goroutines connected by
// bounded channels: the chunk stage seals fixed windows, the encrypt
// stage seals each window under the session key, and the output fans
// out to a store writer and a Merkle appender. Bounded channels give
// backpressure: a slow disk slows the caller instead of growing
// buffers without limit.
//
// EndStream is the barrier. It stops input, waits for every stage to
// drain, finalizes the Merkle root, and persists the manifest and a
// pending anchor record before any network traffic. Anchoring then
// proceeds on a per-session goroutine so one session's chain latency
// never blocks another session's ingestion. Anchor transport trouble
// leaves the session anchor_pending for the recovery sweep; only an
// explicit chain rejection fails it.
//
// Durable state lives in two places: the manifest store holds the
// sealed manifest, and the SQLite index holds session rows and anchor
// records. The in-memory registry is a cache over the index for live
// sessions; Status falls back to the index so sealed sessions remain
// inspectable across restarts.
package session
