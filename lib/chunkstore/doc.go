// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunkstore persists sealed session chunks.
//
// A chunk record carries everything needed to verify and decrypt one
// chunk independently of the rest of the session: the ciphertext and
// authentication tag, the nonce, the codec actually used, and the
// plaintext and ciphertext hashes. Records are keyed by (session id,
// chunk index) and written exactly once per index during recording;
// a Put for an index that already exists overwrites it, which makes
// retried writes idempotent.
//
// Two backends implement the Store interface. BadgerStore is the
// service backend: an embedded key-value store whose keys sort a
// session's chunks in index order. DirStore lays records out as
// sharded CBOR files on disk and exists for air-gapped verification,
// where an auditor receives a directory tree rather than a database.
//
// WithRetry wraps any backend with bounded retries for transient Put
// failures. Retries are invisible in the stored artifact: the record
// written on the successful attempt is byte-identical to what the
// first attempt would have written.
package chunkstore
