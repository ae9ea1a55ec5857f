// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the one place Capstan configures CBOR.
//
// Two formats, one boundary: JSON faces outward (the session HTTP API,
// CLI output, anchor profile documents) while CBOR faces inward
// (manifests, chunk records, anchor receipts; anything persisted and
// hashed). Manifest hashes are computed over encoded bytes, so the
// encoder is pinned to Core Deterministic Encoding and every package
// marshals through the modes here rather than configuring its own.
//
// Tag convention: a type serialized only as CBOR carries `cbor` tags.
// A type that also crosses the JSON boundary (session status, anchor
// profiles) carries `json` tags alone and relies on fxamacker/cbor's
// json-tag fallback, so a single tag set controls field naming and
// omitempty in both formats. Never put both tags on one field; the tag
// names the contract, and doubling up obscures which side of the
// boundary a type lives on.
package codec
