// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

// Capstan is the operator CLI for a Capstan recording node. It
// provides subcommands for key lifecycle (keygen, seal-key) and for
// offline inspection of recorded sessions (verify, manifest, proof).
// All subcommands work against the node's on-disk stores directly and
// never need the session service running.
package main
