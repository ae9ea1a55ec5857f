// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

// Package anchor submits sealed session manifests to an external
// blockchain and tracks their confirmation.
//
// The chain is consumed through the narrow [Chain] interface: one
// submission call and one confirmation poll. Everything else (retry
// budgets, exponential backoff, idempotence, durable bookkeeping) is
// the [Client]'s job, so chain implementations stay thin transports.
//
// Anchoring is deliberately separable from recording: a session whose
// chunks and manifest are durably stored has lost nothing when the
// chain is unreachable. The client therefore never converts transport
// trouble into a terminal state. Submission-side failures exhaust
// into [ErrRetryExhausted] with the durable record left pending for a
// later recovery sweep; only an explicit chain-side rejection marks a
// record failed.
package anchor
