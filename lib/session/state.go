// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "fmt"

// State is a session lifecycle state. The happy path is created →
// recording → sealing → anchor_pending → anchored; failed and expired
// are terminal and reachable from every non-terminal state.
type State string

const (
	// StateCreated is the initial state: the session exists, its key
	// is derived, and it accepts capture bytes.
	StateCreated State = "created"

	// StateRecording is created plus at least one SubmitBytes call.
	StateRecording State = "recording"

	// StateSealing means EndStream has begun: input is closed and
	// the pipeline is draining.
	StateSealing State = "sealing"

	// StateAnchorPending means the manifest is sealed and durable but
	// its chain anchor is not yet confirmed. Sessions in this state
	// survive restarts; the recovery sweep finishes them.
	StateAnchorPending State = "anchor_pending"

	// StateAnchored is the fully-recorded terminal success state.
	StateAnchored State = "anchored"

	// StateFailed is terminal: an unrecoverable pipeline error, an
	// explicit abort, or a chain rejection.
	StateFailed State = "failed"

	// StateExpired is terminal: the session outlived its deadline
	// before sealing completed.
	StateExpired State = "expired"
)

// ParseState converts a stored state string back to a State.
func ParseState(s string) (State, error) {
	switch State(s) {
	case StateCreated, StateRecording, StateSealing, StateAnchorPending,
		StateAnchored, StateFailed, StateExpired:
		return State(s), nil
	}
	return "", fmt.Errorf("unknown session state %q", s)
}

// Terminal reports whether the state permits no further transitions.
func (s State) Terminal() bool {
	return s == StateAnchored || s == StateFailed || s == StateExpired
}

// AcceptsInput reports whether SubmitBytes is allowed in this state.
func (s State) AcceptsInput() bool {
	return s == StateCreated || s == StateRecording
}

// Sealed reports whether the session has a manifest: sealing finished
// and the root is final.
func (s State) Sealed() bool {
	return s == StateAnchorPending || s == StateAnchored
}
