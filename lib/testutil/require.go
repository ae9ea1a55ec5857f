// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"testing"
	"time"
)

// RequireReceive reads one value from ch, failing the test if none
// arrives within timeout. what names the awaited event in the failure
// message.
func RequireReceive[T any](t testing.TB, ch <-chan T, timeout time.Duration, what string) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed while %s", what)
		}
		return v
	case <-time.After(timeout):
		t.Fatalf("gave up after %v: %s", timeout, what)
	}
	panic("unreachable")
}

// RequireClosed waits for ch to close (or deliver a value), failing
// the test if neither happens within timeout.
func RequireClosed(t testing.TB, ch <-chan struct{}, timeout time.Duration, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("gave up after %v: %s", timeout, what)
	}
}
