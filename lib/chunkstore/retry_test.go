// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/capstan-io/capstan/lib/clock"
	"github.com/capstan-io/capstan/lib/testutil"
)

var errPutFailed = errors.New("simulated storage failure")

// flakyStore is an in-memory Store whose first failPuts Put calls
// fail. Reads, counts, and deletes always succeed and are counted so
// pass-through behavior can be asserted.
type flakyStore struct {
	mu          sync.Mutex
	failPuts    int
	putCalls    int
	getCalls    int
	countCalls  int
	deleteCalls int
	closeCalls  int
	records     map[string]*Record
}

func newFlakyStore(failPuts int) *flakyStore {
	return &flakyStore{failPuts: failPuts, records: make(map[string]*Record)}
}

func recordKey(sessionID [16]byte, index uint64) string {
	return fmt.Sprintf("%x/%d", sessionID, index)
}

func (f *flakyStore) Put(ctx context.Context, rec *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	if f.putCalls <= f.failPuts {
		return errPutFailed
	}
	f.records[recordKey(rec.SessionID, rec.Index)] = rec
	return nil
}

func (f *flakyStore) Get(ctx context.Context, sessionID [16]byte, index uint64) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	rec, ok := f.records[recordKey(sessionID, index)]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (f *flakyStore) Count(ctx context.Context, sessionID [16]byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countCalls++
	prefix := fmt.Sprintf("%x/", sessionID)
	var count uint64
	for key := range f.records {
		if strings.HasPrefix(key, prefix) {
			count++
		}
	}
	return count, nil
}

func (f *flakyStore) Delete(ctx context.Context, sessionID [16]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	prefix := fmt.Sprintf("%x/", sessionID)
	for key := range f.records {
		if strings.HasPrefix(key, prefix) {
			delete(f.records, key)
		}
	}
	return nil
}

func (f *flakyStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *flakyStore) puts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putCalls
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWithRetry_FirstAttemptSucceeds(t *testing.T) {
	flaky := newFlakyStore(0)
	clk := clock.Fake(time.Unix(1000, 0))
	store := WithRetry(flaky, 5, 100*time.Millisecond, clk, discardLogger())

	if err := store.Put(context.Background(), testRecord(testSessionID(40), 0)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if flaky.puts() != 1 {
		t.Errorf("put calls: got %d, want 1", flaky.puts())
	}
	if clk.PendingCount() != 0 {
		t.Errorf("a successful first attempt should never arm a backoff timer")
	}
}

// TestWithRetry_RecoversAfterTransientFailures drives two failures
// through the wrapper and checks both the recovery and the backoff
// doubling: the first wait is the initial backoff, the second is
// twice that.
func TestWithRetry_RecoversAfterTransientFailures(t *testing.T) {
	flaky := newFlakyStore(2)
	clk := clock.Fake(time.Unix(1000, 0))
	store := WithRetry(flaky, 5, 100*time.Millisecond, clk, discardLogger())

	rec := testRecord(testSessionID(41), 0)
	done := make(chan error, 1)
	go func() {
		done <- store.Put(context.Background(), rec)
	}()

	// First backoff: 100ms. Advancing 50ms must not release it.
	clk.WaitForTimers(1)
	clk.Advance(50 * time.Millisecond)
	if clk.PendingCount() != 1 {
		t.Fatalf("backoff timer fired early")
	}
	clk.Advance(50 * time.Millisecond)

	// Second backoff: 200ms. Advancing the original 100ms must not
	// release it; doubling is what distinguishes backoff from a
	// fixed retry interval.
	clk.WaitForTimers(1)
	clk.Advance(100 * time.Millisecond)
	if clk.PendingCount() != 1 {
		t.Fatalf("second backoff did not double")
	}
	clk.Advance(100 * time.Millisecond)

	if err := testutil.RequireReceive(t, done, 5*time.Second, "Put should return after the third attempt"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if flaky.puts() != 3 {
		t.Errorf("put calls: got %d, want 3", flaky.puts())
	}
	if _, ok := flaky.records[recordKey(rec.SessionID, rec.Index)]; !ok {
		t.Errorf("record missing after successful retry")
	}
}

func TestWithRetry_ExhaustionSurfacesLastError(t *testing.T) {
	flaky := newFlakyStore(1 << 30)
	clk := clock.Fake(time.Unix(1000, 0))
	store := WithRetry(flaky, 3, 10*time.Millisecond, clk, discardLogger())

	done := make(chan error, 1)
	go func() {
		done <- store.Put(context.Background(), testRecord(testSessionID(42), 0))
	}()

	// Two backoff waits separate three attempts.
	clk.WaitForTimers(1)
	clk.Advance(10 * time.Millisecond)
	clk.WaitForTimers(1)
	clk.Advance(20 * time.Millisecond)

	err := testutil.RequireReceive(t, done, 5*time.Second, "Put should return after exhausting attempts")
	if !errors.Is(err, errPutFailed) {
		t.Fatalf("exhaustion error does not wrap the backend error: %v", err)
	}
	if !strings.Contains(err.Error(), "3 attempts") {
		t.Errorf("error does not name the attempt count: %v", err)
	}
	if flaky.puts() != 3 {
		t.Errorf("put calls: got %d, want 3", flaky.puts())
	}
}

func TestWithRetry_ContextCancelDuringBackoff(t *testing.T) {
	flaky := newFlakyStore(1 << 30)
	clk := clock.Fake(time.Unix(1000, 0))
	store := WithRetry(flaky, 5, time.Second, clk, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- store.Put(ctx, testRecord(testSessionID(43), 0))
	}()

	clk.WaitForTimers(1)
	cancel()

	err := testutil.RequireReceive(t, done, 5*time.Second, "Put should return on cancellation")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if flaky.puts() != 1 {
		t.Errorf("put calls after cancel: got %d, want 1", flaky.puts())
	}
}

// TestWithRetry_BackoffCap starts at 20s so the doubled second wait
// would be 40s uncapped; the wrapper caps it at 30s.
func TestWithRetry_BackoffCap(t *testing.T) {
	flaky := newFlakyStore(2)
	clk := clock.Fake(time.Unix(1000, 0))
	store := WithRetry(flaky, 3, 20*time.Second, clk, discardLogger())

	done := make(chan error, 1)
	go func() {
		done <- store.Put(context.Background(), testRecord(testSessionID(44), 0))
	}()

	clk.WaitForTimers(1)
	clk.Advance(20 * time.Second)

	clk.WaitForTimers(1)
	clk.Advance(29 * time.Second)
	if clk.PendingCount() != 1 {
		t.Fatalf("capped backoff fired before 30s")
	}
	clk.Advance(time.Second)

	if err := testutil.RequireReceive(t, done, 5*time.Second, "Put should return after the capped wait"); err != nil {
		t.Fatalf("Put: %v", err)
	}
}

func TestWithRetry_ReadsPassThrough(t *testing.T) {
	ctx := context.Background()
	flaky := newFlakyStore(0)
	clk := clock.Fake(time.Unix(1000, 0))
	store := WithRetry(flaky, 5, time.Second, clk, discardLogger())

	id := testSessionID(45)
	if err := store.Put(ctx, testRecord(id, 0)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := store.Get(ctx, id, 0); err != nil {
		t.Errorf("Get: %v", err)
	}
	if _, err := store.Get(ctx, id, 9); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing: got %v, want ErrNotFound", err)
	}
	if count, err := store.Count(ctx, id); err != nil || count != 1 {
		t.Errorf("Count: got (%d, %v), want (1, nil)", count, err)
	}
	if err := store.Delete(ctx, id); err != nil {
		t.Errorf("Delete: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	if flaky.getCalls != 2 || flaky.countCalls != 1 || flaky.deleteCalls != 1 || flaky.closeCalls != 1 {
		t.Errorf("pass-through call counts wrong: %+v", flaky)
	}
}

func TestWithRetry_NormalizesAttempts(t *testing.T) {
	flaky := newFlakyStore(1 << 30)
	clk := clock.Fake(time.Unix(1000, 0))
	store := WithRetry(flaky, 0, time.Second, clk, discardLogger())

	err := store.Put(context.Background(), testRecord(testSessionID(46), 0))
	if !errors.Is(err, errPutFailed) {
		t.Fatalf("got %v, want wrapped backend error", err)
	}
	if flaky.puts() != 1 {
		t.Errorf("put calls: got %d, want 1", flaky.puts())
	}
	if clk.PendingCount() != 0 {
		t.Errorf("single-attempt wrapper armed a backoff timer")
	}
}
