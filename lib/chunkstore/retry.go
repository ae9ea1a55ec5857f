// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/capstan-io/capstan/lib/clock"
)

// maxPutBackoff caps the exponential backoff between Put attempts.
const maxPutBackoff = 30 * time.Second

// WithRetry wraps a store so that transient Put failures are retried
// with exponential backoff (doubling from initialBackoff, capped at
// 30s) up to attempts total tries. All other operations pass through
// unchanged.
//
// Retries are invisible in the stored artifact: chunk sealing is
// deterministic, so the record written by a later attempt is
// identical to what the first attempt would have written.
//
// attempts below 1 is treated as 1; initialBackoff at or below zero
// defaults to one second.
func WithRetry(store Store, attempts int, initialBackoff time.Duration, clk clock.Clock, logger *slog.Logger) Store {
	if attempts < 1 {
		attempts = 1
	}
	if initialBackoff <= 0 {
		initialBackoff = time.Second
	}
	return &retryStore{
		inner:          store,
		attempts:       attempts,
		initialBackoff: initialBackoff,
		clk:            clk,
		logger:         logger,
	}
}

type retryStore struct {
	inner          Store
	attempts       int
	initialBackoff time.Duration
	clk            clock.Clock
	logger         *slog.Logger
}

var _ Store = (*retryStore)(nil)

func (s *retryStore) Put(ctx context.Context, rec *Record) error {
	backoff := s.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		lastErr = s.inner.Put(ctx, rec)
		if lastErr == nil {
			return nil
		}
		if attempt == s.attempts {
			break
		}
		s.logger.Warn("chunk put failed, retrying",
			"session", fmt.Sprintf("%x", rec.SessionID),
			"index", rec.Index,
			"attempt", attempt,
			"backoff", backoff,
			"error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clk.After(backoff):
		}
		backoff *= 2
		if backoff > maxPutBackoff {
			backoff = maxPutBackoff
		}
	}
	return fmt.Errorf("storing chunk %x/%d: %d attempts exhausted: %w",
		rec.SessionID, rec.Index, s.attempts, lastErr)
}

func (s *retryStore) Get(ctx context.Context, sessionID [16]byte, index uint64) (*Record, error) {
	return s.inner.Get(ctx, sessionID, index)
}

func (s *retryStore) Count(ctx context.Context, sessionID [16]byte) (uint64, error) {
	return s.inner.Count(ctx, sessionID)
}

func (s *retryStore) Delete(ctx context.Context, sessionID [16]byte) error {
	return s.inner.Delete(ctx, sessionID)
}

func (s *retryStore) Close() error {
	return s.inner.Close()
}
