// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package anchor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/capstan-io/capstan/lib/clock"
	"github.com/capstan-io/capstan/lib/manifest"
	"github.com/capstan-io/capstan/lib/merkle"
)

const (
	// DefaultRetryLimit is the number of consecutive transport
	// failures tolerated in one Anchor call before it gives up.
	DefaultRetryLimit = 5

	// DefaultPollInterval is the wait between confirmation polls
	// while a transaction sits pending on the chain.
	DefaultPollInterval = 2 * time.Second

	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// ErrRetryExhausted reports that an Anchor call spent its retry budget
// on transport failures. The durable record is left non-terminal
// (pending or submitted) so the recovery sweep can pick the session up
// later; nothing about the session's artifact is invalid.
var ErrRetryExhausted = errors.New("anchor retry attempts exhausted")

// ErrChainRejected reports that the chain itself returned a failed
// verdict for the transaction. Unlike retry exhaustion this is
// terminal: the durable record is marked failed.
var ErrChainRejected = errors.New("anchor rejected by chain")

// RecordStore is the durable anchor-record index. The Client consults
// it before every submission (idempotence) and writes through it as a
// submission progresses, always before the corresponding network
// call, so a crash at any point leaves a record the recovery sweep
// can resume from.
type RecordStore interface {
	// GetAnchor returns the record for a manifest hash, or nil when
	// no submission has ever been recorded for it.
	GetAnchor(ctx context.Context, manifestHash merkle.Hash) (*manifest.AnchorRecord, error)

	// SaveAnchor inserts or replaces the record for its manifest
	// hash.
	SaveAnchor(ctx context.Context, rec *manifest.AnchorRecord) error
}

// Config carries the Client's collaborators. Chain and Records are
// required; the rest default sensibly.
type Config struct {
	Chain   Chain
	Records RecordStore

	// Clock drives backoff sleeps and poll waits. Defaults to the
	// real clock.
	Clock clock.Clock

	// Logger receives submission progress. Defaults to a discard
	// logger.
	Logger *slog.Logger

	// RetryLimit bounds consecutive transport failures per Anchor
	// call. Defaults to DefaultRetryLimit.
	RetryLimit int

	// PollInterval is the wait between confirmation polls while the
	// transaction is pending. Defaults to DefaultPollInterval.
	PollInterval time.Duration
}

// Client anchors sealed manifests. Safe for concurrent use; all state
// lives in the RecordStore.
type Client struct {
	chain        Chain
	records      RecordStore
	clk          clock.Clock
	logger       *slog.Logger
	retryLimit   int
	pollInterval time.Duration
}

// New builds a Client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.Chain == nil {
		return nil, fmt.Errorf("anchor client: nil chain")
	}
	if cfg.Records == nil {
		return nil, fmt.Errorf("anchor client: nil record store")
	}
	client := &Client{
		chain:        cfg.Chain,
		records:      cfg.Records,
		clk:          cfg.Clock,
		logger:       cfg.Logger,
		retryLimit:   cfg.RetryLimit,
		pollInterval: cfg.PollInterval,
	}
	if client.clk == nil {
		client.clk = clock.Real()
	}
	if client.logger == nil {
		client.logger = slog.New(slog.DiscardHandler)
	}
	if client.retryLimit < 1 {
		client.retryLimit = DefaultRetryLimit
	}
	if client.pollInterval <= 0 {
		client.pollInterval = DefaultPollInterval
	}
	return client, nil
}

// WithRetryLimit returns a copy of the Client with a different retry
// budget. Sessions negotiate their own anchor retry limit at creation;
// the orchestrator derives a per-session view from the shared client
// without re-wiring the chain or the record store.
func (c *Client) WithRetryLimit(limit int) *Client {
	if limit < 1 {
		limit = DefaultRetryLimit
	}
	derived := *c
	derived.retryLimit = limit
	return &derived
}

// Anchor submits m's commitment to the chain and waits for
// confirmation. The returned record reflects the durable state at
// return time, also when err is non-nil (except for refusal and
// lookup errors, where no record was touched).
//
// The call is idempotent on the manifest hash: an already confirmed
// record returns immediately, an earlier submission that was never
// confirmed resumes polling without resubmitting, and a fresh hash is
// recorded pending before the first network call so a crash cannot
// lose track of it.
//
// Transport errors from either chain call retry with exponential
// backoff (1s doubling, capped at 30s) until the retry budget is
// spent; exhaustion returns ErrRetryExhausted with the record left
// non-terminal. A transaction the chain holds pending is polled at
// the configured interval without consuming retry budget; callers
// bound total anchor time through ctx.
func (c *Client) Anchor(ctx context.Context, m *manifest.Manifest) (*manifest.AnchorRecord, error) {
	// A manifest whose stored hash no longer matches its fields was
	// corrupted in memory after sealing. Anchoring it would commit a
	// digest nothing can verify against.
	if err := m.VerifyHash(); err != nil {
		return nil, fmt.Errorf("refusing to anchor session %s: %w", m.SessionID, err)
	}

	rec, err := c.records.GetAnchor(ctx, m.Hash)
	if err != nil {
		return nil, fmt.Errorf("looking up anchor record %s: %w", m.Hash, err)
	}
	switch {
	case rec == nil:
		rec = &manifest.AnchorRecord{
			ManifestHash: m.Hash,
			SessionID:    m.SessionID,
			Status:       manifest.AnchorPending,
		}
		if err := c.records.SaveAnchor(ctx, rec); err != nil {
			return nil, fmt.Errorf("recording pending anchor %s: %w", m.Hash, err)
		}
	case rec.Status == manifest.AnchorConfirmed:
		c.logger.Debug("manifest already anchored",
			"session", rec.SessionID, "tx_ref", rec.TxRef)
		return rec, nil
	case rec.Status == manifest.AnchorFailed:
		return rec, fmt.Errorf("manifest %s: %w (tx %s)", m.Hash, ErrChainRejected, rec.TxRef)
	}

	run := &retryRun{clk: c.clk, limit: c.retryLimit, backoff: initialBackoff}

	// A submitted record with a TxRef survived a crash or a prior
	// exhaustion after the chain accepted the transaction; polling it
	// is enough. Anything else still needs a submission.
	if rec.Status != manifest.AnchorSubmitted || rec.TxRef == "" {
		if err := c.submit(ctx, m, rec, run); err != nil {
			return rec, err
		}
	}
	if err := c.awaitConfirmation(ctx, rec, run); err != nil {
		return rec, err
	}
	return rec, nil
}

// submit drives SubmitAnchor until the chain accepts the transaction,
// then durably records the TxRef.
func (c *Client) submit(ctx context.Context, m *manifest.Manifest, rec *manifest.AnchorRecord, run *retryRun) error {
	sub := Submission{
		SessionID:    m.SessionID,
		ManifestHash: m.Hash,
		MerkleRoot:   m.MerkleRoot,
		ChunkCount:   m.ChunkCount,
	}
	for {
		txRef, err := c.chain.SubmitAnchor(ctx, sub)
		rec.Attempts++
		if err == nil {
			rec.TxRef = string(txRef)
			rec.Status = manifest.AnchorSubmitted
			rec.SubmittedAtUnixNano = c.clk.Now().UnixNano()
			if err := c.records.SaveAnchor(ctx, rec); err != nil {
				return fmt.Errorf("recording submission %s: %w", txRef, err)
			}
			c.logger.Info("anchor submitted",
				"session", rec.SessionID, "tx_ref", txRef, "attempts", rec.Attempts)
			run.reset()
			return nil
		}

		c.logger.Warn("anchor submission failed",
			"session", rec.SessionID,
			"attempts", rec.Attempts,
			"backoff", run.backoff,
			"error", err)

		if waitErr := run.wait(ctx); waitErr != nil {
			if errors.Is(waitErr, ErrRetryExhausted) {
				// The record stays pending for the sweep; persist the
				// attempt count so operators see the history.
				if saveErr := c.records.SaveAnchor(ctx, rec); saveErr != nil {
					c.logger.Error("persisting exhausted anchor record",
						"session", rec.SessionID, "error", saveErr)
				}
				return fmt.Errorf("submitting anchor for session %s: %w after %d attempts: %w",
					rec.SessionID, ErrRetryExhausted, rec.Attempts, err)
			}
			return waitErr
		}
	}
}

// awaitConfirmation polls GetConfirmation until the chain settles the
// transaction one way or the other.
func (c *Client) awaitConfirmation(ctx context.Context, rec *manifest.AnchorRecord, run *retryRun) error {
	ref := TxRef(rec.TxRef)
	for {
		conf, err := c.chain.GetConfirmation(ctx, ref)
		if err != nil {
			c.logger.Warn("confirmation poll failed",
				"session", rec.SessionID,
				"tx_ref", ref,
				"backoff", run.backoff,
				"error", err)
			if waitErr := run.wait(ctx); waitErr != nil {
				if errors.Is(waitErr, ErrRetryExhausted) {
					return fmt.Errorf("confirming anchor %s for session %s: %w: %w",
						ref, rec.SessionID, ErrRetryExhausted, err)
				}
				return waitErr
			}
			continue
		}
		run.reset()

		switch conf.Status {
		case StatusConfirmed:
			rec.Status = manifest.AnchorConfirmed
			rec.ConfirmedAtUnixNano = c.clk.Now().UnixNano()
			if err := c.records.SaveAnchor(ctx, rec); err != nil {
				return fmt.Errorf("recording confirmation of %s: %w", ref, err)
			}
			c.logger.Info("anchor confirmed",
				"session", rec.SessionID, "tx_ref", ref, "block", conf.BlockNumber)
			return nil

		case StatusFailed:
			rec.Status = manifest.AnchorFailed
			if err := c.records.SaveAnchor(ctx, rec); err != nil {
				return fmt.Errorf("recording chain rejection of %s: %w", ref, err)
			}
			c.logger.Error("anchor rejected by chain",
				"session", rec.SessionID, "tx_ref", ref)
			return fmt.Errorf("anchor %s for session %s: %w", ref, rec.SessionID, ErrChainRejected)

		case StatusPending:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.clk.After(c.pollInterval):
			}

		default:
			return fmt.Errorf("chain returned unknown confirmation status %q for %s", conf.Status, ref)
		}
	}
}

// retryRun tracks one Anchor call's transport-failure budget. Every
// failed chain call costs one unit and sleeps the current backoff;
// any successful chain call resets both the counter and the backoff,
// so the budget bounds consecutive failures rather than total calls.
type retryRun struct {
	clk     clock.Clock
	limit   int
	used    int
	backoff time.Duration
}

// wait consumes one unit of the budget and sleeps. Returns
// ErrRetryExhausted when the budget is spent, or the context error if
// cancelled mid-sleep.
func (r *retryRun) wait(ctx context.Context) error {
	r.used++
	if r.used >= r.limit {
		return ErrRetryExhausted
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.clk.After(r.backoff):
	}
	r.backoff *= 2
	if r.backoff > maxBackoff {
		r.backoff = maxBackoff
	}
	return nil
}

func (r *retryRun) reset() {
	r.used = 0
	r.backoff = initialBackoff
}
