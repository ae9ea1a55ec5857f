// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/capstan-io/capstan/lib/anchor"
	"github.com/capstan-io/capstan/lib/manifest"
)

// Run drives the orchestrator's background scans until ctx is
// cancelled: the expiry scan on ExpiryInterval and the anchor
// recovery sweep plus retention pass on SweepInterval. One sweep runs
// immediately so sessions left pending by the previous process are
// picked up without waiting a full interval.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Sweep(ctx); err != nil {
		o.logger.Error("startup anchor sweep", "error", err)
	}

	expiry := o.clk.NewTicker(o.expiryInterval)
	defer expiry.Stop()
	sweep := o.clk.NewTicker(o.sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-expiry.C:
			now := o.clk.Now()
			o.expireOverdue(now)
			if err := o.index.ExpireOverdue(ctx, now.UnixNano()); err != nil {
				o.logger.Error("expiring stranded sessions", "error", err)
			}
		case <-sweep.C:
			if err := o.Sweep(ctx); err != nil {
				o.logger.Error("anchor sweep", "error", err)
			}
			if err := o.RunRetention(ctx); err != nil {
				o.logger.Error("retention pass", "error", err)
			}
		}
	}
}

// expireOverdue terminates resident unsealed sessions whose deadline
// has passed. Sealing and sealed sessions are exempt: once the caller
// asks to seal, the data has been promised durability and the anchor
// sweep, not expiry, owns its completion.
func (o *Orchestrator) expireOverdue(now time.Time) {
	o.mu.Lock()
	var overdue []*session
	for _, sess := range o.sessions {
		sess.mu.Lock()
		if sess.state.AcceptsInput() && !sess.expiresAt.After(now) {
			overdue = append(overdue, sess)
		}
		sess.mu.Unlock()
	}
	o.mu.Unlock()

	for _, sess := range overdue {
		o.terminate(sess, StateExpired, nil)
		o.logger.Info("session expired",
			"session", sess.id,
			"owner", sess.owner,
			"expired_at", sess.expiresAt)
	}
}

// Sweep resubmits every unconfirmed anchor through the idempotent
// anchor client. Records already being driven by a live per-session
// goroutine are skipped; everything else, including sessions sealed
// by a previous process, is retried here.
func (o *Orchestrator) Sweep(ctx context.Context) error {
	records, err := o.index.UnconfirmedAnchors(ctx)
	if err != nil {
		return err
	}

	for i := range records {
		rec := &records[i]
		if o.anchorBusy(rec.SessionID) {
			continue
		}

		m, err := o.manifests.Read(rec.SessionID)
		if err != nil {
			o.logger.Error("sweep: reading manifest",
				"session", rec.SessionID, "error", err)
			continue
		}

		swept, err := o.anchors.Anchor(ctx, m)
		switch {
		case err == nil && swept != nil && swept.Status == manifest.AnchorConfirmed:
			o.markAnchored(ctx, rec.SessionID)
		case errors.Is(err, anchor.ErrChainRejected):
			o.failAnchor(ctx, rec.SessionID, err)
		case err != nil:
			o.logger.Warn("sweep: anchor still pending",
				"session", rec.SessionID, "error", err)
		}
	}
	return nil
}

// anchorBusy reports whether a resident session already has an anchor
// goroutine in flight.
func (o *Orchestrator) anchorBusy(id ID) bool {
	o.mu.Lock()
	sess := o.sessions[id]
	o.mu.Unlock()
	if sess == nil {
		return false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.anchorInFlight
}

// failAnchor records a chain rejection for a session that may or may
// not be resident.
func (o *Orchestrator) failAnchor(ctx context.Context, id ID, cause error) {
	perr := &PipelineError{Category: CategoryAnchor, Err: cause}

	o.mu.Lock()
	sess := o.sessions[id]
	o.mu.Unlock()
	if sess != nil {
		o.terminate(sess, StateFailed, perr)
		return
	}

	if err := o.index.RecordFailure(ctx, id, StateFailed, perr.Category, cause.Error()); err != nil {
		o.logger.Error("recording anchor rejection", "session", id, "error", err)
	}
	o.mu.Lock()
	o.stats.Failed++
	o.mu.Unlock()
	o.logger.Warn("session failed", "session", id, "category", perr.Category, "error", cause)
}

// RunRetention purges anchored sessions whose retention window has
// elapsed: chunks, manifest, index row, and registry entry. Purge
// failures are logged per session and retried on the next pass.
func (o *Orchestrator) RunRetention(ctx context.Context) error {
	eligible, err := o.index.RetentionEligible(ctx, o.clk.Now().UnixNano())
	if err != nil {
		return err
	}

	for _, id := range eligible {
		if err := o.purge(ctx, id); err != nil {
			o.logger.Error("retention purge", "session", id, "error", err)
			continue
		}
		o.logger.Info("session purged by retention", "session", id)
	}
	return nil
}

// purge removes every trace of a session. Chunks go first so a crash
// mid-purge leaves the index row for the next pass to finish.
func (o *Orchestrator) purge(ctx context.Context, id ID) error {
	if err := o.chunks.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	if err := o.manifests.Delete(id); err != nil && !errors.Is(err, manifest.ErrNotFound) {
		return fmt.Errorf("deleting manifest: %w", err)
	}
	if err := o.index.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("deleting index row: %w", err)
	}

	o.mu.Lock()
	delete(o.sessions, id)
	o.mu.Unlock()
	return nil
}
