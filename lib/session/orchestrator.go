// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/capstan-io/capstan/lib/anchor"
	"github.com/capstan-io/capstan/lib/chunkstore"
	"github.com/capstan-io/capstan/lib/clock"
	"github.com/capstan-io/capstan/lib/manifest"
	"github.com/capstan-io/capstan/lib/merkle"
	"github.com/capstan-io/capstan/lib/seal"
)

const (
	// DefaultMaxActiveSessions bounds concurrent recordings. Each
	// active session holds a chunk window and stage queues in memory.
	DefaultMaxActiveSessions = 16

	// DefaultExpiryInterval is how often the expiry scan runs.
	DefaultExpiryInterval = time.Minute

	// DefaultSweepInterval is how often the anchor recovery sweep and
	// the retention pass run.
	DefaultSweepInterval = time.Minute
)

// session is the orchestrator's in-memory view of one session created
// in this process. The registry entry outlives the pipeline so Status
// answers from memory for anything created here; sessions from
// earlier runs are answered from the index.
type session struct {
	id        ID
	owner     string
	cfg       Config
	createdAt time.Time
	expiresAt time.Time

	// sealDone closes when the sealer finishes, successfully or not.
	sealDone chan struct{}

	mu             sync.Mutex
	state          State
	pipeline       *pipeline
	failure        *PipelineError
	manifest       *manifest.Manifest
	anchorInFlight bool
}

// StatusInfo is one session's externally visible state.
type StatusInfo struct {
	ID             ID          `json:"id"`
	Owner          string      `json:"owner"`
	State          State       `json:"state"`
	ChunkCount     uint64      `json:"chunk_count"`
	PlaintextSize  int64       `json:"plaintext_size"`
	CiphertextSize int64       `json:"ciphertext_size"`
	CreatedAt      time.Time   `json:"created_at"`
	ExpiresAt      time.Time   `json:"expires_at"`
	SealedAt       time.Time   `json:"sealed_at,omitzero"`
	ManifestHash   merkle.Hash `json:"manifest_hash,omitzero"`
	ErrorCategory  Category    `json:"error_category,omitempty"`
	ErrorMessage   string      `json:"error_message,omitempty"`
}

// Stats are orchestrator counters. Active is the current number of
// resident non-terminal sessions; the rest count transitions since
// process start.
type Stats struct {
	Active   int    `json:"active"`
	Sealed   uint64 `json:"sealed"`
	Anchored uint64 `json:"anchored"`
	Failed   uint64 `json:"failed"`
	Expired  uint64 `json:"expired"`
}

// OrchestratorConfig carries the orchestrator's collaborators. Keys,
// Chunks, Manifests, Index, and Anchors are required.
type OrchestratorConfig struct {
	// Keys derives and caches per-session encryption keys.
	Keys *seal.KeySet

	// Chunks persists sealed chunk records. Wrap with
	// chunkstore.WithRetry before passing it in; the pipeline treats
	// a Put error as final.
	Chunks chunkstore.Store

	// Manifests persists sealed manifests.
	Manifests *manifest.Store

	// Index is the durable session and anchor index.
	Index *Index

	// Anchors submits manifests to the chain.
	Anchors *anchor.Client

	// Signer, when set, signs each sealed manifest with the node
	// identity key. Optional; unsigned manifests still verify by
	// hash and anchor.
	Signer *manifest.Signer

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to a discard logger.
	Logger *slog.Logger

	// Defaults is the session configuration used when CreateSession
	// receives a zero Config. Defaults to DefaultConfig().
	Defaults Config

	// MaxActiveSessions bounds concurrent non-terminal sessions.
	// Defaults to DefaultMaxActiveSessions.
	MaxActiveSessions int

	// ExpiryInterval and SweepInterval pace Run's background scans.
	ExpiryInterval time.Duration
	SweepInterval  time.Duration
}

// Orchestrator owns every session's lifecycle. All state transitions
// go through it; the registry map is guarded by a mutex and there are
// no package-level singletons.
type Orchestrator struct {
	keys      *seal.KeySet
	chunks    chunkstore.Store
	manifests *manifest.Store
	index     *Index
	anchors   *anchor.Client
	signer    *manifest.Signer
	clk       clock.Clock
	logger    *slog.Logger

	defaults       Config
	maxActive      int
	expiryInterval time.Duration
	sweepInterval  time.Duration

	// ctx bounds all background work (pipelines, sealers, anchor
	// goroutines). Close cancels it and waits for wg.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[ID]*session
	stats    Stats
}

// NewOrchestrator validates collaborators and returns an orchestrator
// ready to create sessions. Call Run to start the expiry and sweep
// tickers, and Close to tear down background work.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Keys == nil {
		return nil, fmt.Errorf("session orchestrator: Keys is required")
	}
	if cfg.Chunks == nil {
		return nil, fmt.Errorf("session orchestrator: Chunks is required")
	}
	if cfg.Manifests == nil {
		return nil, fmt.Errorf("session orchestrator: Manifests is required")
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("session orchestrator: Index is required")
	}
	if cfg.Anchors == nil {
		return nil, fmt.Errorf("session orchestrator: Anchors is required")
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	defaults := cfg.Defaults
	if defaults == (Config{}) {
		defaults = DefaultConfig()
	}
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("session orchestrator: default config: %w", err)
	}
	maxActive := cfg.MaxActiveSessions
	if maxActive <= 0 {
		maxActive = DefaultMaxActiveSessions
	}
	expiryInterval := cfg.ExpiryInterval
	if expiryInterval <= 0 {
		expiryInterval = DefaultExpiryInterval
	}
	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		keys:           cfg.Keys,
		chunks:         cfg.Chunks,
		manifests:      cfg.Manifests,
		index:          cfg.Index,
		anchors:        cfg.Anchors,
		signer:         cfg.Signer,
		clk:            clk,
		logger:         logger,
		defaults:       defaults,
		maxActive:      maxActive,
		expiryInterval: expiryInterval,
		sweepInterval:  sweepInterval,
		ctx:            ctx,
		cancel:         cancel,
		sessions:       make(map[ID]*session),
	}, nil
}

// Close stops all background work: pipelines are cancelled, sealers
// and anchor goroutines unwind, and Close blocks until they have.
// Sessions mid-anchor stay anchor_pending; the next run's sweep
// finishes them.
func (o *Orchestrator) Close() error {
	o.cancel()
	o.wg.Wait()
	return nil
}

// CreateSession validates the owner and configuration, derives the
// session key, persists the session row, and starts the pipeline. A
// zero Config means the orchestrator's defaults.
func (o *Orchestrator) CreateSession(ctx context.Context, owner string, cfg Config) (ID, error) {
	if owner == "" {
		return ID{}, Errorf(CategoryInput, "owner must not be empty")
	}
	if cfg == (Config{}) {
		cfg = o.defaults
	}
	if err := cfg.Validate(); err != nil {
		return ID{}, wrap(CategoryInput, err)
	}

	id, err := NewID()
	if err != nil {
		return ID{}, Errorf(CategoryEncryption, "generating session id: %w", err)
	}

	now := o.clk.Now()
	sess := &session{
		id:        id,
		owner:     owner,
		cfg:       cfg,
		createdAt: now,
		expiresAt: now.Add(cfg.MaxSessionAge),
		sealDone:  make(chan struct{}),
		state:     StateCreated,
	}

	// Reserve the registry slot first so concurrent creations cannot
	// overshoot the limit.
	o.mu.Lock()
	if o.activeLocked() >= o.maxActive {
		o.mu.Unlock()
		return ID{}, Errorf(CategoryInput, "active session limit %d reached", o.maxActive)
	}
	o.sessions[id] = sess
	o.mu.Unlock()

	release := func() {
		o.mu.Lock()
		delete(o.sessions, id)
		o.mu.Unlock()
	}

	key, err := o.keys.SessionKey(id)
	if err != nil {
		release()
		return ID{}, Errorf(CategoryEncryption, "deriving session key: %w", err)
	}

	if err := o.index.InsertSession(ctx, &Row{
		ID:                id,
		Owner:             owner,
		State:             StateCreated,
		Codec:             cfg.Codec,
		RetentionDays:     cfg.RetentionDays,
		CreatedAtUnixNano: now.UnixNano(),
		ExpiresAtUnixNano: sess.expiresAt.UnixNano(),
	}); err != nil {
		o.keys.DropSession(id)
		release()
		return ID{}, wrap(CategoryStorage, err)
	}

	pipe, err := newPipeline(o.ctx, id, cfg, key, o.chunks, o.logger.With("session", id))
	if err != nil {
		o.keys.DropSession(id)
		release()
		return ID{}, err
	}
	sess.mu.Lock()
	sess.pipeline = pipe
	sess.mu.Unlock()

	// Watch for pipeline failures that happen between calls, so
	// Status reflects them without waiting for the next Submit.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		<-pipe.done
		if perr := pipe.failure(); perr != nil {
			o.terminate(sess, StateFailed, perr)
		}
	}()

	o.logger.Info("session created",
		"session", id,
		"owner", owner,
		"chunk_max", cfg.ChunkMax,
		"codec", cfg.Codec.String(),
		"expires_at", sess.expiresAt)
	return id, nil
}

// SubmitBytes feeds capture bytes to the session's pipeline, blocking
// when the pipeline is saturated. The orchestrator takes ownership of
// data; the caller must not reuse the slice. A call may complete zero
// or more chunks.
func (o *Orchestrator) SubmitBytes(ctx context.Context, id ID, data []byte) error {
	sess, err := o.lookupActive(ctx, id)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	if !sess.state.AcceptsInput() {
		err := o.rejectLocked(sess)
		sess.mu.Unlock()
		return err
	}
	first := sess.state == StateCreated
	if first {
		sess.state = StateRecording
	}
	pipe := sess.pipeline
	sess.mu.Unlock()

	if first {
		// Best effort: memory is the live truth and the row is
		// rewritten at seal.
		if err := o.index.UpdateState(ctx, id, StateRecording); err != nil {
			o.logger.Warn("updating session state", "session", id, "error", err)
		}
	}

	if len(data) == 0 {
		return nil
	}
	return pipe.submit(ctx, data)
}

// rejectLocked builds the input error for a session that cannot
// accept the requested operation. Caller holds sess.mu.
func (o *Orchestrator) rejectLocked(sess *session) error {
	if sess.failure != nil {
		return Errorf(CategoryInput, "session %s is %s: %w", sess.id, sess.state, sess.failure)
	}
	return Errorf(CategoryInput, "session %s is %s, not accepting input", sess.id, sess.state)
}

// EndStream is the end-of-stream barrier. The first call stops input,
// waits for the pipeline to drain and the final partial chunk to
// flush, persists the manifest and a pending anchor record, and hands
// the manifest to the anchor client on a per-session goroutine.
// Subsequent calls return an input error and change nothing.
//
// If ctx expires mid-seal, sealing continues in the background and
// Status reports the outcome.
func (o *Orchestrator) EndStream(ctx context.Context, id ID) error {
	sess, err := o.lookupActive(ctx, id)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	switch {
	case sess.state.AcceptsInput():
		sess.state = StateSealing
	case sess.state == StateSealing:
		sess.mu.Unlock()
		return Errorf(CategoryInput, "session %s is already sealing", id)
	case sess.state.Sealed():
		sess.mu.Unlock()
		return Errorf(CategoryInput, "session %s is already sealed", id)
	default:
		err := o.rejectLocked(sess)
		sess.mu.Unlock()
		return err
	}
	pipe := sess.pipeline
	sess.mu.Unlock()

	if err := o.index.UpdateState(ctx, id, StateSealing); err != nil {
		o.logger.Warn("updating session state", "session", id, "error", err)
	}

	pipe.closeInput()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.sealSession(sess)
	}()

	select {
	case <-sess.sealDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Report the seal outcome, not whatever the anchor goroutine has
	// done since: a manifest means the barrier held. Anchoring is
	// asynchronous and surfaces through Status.
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.manifest != nil {
		return nil
	}
	if sess.failure != nil {
		return sess.failure
	}
	return Errorf(CategoryInput, "session %s is %s, sealing did not complete", id, sess.state)
}

// sealSession runs after the input channel closes: it waits for stage
// drain, finalizes the root, persists the manifest and the pending
// anchor record, and starts anchoring. Runs at most once per session.
func (o *Orchestrator) sealSession(sess *session) {
	defer close(sess.sealDone)

	pipe := sess.pipeline
	<-pipe.done

	if perr := pipe.failure(); perr != nil {
		o.terminate(sess, StateFailed, perr)
		return
	}
	if pipe.cancelled() {
		// Shutdown or abort interrupted the drain; whoever cancelled
		// set the terminal state (or the process is exiting).
		return
	}

	res, err := pipe.finalize()
	if err != nil {
		o.terminate(sess, StateFailed, asPipelineError(err))
		return
	}

	m, err := manifest.Build(manifest.Draft{
		SessionID:      sess.id,
		Owner:          sess.owner,
		ChunkCount:     res.chunkCount,
		PlaintextSize:  res.plaintextSize,
		CiphertextSize: res.ciphertextSize,
		MerkleRoot:     res.root,
		Codec:          sess.cfg.Codec,
		StartedAt:      sess.createdAt,
		SealedAt:       o.clk.Now(),
	})
	if err != nil {
		o.terminate(sess, StateFailed, &PipelineError{Category: CategoryMerkle, Err: err})
		return
	}
	if o.signer != nil {
		if err := o.signer.Sign(m); err != nil {
			o.terminate(sess, StateFailed, &PipelineError{Category: CategoryMerkle, Err: err})
			return
		}
	}

	if err := o.manifests.Write(m); err != nil {
		o.terminate(sess, StateFailed, &PipelineError{Category: CategoryStorage, Err: err})
		return
	}
	if err := o.index.RecordSeal(o.ctx, m); err != nil {
		o.terminate(sess, StateFailed, &PipelineError{Category: CategoryStorage, Err: err})
		return
	}

	// Encryption is finished; playback re-derives the key on demand.
	o.keys.DropSession(sess.id)

	sess.mu.Lock()
	sess.state = StateAnchorPending
	sess.manifest = m
	sess.anchorInFlight = true
	sess.mu.Unlock()

	o.mu.Lock()
	o.stats.Sealed++
	o.mu.Unlock()

	o.logger.Info("session sealed",
		"session", sess.id,
		"chunks", res.chunkCount,
		"plaintext_size", res.plaintextSize,
		"ciphertext_size", res.ciphertextSize,
		"merkle_root", res.root,
		"manifest_hash", m.Hash)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.anchorSession(sess, m)
	}()
}

// anchorSession drives one manifest through the anchor client with
// the session's retry limit. Transport exhaustion leaves the session
// anchor_pending for the sweep; only a chain rejection fails it.
func (o *Orchestrator) anchorSession(sess *session, m *manifest.Manifest) {
	defer func() {
		sess.mu.Lock()
		sess.anchorInFlight = false
		sess.mu.Unlock()
	}()

	client := o.anchors
	if sess.cfg.AnchorRetryLimit > 0 {
		client = client.WithRetryLimit(sess.cfg.AnchorRetryLimit)
	}

	rec, err := client.Anchor(o.ctx, m)
	switch {
	case err == nil && rec != nil && rec.Status == manifest.AnchorConfirmed:
		o.markAnchored(o.ctx, sess.id)
	case errors.Is(err, anchor.ErrChainRejected):
		o.terminate(sess, StateFailed, &PipelineError{Category: CategoryAnchor, Err: err})
	case errors.Is(err, anchor.ErrRetryExhausted):
		o.logger.Warn("anchor attempts exhausted, session stays pending for sweep",
			"session", sess.id, "error", err)
	case err != nil:
		o.logger.Warn("anchoring interrupted", "session", sess.id, "error", err)
	}
}

// markAnchored records anchor confirmation for a session that may or
// may not be resident.
func (o *Orchestrator) markAnchored(ctx context.Context, id ID) {
	o.mu.Lock()
	sess := o.sessions[id]
	o.mu.Unlock()

	if sess != nil {
		sess.mu.Lock()
		if sess.state != StateAnchorPending {
			sess.mu.Unlock()
			return
		}
		sess.state = StateAnchored
		sess.mu.Unlock()
	}

	if err := o.index.UpdateState(ctx, id, StateAnchored); err != nil {
		o.logger.Error("updating session state", "session", id, "error", err)
	}

	o.mu.Lock()
	o.stats.Anchored++
	o.mu.Unlock()

	o.logger.Info("session anchored", "session", id)
}

// Status reports a session's current state: from memory for resident
// sessions, from the index for sessions recorded by earlier runs.
func (o *Orchestrator) Status(ctx context.Context, id ID) (StatusInfo, error) {
	o.mu.Lock()
	sess := o.sessions[id]
	o.mu.Unlock()

	if sess == nil {
		row, err := o.index.GetSession(ctx, id)
		if err != nil {
			return StatusInfo{}, err
		}
		return row.statusInfo(), nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	info := StatusInfo{
		ID:        sess.id,
		Owner:     sess.owner,
		State:     sess.state,
		CreatedAt: sess.createdAt,
		ExpiresAt: sess.expiresAt,
	}
	if sess.manifest != nil {
		info.ChunkCount = sess.manifest.ChunkCount
		info.PlaintextSize = sess.manifest.PlaintextSize
		info.CiphertextSize = sess.manifest.CiphertextSize
		info.SealedAt = sess.manifest.SealedAt()
		info.ManifestHash = sess.manifest.Hash
	}
	if sess.failure != nil {
		info.ErrorCategory = sess.failure.Category
		info.ErrorMessage = sess.failure.Err.Error()
	}
	return info, nil
}

// statusInfo maps a durable row to the external status shape.
func (r *Row) statusInfo() StatusInfo {
	info := StatusInfo{
		ID:             r.ID,
		Owner:          r.Owner,
		State:          r.State,
		ChunkCount:     r.ChunkCount,
		PlaintextSize:  r.PlaintextSize,
		CiphertextSize: r.CiphertextSize,
		CreatedAt:      time.Unix(0, r.CreatedAtUnixNano).UTC(),
		ExpiresAt:      time.Unix(0, r.ExpiresAtUnixNano).UTC(),
		ErrorCategory:  r.ErrorCategory,
		ErrorMessage:   r.ErrorMessage,
	}
	if r.SealedAtUnixNano != 0 {
		info.SealedAt = time.Unix(0, r.SealedAtUnixNano).UTC()
	}
	return info
}

// Manifest returns a sealed session's manifest: from memory when
// resident, from the manifest store otherwise.
func (o *Orchestrator) Manifest(ctx context.Context, id ID) (*manifest.Manifest, error) {
	o.mu.Lock()
	sess := o.sessions[id]
	o.mu.Unlock()

	if sess != nil {
		sess.mu.Lock()
		m := sess.manifest
		state := sess.state
		sess.mu.Unlock()
		if m == nil {
			return nil, Errorf(CategoryInput, "session %s is %s, not sealed", id, state)
		}
		return m, nil
	}

	m, err := o.manifests.Read(id)
	if err != nil {
		if errors.Is(err, manifest.ErrNotFound) {
			// Distinguish "no such session" from "exists, unsealed".
			if _, rowErr := o.index.GetSession(ctx, id); rowErr != nil {
				return nil, rowErr
			}
			return nil, Errorf(CategoryInput, "session %s is not sealed", id)
		}
		return nil, wrap(CategoryStorage, err)
	}
	return m, nil
}

// ProofInfo is an inclusion proof bundle: everything a verifier needs
// to check one chunk against the anchored root.
type ProofInfo struct {
	SessionID  ID           `json:"session_id"`
	ChunkIndex uint64       `json:"chunk_index"`
	Leaf       merkle.Hash  `json:"leaf"`
	Root       merkle.Hash  `json:"merkle_root"`
	Proof      merkle.Proof `json:"proof"`
}

// Proof builds the inclusion proof for one chunk of a sealed session
// by replaying the stored ciphertext hashes in index order.
func (o *Orchestrator) Proof(ctx context.Context, id ID, index uint64) (ProofInfo, error) {
	m, err := o.Manifest(ctx, id)
	if err != nil {
		return ProofInfo{}, err
	}
	if index >= m.ChunkCount {
		return ProofInfo{}, Errorf(CategoryInput, "chunk index %d out of range, session %s has %d chunks", index, id, m.ChunkCount)
	}

	leaves := make([]merkle.Hash, m.ChunkCount)
	for i := uint64(0); i < m.ChunkCount; i++ {
		rec, err := o.chunks.Get(ctx, id, i)
		if err != nil {
			return ProofInfo{}, wrap(CategoryStorage, fmt.Errorf("loading chunk %d: %w", i, err))
		}
		leaves[i] = rec.CipherHash
	}

	proof, err := merkle.BuildProof(leaves, int(index))
	if err != nil {
		return ProofInfo{}, wrap(CategoryMerkle, err)
	}
	return ProofInfo{
		SessionID:  id,
		ChunkIndex: index,
		Leaf:       leaves[index],
		Root:       m.MerkleRoot,
		Proof:      proof,
	}, nil
}

// Abort cancels an unsealed session: input stops, queued work is
// discarded, the cached key is zeroized after the pipeline unwinds,
// and the session is terminally failed.
func (o *Orchestrator) Abort(ctx context.Context, id ID, reason string) error {
	sess, err := o.lookupActive(ctx, id)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	state := sess.state
	sess.mu.Unlock()
	switch {
	case state.Terminal():
		return Errorf(CategoryInput, "session %s is already %s", id, state)
	case state.Sealed():
		return Errorf(CategoryInput, "session %s is already sealed", id)
	}

	o.terminate(sess, StateFailed, Errorf(CategoryInput, "aborted: %s", reason))
	o.logger.Info("session aborted", "session", id, "reason", reason)
	return nil
}

// Stats returns the orchestrator counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	stats := o.stats
	stats.Active = o.activeLocked()
	return stats
}

// activeLocked counts resident non-terminal sessions. Caller holds
// o.mu.
func (o *Orchestrator) activeLocked() int {
	active := 0
	for _, sess := range o.sessions {
		sess.mu.Lock()
		if !sess.state.Terminal() {
			active++
		}
		sess.mu.Unlock()
	}
	return active
}

// lookupActive finds a resident session. For ids that exist only in
// the index (created by an earlier run), the returned error says so;
// a recording cannot continue across a restart.
func (o *Orchestrator) lookupActive(ctx context.Context, id ID) (*session, error) {
	o.mu.Lock()
	sess := o.sessions[id]
	o.mu.Unlock()
	if sess != nil {
		return sess, nil
	}

	row, err := o.index.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, Errorf(CategoryInput, "session %s is not active (state %s)", id, row.State)
}

// terminate moves a session to a terminal state. The first terminal
// transition wins; later calls are no-ops. The cached key is dropped
// only after the pipeline has fully unwound, because stages read it
// until then.
func (o *Orchestrator) terminate(sess *session, target State, perr *PipelineError) {
	sess.mu.Lock()
	if sess.state.Terminal() {
		sess.mu.Unlock()
		return
	}
	sess.state = target
	sess.failure = perr
	pipe := sess.pipeline
	sess.mu.Unlock()

	if pipe != nil {
		pipe.cancel()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if pipe != nil {
			<-pipe.done
		}
		o.keys.DropSession(sess.id)
	}()

	category := Category("")
	message := ""
	if perr != nil {
		category = perr.Category
		message = perr.Err.Error()
	}
	if err := o.index.RecordFailure(o.ctx, sess.id, target, category, message); err != nil {
		o.logger.Error("recording session failure", "session", sess.id, "error", err)
	}

	o.mu.Lock()
	switch target {
	case StateFailed:
		o.stats.Failed++
	case StateExpired:
		o.stats.Expired++
	}
	o.mu.Unlock()

	o.logger.Warn("session terminated",
		"session", sess.id,
		"state", target,
		"category", category,
		"error", message)
}

// asPipelineError returns err's PipelineError, or wraps it as a
// merkle-category error (the only caller is the sealer's finalize
// path, where unclassified errors are builder bugs).
func asPipelineError(err error) *PipelineError {
	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr
	}
	return &PipelineError{Category: CategoryMerkle, Err: err}
}
