// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/capstan-io/capstan/lib/chunker"
	"github.com/capstan-io/capstan/lib/chunkstore"
	"github.com/capstan-io/capstan/lib/merkle"
	"github.com/capstan-io/capstan/lib/seal"
	"github.com/capstan-io/capstan/lib/secret"
)

// Stage channel capacities. The sealed and record queues hold full
// chunk windows (up to ChunkMax bytes each), so their depth bounds
// the pipeline's memory: at most a handful of windows per session are
// in flight between a slow disk and the caller. Leaf hashes are 32
// bytes; their queue can run deeper.
const (
	inputQueueDepth  = 4
	windowQueueDepth = 2
	leafQueueDepth   = 16
)

// indexedLeaf is a ciphertext hash on its way to the Merkle appender.
type indexedLeaf struct {
	index uint64
	hash  merkle.Hash
}

// result carries the drained pipeline's totals to the sealer.
type result struct {
	chunkCount     uint64
	plaintextSize  int64
	ciphertextSize int64
	root           merkle.Hash
}

// pipeline is one session's recording dataflow: four stage goroutines
// (chunk, encrypt, store, merkle) connected by bounded channels.
// Bytes flow in through submit; closeInput is the end-of-stream
// barrier; done closes when every stage has drained.
//
// The first stage error wins: it is recorded, the pipeline context is
// cancelled, and every stage unwinds. After done, failure() returns
// the recorded error and finalize() is only valid when there is none.
type pipeline struct {
	sessionID ID
	key       *secret.Buffer
	store     chunkstore.Store
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	input chan []byte
	done  chan struct{}

	// inputMu serializes senders against closeInput: submit holds the
	// read side across its send so the channel cannot close under a
	// blocked sender.
	inputMu     sync.RWMutex
	inputClosed bool

	mu  sync.Mutex
	err *PipelineError

	// Stage-owned until done closes; the sealer reads them after.
	chunker        *chunker.Chunker
	builder        *merkle.Builder
	plaintextSize  int64
	ciphertextSize int64
}

// newPipeline starts a pipeline for one session. The key is borrowed
// from the key set; the pipeline never closes it, and the caller
// must not drop it from the key set until done has closed.
func newPipeline(parent context.Context, id ID, cfg Config, key *secret.Buffer, store chunkstore.Store, logger *slog.Logger) (*pipeline, error) {
	chk, err := chunker.New(int(cfg.ChunkMax), cfg.Codec, cfg.CompressionLevel)
	if err != nil {
		return nil, wrap(CategoryInput, err)
	}

	ctx, cancel := context.WithCancel(parent)
	p := &pipeline{
		sessionID: id,
		key:       key,
		store:     store,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		input:     make(chan []byte, inputQueueDepth),
		done:      make(chan struct{}),
		chunker:   chk,
		builder:   merkle.NewBuilder(),
	}
	go p.run()
	return p, nil
}

func (p *pipeline) run() {
	defer close(p.done)

	sealedCh := make(chan chunker.Sealed, windowQueueDepth)
	recordCh := make(chan *chunkstore.Record, windowQueueDepth)
	leafCh := make(chan indexedLeaf, leafQueueDepth)

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		p.chunkStage(sealedCh)
	}()
	go func() {
		defer wg.Done()
		p.encryptStage(sealedCh, recordCh, leafCh)
	}()
	go func() {
		defer wg.Done()
		p.storeStage(recordCh)
	}()
	go func() {
		defer wg.Done()
		p.merkleStage(leafCh)
	}()
	wg.Wait()
}

// submit hands capture bytes to the chunk stage, blocking when the
// pipeline is saturated (backpressure). The pipeline takes ownership
// of data.
func (p *pipeline) submit(ctx context.Context, data []byte) error {
	p.inputMu.RLock()
	defer p.inputMu.RUnlock()
	if p.inputClosed {
		return Errorf(CategoryInput, "session %s: input already closed", p.sessionID)
	}
	select {
	case p.input <- data:
		return nil
	case <-p.ctx.Done():
		if perr := p.failure(); perr != nil {
			return perr
		}
		return Errorf(CategoryInput, "session %s: pipeline is shut down", p.sessionID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// closeInput signals end of stream. Safe against concurrent submits:
// it waits for in-flight sends to land, so every accepted byte is in
// the queue before the chunk stage sees end of input.
func (p *pipeline) closeInput() {
	p.inputMu.Lock()
	defer p.inputMu.Unlock()
	if p.inputClosed {
		return
	}
	p.inputClosed = true
	close(p.input)
}

// failure returns the first stage error, or nil. Stable once done has
// closed.
func (p *pipeline) failure() *PipelineError {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// fail records the first error and unwinds every stage.
func (p *pipeline) fail(category Category, err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = &PipelineError{Category: category, Err: err}
	}
	p.mu.Unlock()
	p.cancel()
}

// cancelled reports whether the pipeline was torn down (shutdown,
// expiry, abort) without a stage recording an error of its own.
func (p *pipeline) cancelled() bool {
	return p.ctx.Err() != nil && p.failure() == nil
}

// finalize computes the session totals and the Merkle root. Only
// valid after done has closed with no failure. The leaf count is
// cross-checked against the chunker's sealed count, so a chunk lost
// between stages surfaces here instead of producing a root over a
// truncated sequence.
func (p *pipeline) finalize() (result, error) {
	count := p.chunker.NextIndex()
	res := result{
		chunkCount:     count,
		plaintextSize:  p.plaintextSize,
		ciphertextSize: p.ciphertextSize,
	}
	if count == 0 {
		// A session that never produced a chunk seals with a zero
		// root and an empty tree.
		return res, nil
	}
	root, err := p.builder.Finalize(count)
	if err != nil {
		return result{}, wrap(CategoryMerkle, err)
	}
	res.root = root
	return res, nil
}

// sendStage delivers a value to the next stage unless the pipeline is
// torn down first.
func sendStage[T any](ctx context.Context, ch chan<- T, value T) bool {
	select {
	case ch <- value:
		return true
	case <-ctx.Done():
		return false
	}
}

// chunkStage accumulates capture bytes and emits sealed windows. When
// the input channel closes it flushes the final partial chunk.
func (p *pipeline) chunkStage(sealedCh chan<- chunker.Sealed) {
	defer close(sealedCh)
	for {
		select {
		case data, ok := <-p.input:
			if !ok {
				final, err := p.chunker.Flush()
				if err != nil {
					p.fail(CategoryCompression, fmt.Errorf("flushing final chunk: %w", err))
					return
				}
				if final != nil {
					sendStage(p.ctx, sealedCh, *final)
				}
				return
			}
			chunks, err := p.chunker.Append(data)
			if err != nil {
				p.fail(CategoryCompression, fmt.Errorf("sealing chunk %d: %w", p.chunker.NextIndex(), err))
				return
			}
			for _, chunk := range chunks {
				if !sendStage(p.ctx, sealedCh, chunk) {
					return
				}
			}
		case <-p.ctx.Done():
			return
		}
	}
}

// encryptStage seals each window under the session key and fans the
// products out: the full record to the store writer, the leaf hash to
// the Merkle appender. Single goroutine, so both streams stay in
// index order.
func (p *pipeline) encryptStage(sealedCh <-chan chunker.Sealed, recordCh chan<- *chunkstore.Record, leafCh chan<- indexedLeaf) {
	defer close(recordCh)
	defer close(leafCh)
	for {
		select {
		case chunk, ok := <-sealedCh:
			if !ok {
				return
			}
			encrypted, err := seal.EncryptChunk(p.key, p.sessionID, chunk.Index, chunk.Payload)
			if err != nil {
				p.fail(CategoryEncryption, fmt.Errorf("encrypting chunk %d: %w", chunk.Index, err))
				return
			}
			rec := &chunkstore.Record{
				SessionID:      p.sessionID,
				Index:          chunk.Index,
				PlaintextSize:  int64(chunk.PlaintextSize),
				CompressedSize: int64(len(chunk.Payload)),
				Codec:          chunk.PayloadCodec,
				Ciphertext:     encrypted.Ciphertext,
				Nonce:          encrypted.Nonce,
				Tag:            encrypted.Tag,
				PlainHash:      chunk.PlainHash,
				CipherHash:     encrypted.CipherHash,
			}
			p.plaintextSize += int64(chunk.PlaintextSize)
			p.ciphertextSize += int64(len(encrypted.Ciphertext)) + seal.TagSize
			if !sendStage(p.ctx, recordCh, rec) {
				return
			}
			if !sendStage(p.ctx, leafCh, indexedLeaf{index: chunk.Index, hash: encrypted.CipherHash}) {
				return
			}
		case <-p.ctx.Done():
			return
		}
	}
}

// storeStage persists each record. The store is already retry-wrapped;
// an error surfacing here has exhausted its budget and fails the
// session.
func (p *pipeline) storeStage(recordCh <-chan *chunkstore.Record) {
	for {
		select {
		case rec, ok := <-recordCh:
			if !ok {
				return
			}
			if err := p.store.Put(p.ctx, rec); err != nil {
				p.fail(CategoryStorage, fmt.Errorf("storing chunk %d: %w", rec.Index, err))
				return
			}
			p.logger.Debug("chunk stored",
				"index", rec.Index,
				"plaintext_size", rec.PlaintextSize,
				"stored_size", rec.CompressedSize,
				"codec", rec.Codec.String())
		case <-p.ctx.Done():
			return
		}
	}
}

// merkleStage appends leaf hashes to the streaming tree builder.
// Errors here are ordering or reuse bugs, never user input.
func (p *pipeline) merkleStage(leafCh <-chan indexedLeaf) {
	for {
		select {
		case leaf, ok := <-leafCh:
			if !ok {
				return
			}
			if err := p.builder.Append(leaf.hash); err != nil {
				p.fail(CategoryMerkle, fmt.Errorf("appending leaf %d: %w", leaf.index, err))
				return
			}
		case <-p.ctx.Done():
			return
		}
	}
}
