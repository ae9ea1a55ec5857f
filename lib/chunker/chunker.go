// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package chunker

import (
	"errors"
	"fmt"

	"github.com/capstan-io/capstan/lib/merkle"
)

// ErrFlushed is returned by Append and Flush after Flush has been
// called. A chunker serves exactly one stream; once the final chunk
// is sealed there is nothing left to accept.
var ErrFlushed = errors.New("chunker: stream already flushed")

// Sealed is one sealed window handed downstream for encryption: the
// payload to encrypt plus everything the pipeline needs to record
// about the original bytes.
type Sealed struct {
	// Index is the chunk's position in the session, contiguous from 0.
	Index uint64

	// Payload is the bytes to encrypt: the compressed window, or the
	// raw window when PayloadCodec is CodecNone. Always an owned
	// allocation, never a view into the chunker's buffer.
	Payload []byte

	// PayloadCodec is the codec actually applied. It differs from the
	// configured codec when compression did not shrink the window and
	// the payload was stored raw.
	PayloadCodec Codec

	// PlaintextSize is the raw window length before compression.
	PlaintextSize int

	// PlainHash is the plain-domain hash of the raw window, computed
	// before compression. Playback verifies decompressed bytes
	// against it.
	PlainHash merkle.Hash
}

// Chunker accumulates one session's capture bytes and seals them into
// fixed-size windows. Not safe for concurrent use: the per-session
// pipeline feeds it from a single goroutine.
type Chunker struct {
	windowSize int
	codec      Codec
	level      int

	buffer  []byte
	next    uint64
	flushed bool
}

// New returns a Chunker that seals a window every windowSize bytes
// and compresses each window with codec at the given level.
func New(windowSize int, codec Codec, level int) (*Chunker, error) {
	if windowSize <= 0 {
		return nil, fmt.Errorf("chunker: window size %d must be positive", windowSize)
	}
	if err := codec.ValidateLevel(level); err != nil {
		return nil, fmt.Errorf("chunker: %w", err)
	}
	return &Chunker{
		windowSize: windowSize,
		codec:      codec,
		level:      level,
		buffer:     make([]byte, 0, windowSize),
	}, nil
}

// Append adds capture bytes to the rolling buffer and returns the
// chunks sealed as a result: zero when the buffer has not reached
// the window size, several when a single call spans multiple windows.
// A compression failure aborts mid-call; the chunker must not be used
// afterwards (the session is failed).
func (c *Chunker) Append(p []byte) ([]Sealed, error) {
	if c.flushed {
		return nil, ErrFlushed
	}

	var sealed []Sealed
	for len(p) > 0 {
		take := min(c.windowSize-len(c.buffer), len(p))
		c.buffer = append(c.buffer, p[:take]...)
		p = p[take:]

		if len(c.buffer) == c.windowSize {
			chunk, err := c.seal()
			if err != nil {
				return nil, err
			}
			sealed = append(sealed, chunk)
		}
	}
	return sealed, nil
}

// Flush seals any remaining buffered bytes as the final chunk and
// retires the chunker. Returns nil when the buffer is empty: a stream
// that ends exactly on a window boundary (or that never produced
// bytes) has no short final chunk.
func (c *Chunker) Flush() (*Sealed, error) {
	if c.flushed {
		return nil, ErrFlushed
	}
	c.flushed = true

	if len(c.buffer) == 0 {
		return nil, nil
	}
	chunk, err := c.seal()
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

// Buffered returns the number of bytes accumulated toward the next
// window.
func (c *Chunker) Buffered() int {
	return len(c.buffer)
}

// NextIndex returns the index the next sealed chunk will receive,
// which equals the number of chunks sealed so far.
func (c *Chunker) NextIndex() uint64 {
	return c.next
}

// seal compresses the buffered window, assigns the next index, and
// resets the buffer. The plain hash is computed before compression so
// playback can verify the decompressed bytes independently of the
// codec.
func (c *Chunker) seal() (Sealed, error) {
	window := c.buffer

	sealed := Sealed{
		Index:         c.next,
		PayloadCodec:  c.codec,
		PlaintextSize: len(window),
		PlainHash:     merkle.HashPlaintext(window),
	}

	payload, err := Compress(window, c.codec, c.level)
	if err != nil {
		if !IsIncompressible(err) {
			return Sealed{}, fmt.Errorf("sealing chunk %d: %w", c.next, err)
		}
		sealed.PayloadCodec = CodecNone
		payload = window
	}

	// CodecNone payloads (configured or fallback) alias the rolling
	// buffer, which is about to be reused. Give the chunk its own
	// allocation.
	if sealed.PayloadCodec == CodecNone {
		payload = append([]byte(nil), payload...)
	}
	sealed.Payload = payload

	c.next++
	c.buffer = c.buffer[:0]
	return sealed, nil
}
