// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/capstan-io/capstan/lib/chunker"
)

// MaxChunkWindow is the largest permitted chunk window. Bounds the
// per-session buffer: one window is held in memory per pipeline.
const MaxChunkWindow = 64 << 20

// Config is the per-session recording configuration, fixed at
// creation. The zero value is invalid; start from DefaultConfig and
// override fields.
type Config struct {
	// ChunkMin and ChunkMax bound the plaintext window the chunker
	// seals. Every non-final chunk holds exactly ChunkMax bytes;
	// ChunkMin is the floor an operator can lower ChunkMax to.
	ChunkMin int64
	ChunkMax int64

	// Codec compresses each window before encryption.
	// CompressionLevel must be valid for the codec.
	Codec            chunker.Codec
	CompressionLevel int

	// RetentionDays is how long the recorded artifact is kept after
	// anchor confirmation. Zero keeps it forever.
	RetentionDays int

	// AnchorRetryLimit bounds consecutive anchor transport failures
	// before the session parks in anchor_pending for the sweep.
	AnchorRetryLimit int

	// MaxSessionAge is how long the session may stay unsealed before
	// it is expired.
	MaxSessionAge time.Duration
}

// DefaultConfig returns the standard recording configuration: 8–16
// MiB windows, zstd level 3, 30-day retention, 5 anchor attempts,
// 24-hour expiry.
func DefaultConfig() Config {
	return Config{
		ChunkMin:         8 << 20,
		ChunkMax:         16 << 20,
		Codec:            chunker.CodecZstd,
		CompressionLevel: 3,
		RetentionDays:    30,
		AnchorRetryLimit: 5,
		MaxSessionAge:    24 * time.Hour,
	}
}

// Validate checks every field and returns all violations joined.
func (c Config) Validate() error {
	var errs []error

	if c.ChunkMin <= 0 {
		errs = append(errs, fmt.Errorf("chunk min %d must be positive", c.ChunkMin))
	}
	if c.ChunkMax < c.ChunkMin {
		errs = append(errs, fmt.Errorf("chunk max %d below chunk min %d", c.ChunkMax, c.ChunkMin))
	}
	if c.ChunkMax > MaxChunkWindow {
		errs = append(errs, fmt.Errorf("chunk max %d exceeds limit %d", c.ChunkMax, MaxChunkWindow))
	}
	if err := c.Codec.ValidateLevel(c.CompressionLevel); err != nil {
		errs = append(errs, err)
	}
	if c.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("retention days %d must not be negative", c.RetentionDays))
	}
	if c.AnchorRetryLimit < 1 {
		errs = append(errs, fmt.Errorf("anchor retry limit %d must be at least 1", c.AnchorRetryLimit))
	}
	if c.MaxSessionAge <= 0 {
		errs = append(errs, fmt.Errorf("max session age %v must be positive", c.MaxSessionAge))
	}

	return errors.Join(errs...)
}
