// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
)

// Category classifies a pipeline failure by the stage that produced
// it. The category determines handling: input errors reject the call
// and leave the session untouched; compression and encryption errors
// are fatal with no retry (retrying a half-compressed buffer or a
// used nonce risks corrupting the artifact); storage errors have
// already been retried by the store wrapper when they surface here,
// so they are fatal too; merkle errors indicate a bug, never user
// input; anchor errors exhaust into a durable anchor_pending state,
// never a failed one.
type Category string

const (
	CategoryInput       Category = "input"
	CategoryCompression Category = "compression"
	CategoryEncryption  Category = "encryption"
	CategoryStorage     Category = "storage"
	CategoryMerkle      Category = "merkle"
	CategoryAnchor      Category = "anchor"
)

// ErrUnknownSession is wrapped by lookups for session ids the
// orchestrator has never seen (or has purged). Handlers map it to a
// not-found response with errors.Is.
var ErrUnknownSession = errors.New("unknown session")

// PipelineError is a categorized pipeline failure. It wraps the
// underlying error, so errors.Is and errors.As see through it.
type PipelineError struct {
	Category Category
	Err      error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Errorf builds a categorized error the way fmt.Errorf builds a plain
// one, including %w wrapping.
func Errorf(category Category, format string, args ...any) *PipelineError {
	return &PipelineError{Category: category, Err: fmt.Errorf(format, args...)}
}

// wrap categorizes an existing error. A nil error stays nil; an error
// that is already a PipelineError keeps its original category; the
// stage closest to the failure classified it best.
func wrap(category Category, err error) error {
	if err == nil {
		return nil
	}
	var perr *PipelineError
	if errors.As(err, &perr) {
		return err
	}
	return &PipelineError{Category: category, Err: err}
}

// CategoryOf extracts the category from an error chain. Returns the
// empty category when no PipelineError is present.
func CategoryOf(err error) Category {
	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr.Category
	}
	return ""
}
