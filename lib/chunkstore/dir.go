// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/capstan-io/capstan/lib/codec"
)

// DirStore persists chunk records as sharded CBOR files:
//
//	<root>/<hex[:2]>/<hex session id>/<index>.cbor
//
// The two-level layout keeps directory fan-out bounded, and one
// directory per session means a whole session can be handed to an
// auditor (or deleted) as a unit. Writes are atomic via temp file and
// rename, so readers never observe a partially-written record.
//
// DirStore is safe for concurrent reads. Concurrent writes to the
// same (session, index) race on the rename; the pipeline writes each
// index from a single goroutine, so this does not arise in practice.
type DirStore struct {
	root string
}

var _ Store = (*DirStore)(nil)

// OpenDir creates a DirStore rooted at the given directory, creating
// it if it does not exist.
func OpenDir(root string) (*DirStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating chunk store directory %s: %w", root, err)
	}
	return &DirStore{root: root}, nil
}

// sessionDir returns the directory holding all of one session's
// chunk files.
func (s *DirStore) sessionDir(sessionID [16]byte) string {
	hexID := hex.EncodeToString(sessionID[:])
	return filepath.Join(s.root, hexID[:2], hexID)
}

func (s *DirStore) recordPath(sessionID [16]byte, index uint64) string {
	return filepath.Join(s.sessionDir(sessionID), fmt.Sprintf("%d.cbor", index))
}

// Put atomically persists a record. The file is written to a
// temporary location first, then renamed into place.
func (s *DirStore) Put(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := codec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding chunk %x/%d: %w", rec.SessionID, rec.Index, err)
	}

	finalPath := s.recordPath(rec.SessionID, rec.Index)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(s.root, "chunk-*.cbor")
	if err != nil {
		return fmt.Errorf("creating temp chunk file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing chunk %x/%d: %w", rec.SessionID, rec.Index, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp chunk file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming chunk to %s: %w", finalPath, err)
	}

	success = true
	return nil
}

// Get loads the record for the given session and chunk index.
func (s *DirStore) Get(ctx context.Context, sessionID [16]byte, index uint64) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.recordPath(sessionID, index))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("chunk %x/%d: %w", sessionID, index, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading chunk %x/%d: %w", sessionID, index, err)
	}
	var rec Record
	if err := codec.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding chunk %x/%d: %w", sessionID, index, err)
	}
	return &rec, nil
}

// Count returns the number of chunk files in the session's directory.
func (s *DirStore) Count(ctx context.Context, sessionID [16]byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(s.sessionDir(sessionID))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("counting chunks for session %x: %w", sessionID, err)
	}
	var count uint64
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".cbor") {
			count++
		}
	}
	return count, nil
}

// Delete removes the session's directory and everything in it.
// Returns nil if the session has no records.
func (s *DirStore) Delete(ctx context.Context, sessionID [16]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		return fmt.Errorf("deleting chunks for session %x: %w", sessionID, err)
	}
	return nil
}

// Close is a no-op: DirStore holds no open resources between calls.
func (s *DirStore) Close() error {
	return nil
}
