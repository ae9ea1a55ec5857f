// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/capstan-io/capstan/lib/codec"
)

// ErrNotFound is returned by Read when no manifest has been stored
// for the session.
var ErrNotFound = errors.New("manifest not found")

// Store persists manifests as sharded CBOR files:
//
//	<root>/<hex[:2]>/<hex[2:4]>/<session id>.cbor
//
// Two shard levels keep directory fan-out bounded with hundreds of
// thousands of sessions. Writes are atomic via temp file and rename.
//
// Store is safe for concurrent reads. Each session's manifest is
// written once, at seal time, by that session's pipeline goroutine.
type Store struct {
	root string
}

// NewStore creates a Store rooted at the given directory, creating it
// if it does not exist.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating manifest directory %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

func (s *Store) path(id SessionID) string {
	hexID := id.String()
	return filepath.Join(s.root, hexID[:2], hexID[2:4], hexID+".cbor")
}

// Write atomically persists a manifest. The file is written to a
// temporary location first, then renamed to the final sharded path,
// so readers never see a partially-written manifest.
func (s *Store) Write(m *Manifest) error {
	data, err := codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding manifest for session %s: %w", m.SessionID, err)
	}

	finalPath := s.path(m.SessionID)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("creating manifest shard directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(s.root, "manifest-*.cbor")
	if err != nil {
		return fmt.Errorf("creating temp manifest file: %w", err)
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
		return fmt.Errorf("writing manifest for session %s: %w", m.SessionID, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp manifest file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming manifest to %s: %w", finalPath, err)
	}

	success = true
	return nil
}

// Read loads the manifest for the given session. Returns an error
// wrapping ErrNotFound if the session has no stored manifest.
func (s *Store) Read(id SessionID) (*Manifest, error) {
	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest for session %s: %w", id, err)
	}

	var m Manifest
	if err := codec.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest for session %s: %w", id, err)
	}
	return &m, nil
}

// Delete removes the manifest file for the given session. Returns nil
// if the file was removed or did not exist.
func (s *Store) Delete(id SessionID) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing manifest for session %s: %w", id, err)
	}
	return nil
}

// ScanAll walks the store and decodes every manifest. Called once at
// service startup to reconcile the session index against the durable
// record; the manifest count is bounded by retention, so a full
// decode pass stays cheap.
func (s *Store) ScanAll() ([]*Manifest, error) {
	var manifests []*Manifest

	err := filepath.WalkDir(s.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".cbor") {
			return nil
		}
		// Skip files whose names do not parse as session ids: temp
		// files left by a crash mid-Write are not manifests.
		id, err := ParseSessionID(strings.TrimSuffix(name, ".cbor"))
		if err != nil {
			return nil
		}

		m, err := s.Read(id)
		if err != nil {
			return err
		}
		manifests = append(manifests, m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning manifest store: %w", err)
	}

	return manifests, nil
}
