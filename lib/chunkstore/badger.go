// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/capstan-io/capstan/lib/codec"
)

// chunkKeyPrefix namespaces chunk records within the badger keyspace,
// leaving room for other record types in the same database.
const chunkKeyPrefix = "chunk/"

// chunkKey builds the badger key for one record:
//
//	chunk/<hex session id>/<8-byte big-endian index>
//
// The big-endian index makes keys sort in index order, so iterating a
// session's prefix visits chunks 0, 1, 2, ... without sorting.
func chunkKey(sessionID [16]byte, index uint64) []byte {
	key := sessionKeyPrefix(sessionID)
	return binary.BigEndian.AppendUint64(key, index)
}

// sessionKeyPrefix returns the key prefix shared by every chunk of a
// session: chunk/<hex session id>/.
func sessionKeyPrefix(sessionID [16]byte) []byte {
	key := make([]byte, 0, len(chunkKeyPrefix)+2*len(sessionID)+1+8)
	key = append(key, chunkKeyPrefix...)
	key = hex.AppendEncode(key, sessionID[:])
	return append(key, '/')
}

// BadgerStore persists chunk records in an embedded badger database.
// This is the service backend: all sessions share one database, and
// badger handles concurrent readers and writers internally.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// OpenBadger opens (creating if necessary) a badger database at the
// given directory and returns a chunk store backed by it.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening chunk store at %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

// Put persists a record, overwriting any existing record for the same
// (session, index).
func (s *BadgerStore) Put(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := codec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding chunk %x/%d: %w", rec.SessionID, rec.Index, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(chunkKey(rec.SessionID, rec.Index), data)
	})
	if err != nil {
		return fmt.Errorf("storing chunk %x/%d: %w", rec.SessionID, rec.Index, err)
	}
	return nil
}

// Get loads the record for the given session and chunk index.
func (s *BadgerStore) Get(ctx context.Context, sessionID [16]byte, index uint64) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(chunkKey(sessionID, index))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("chunk %x/%d: %w", sessionID, index, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading chunk %x/%d: %w", sessionID, index, err)
	}
	var rec Record
	if err := codec.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding chunk %x/%d: %w", sessionID, index, err)
	}
	return &rec, nil
}

// Count returns the number of records stored for the session. It
// iterates keys only; record values are never fetched.
func (s *BadgerStore) Count(ctx context.Context, sessionID [16]byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var count uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = sessionKeyPrefix(sessionID)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting chunks for session %x: %w", sessionID, err)
	}
	return count, nil
}

// Delete removes every record for the session. Keys are collected in
// a read transaction and deleted through a write batch, so sessions
// with many chunks do not overflow a single transaction.
func (s *BadgerStore) Delete(ctx context.Context, sessionID [16]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = sessionKeyPrefix(sessionID)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("listing chunks for session %x: %w", sessionID, err)
	}
	if len(keys) == 0 {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("deleting chunks for session %x: %w", sessionID, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("deleting chunks for session %x: %w", sessionID, err)
	}
	return nil
}

// Close flushes and closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
