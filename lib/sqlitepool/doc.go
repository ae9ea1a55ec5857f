// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the Capstan-standard SQLite connection
// pool.
//
// The session service keeps its operational index (session rows plus
// their anchor records) in a local SQLite database. This package wraps
// zombiezen.com/go/sqlite with the pragmas that index needs: WAL
// journal mode, NORMAL synchronous, busy timeout for write contention,
// and foreign keys ON so anchor records cannot outlive their session
// rows.
//
// Underneath sits sqlitex.Pool with its fixed-size connection set:
// [Pool.Take] a connection, work, [Pool.Put] it back. A connection is
// never shared between goroutines while borrowed.
//
// # Connection pragmas
//
// Each fresh connection runs the same pragma set before anything else:
//
//   - journal_mode=WAL keeps readers unblocked while the orchestrator
//     writes state transitions.
//   - synchronous=NORMAL: a process crash cannot lose a committed
//     transaction, though an ill-timed power cut can. The index is
//     reconciled against the manifest store on startup, so that trade
//     is acceptable. Chunk records and manifests live in their own
//     stores and are never at risk here.
//   - busy_timeout=5000 retries a contended write lock for five
//     seconds rather than surfacing SQLITE_BUSY to callers.
//   - foreign_keys=ON: anchor records reference session rows with
//     ON DELETE CASCADE, so retention deletes stay one statement.
//   - cache_size=-4096 gives each connection a 4 MB page cache; the
//     index is small and its hot set fits.
//   - temp_store=MEMORY keeps sort and temp structures off disk.
//
// # Usage
//
//	idx, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   cfg.Paths.Index,
//	    Logger: log,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, indexSchema, nil)
//	    },
//	})
//
// Borrow with [Pool.Take], return with [Pool.Put], [Pool.Close] on
// shutdown. OnConnect is where the schema goes; it runs on every fresh
// connection, so scripts must be idempotent (CREATE TABLE IF NOT
// EXISTS).
//
// # Design
//
// Deliberately thin. The zombiezen types pass through unwrapped:
// callers write their own SQL, cache statements with sqlitex.Execute,
// and open transactions with sqlitex.ImmediateTransaction. What the
// package standardizes is exactly the part that must not drift between
// call sites, the pragma set and the pool discipline.
package sqlitepool
