// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Every connection gets the same pragmas before first use: WAL so
// readers proceed during writes, NORMAL sync (durable at checkpoint,
// which WAL makes safe), a 5s busy handler instead of immediate
// SQLITE_BUSY, enforced foreign keys, a 4 MiB page cache, and
// memory-backed temp tables.
var connPragmas = [...]string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
	"PRAGMA cache_size=-4096",
	"PRAGMA temp_store=MEMORY",
}

// Config parameterizes Open. Path is required, the rest defaults.
type Config struct {
	// Path is the SQLite database file, created on first open. The
	// parent directory must already exist. ":memory:" works for
	// tests, with PoolSize 1 since each in-memory connection is its
	// own database.
	Path string

	// PoolSize caps open connections. Zero or negative means
	// max(runtime.NumCPU(), 4). SQLite serializes writes regardless,
	// so extra connections only help concurrent readers (status
	// queries, sweeps).
	PoolSize int

	// Logger receives open/close events. Nil discards them.
	Logger *slog.Logger

	// OnConnect runs once per connection after the standard pragmas,
	// for schema creation or extra pragmas. An error discards the
	// connection and surfaces from Take.
	OnConnect func(conn *sqlite.Conn) error
}

// Pool hands out SQLite connections with Capstan's standard pragmas
// applied. The pool is safe for concurrent use; a borrowed connection
// belongs to one goroutine until returned with Put.
type Pool struct {
	db   *sqlitex.Pool
	log  *slog.Logger
	path string
}

// Open creates the pool. Connections are dialed and prepared lazily,
// so a broken OnConnect shows up at the first Take rather than here.
func Open(cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitepool: Path is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	size := cfg.PoolSize
	if size <= 0 {
		size = max(runtime.NumCPU(), 4)
	}

	db, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: size,
		PrepareConn: func(conn *sqlite.Conn) error {
			for _, pragma := range connPragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("sqlitepool: applying %s: %w", pragma, err)
				}
			}
			if cfg.OnConnect == nil {
				return nil
			}
			if err := cfg.OnConnect(conn); err != nil {
				return fmt.Errorf("sqlitepool: OnConnect hook: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: open %s: %w", cfg.Path, err)
	}

	log.Info("opened sqlite pool", "path", cfg.Path, "pool_size", size)
	return &Pool{db: db, log: log, path: cfg.Path}, nil
}

// Take borrows a connection, blocking until one frees up or ctx is
// cancelled. The connection belongs to the calling goroutine until
// handed back with Put; defer the Put at the borrow site.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.db.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns conn to the pool. Nil is a no-op. The connection must
// not be used afterwards.
func (p *Pool) Put(conn *sqlite.Conn) { p.db.Put(conn) }

// Close blocks until every borrowed connection is returned, then
// closes them all. Take fails after Close.
func (p *Pool) Close() error {
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("sqlitepool: close %s: %w", p.path, err)
	}
	p.log.Info("closed sqlite pool", "path", p.path)
	return nil
}
