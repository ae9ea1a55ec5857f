// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/capstan-io/capstan/lib/chunker"
	"github.com/capstan-io/capstan/lib/manifest"
	"github.com/capstan-io/capstan/lib/merkle"
	"github.com/capstan-io/capstan/lib/sqlitepool"
)

// indexSchema creates the session and anchor tables. Applied on every
// connection; IF NOT EXISTS makes it idempotent.
//
// Timestamps are Unix nanoseconds; zero means "not yet". Hashes and
// session ids are stored in their hex text forms so the tables read
// cleanly in the sqlite3 shell during an investigation.
const indexSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id              TEXT PRIMARY KEY,
	owner           TEXT NOT NULL,
	state           TEXT NOT NULL,
	codec           TEXT NOT NULL,
	retention_days  INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	expires_at      INTEGER NOT NULL,
	sealed_at       INTEGER NOT NULL DEFAULT 0,
	chunk_count     INTEGER NOT NULL DEFAULT 0,
	plaintext_size  INTEGER NOT NULL DEFAULT 0,
	ciphertext_size INTEGER NOT NULL DEFAULT 0,
	error_category  TEXT NOT NULL DEFAULT '',
	error_message   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

CREATE TABLE IF NOT EXISTS anchors (
	manifest_hash TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	tx_ref        TEXT NOT NULL DEFAULT '',
	attempts      INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	submitted_at  INTEGER NOT NULL DEFAULT 0,
	confirmed_at  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_anchors_status ON anchors(status);
CREATE INDEX IF NOT EXISTS idx_anchors_session ON anchors(session_id);
`

// Row is one session's durable metadata. The index is derived state:
// the manifest store and chunk store hold the artifact, the row holds
// what operators and the recovery sweep need to find it.
type Row struct {
	ID                ID
	Owner             string
	State             State
	Codec             chunker.Codec
	RetentionDays     int
	CreatedAtUnixNano int64
	ExpiresAtUnixNano int64
	SealedAtUnixNano  int64
	ChunkCount        uint64
	PlaintextSize     int64
	CiphertextSize    int64
	ErrorCategory     Category
	ErrorMessage      string
}

// Index is the SQLite session and anchor index. It implements
// anchor.RecordStore, so the anchor client writes its durable records
// through the same database the sweep queries.
//
// Safe for concurrent use; connections come from a pool.
type Index struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// IndexConfig holds the parameters for opening a session index.
type IndexConfig struct {
	// Path is the SQLite database file. The parent directory must
	// exist. Required.
	Path string

	// PoolSize is the connection pool size. Defaults to 4.
	PoolSize int

	// Logger receives operational messages.
	Logger *slog.Logger
}

// OpenIndex opens (creating if necessary) the session index.
func OpenIndex(cfg IndexConfig) (*Index, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, indexSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("session index: %w", err)
	}
	return &Index{pool: pool, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (x *Index) Close() error {
	return x.pool.Close()
}

// InsertSession records a newly created session. The id must not
// already exist.
func (x *Index) InsertSession(ctx context.Context, row *Row) error {
	conn, err := x.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("session index: insert: %w", err)
	}
	defer x.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO sessions
		(id, owner, state, codec, retention_days, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			row.ID.String(),
			row.Owner,
			string(row.State),
			row.Codec.String(),
			row.RetentionDays,
			row.CreatedAtUnixNano,
			row.ExpiresAtUnixNano,
		}})
	if err != nil {
		return fmt.Errorf("session index: inserting session %s: %w", row.ID, err)
	}
	return nil
}

// GetSession loads a session row. Returns an input-category error
// wrapping ErrUnknownSession when no row exists.
func (x *Index) GetSession(ctx context.Context, id ID) (*Row, error) {
	conn, err := x.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("session index: get: %w", err)
	}
	defer x.pool.Put(conn)

	var row *Row
	err = sqlitex.Execute(conn, `SELECT id, owner, state, codec,
		retention_days, created_at, expires_at, sealed_at, chunk_count,
		plaintext_size, ciphertext_size, error_category, error_message
		FROM sessions WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned, err := scanSessionRow(stmt)
				if err != nil {
					return err
				}
				row = scanned
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("session index: reading session %s: %w", id, err)
	}
	if row == nil {
		return nil, Errorf(CategoryInput, "%w: %s", ErrUnknownSession, id)
	}
	return row, nil
}

func scanSessionRow(stmt *sqlite.Stmt) (*Row, error) {
	id, err := ParseID(stmt.ColumnText(0))
	if err != nil {
		return nil, fmt.Errorf("corrupt session id: %w", err)
	}
	state, err := ParseState(stmt.ColumnText(2))
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	var codec chunker.Codec
	if err := codec.UnmarshalText([]byte(stmt.ColumnText(3))); err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	return &Row{
		ID:                id,
		Owner:             stmt.ColumnText(1),
		State:             state,
		Codec:             codec,
		RetentionDays:     stmt.ColumnInt(4),
		CreatedAtUnixNano: stmt.ColumnInt64(5),
		ExpiresAtUnixNano: stmt.ColumnInt64(6),
		SealedAtUnixNano:  stmt.ColumnInt64(7),
		ChunkCount:        uint64(stmt.ColumnInt64(8)),
		PlaintextSize:     stmt.ColumnInt64(9),
		CiphertextSize:    stmt.ColumnInt64(10),
		ErrorCategory:     Category(stmt.ColumnText(11)),
		ErrorMessage:      stmt.ColumnText(12),
	}, nil
}

// UpdateState sets a session's state.
func (x *Index) UpdateState(ctx context.Context, id ID, state State) error {
	conn, err := x.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("session index: update state: %w", err)
	}
	defer x.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE sessions SET state = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{string(state), id.String()}})
	if err != nil {
		return fmt.Errorf("session index: updating session %s to %s: %w", id, state, err)
	}
	return nil
}

// RecordSeal marks a session sealed in one transaction: the row moves
// to anchor_pending with the manifest's totals, and a pending anchor
// record is created for the manifest hash. After this commits, a
// crash at any later point is recoverable by the sweep.
func (x *Index) RecordSeal(ctx context.Context, m *manifest.Manifest) (err error) {
	conn, err := x.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("session index: record seal: %w", err)
	}
	defer x.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("session index: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, `UPDATE sessions SET
		state = ?, sealed_at = ?, chunk_count = ?,
		plaintext_size = ?, ciphertext_size = ?
		WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{
			string(StateAnchorPending),
			m.SealedAtUnixNano,
			int64(m.ChunkCount),
			m.PlaintextSize,
			m.CiphertextSize,
			m.SessionID.String(),
		}})
	if err != nil {
		return fmt.Errorf("session index: sealing session %s: %w", m.SessionID, err)
	}

	err = sqlitex.Execute(conn, `INSERT OR REPLACE INTO anchors
		(manifest_hash, session_id, status)
		VALUES (?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			m.Hash.String(),
			m.SessionID.String(),
			string(manifest.AnchorPending),
		}})
	if err != nil {
		return fmt.Errorf("session index: recording pending anchor for %s: %w", m.SessionID, err)
	}
	return nil
}

// RecordFailure marks a session terminally failed or expired.
func (x *Index) RecordFailure(ctx context.Context, id ID, state State, category Category, message string) error {
	conn, err := x.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("session index: record failure: %w", err)
	}
	defer x.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE sessions SET
		state = ?, error_category = ?, error_message = ?
		WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{
			string(state), string(category), message, id.String(),
		}})
	if err != nil {
		return fmt.Errorf("session index: recording failure for %s: %w", id, err)
	}
	return nil
}

// ExpireOverdue marks every unsealed session past its deadline as
// expired. Catches rows stranded by a crash; live sessions are
// expired through the orchestrator so their pipelines tear down.
func (x *Index) ExpireOverdue(ctx context.Context, nowUnixNano int64) error {
	conn, err := x.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("session index: expire overdue: %w", err)
	}
	defer x.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE sessions SET state = ?
		WHERE state IN (?, ?, ?) AND expires_at <= ?`,
		&sqlitex.ExecOptions{Args: []any{
			string(StateExpired),
			string(StateCreated), string(StateRecording), string(StateSealing),
			nowUnixNano,
		}})
	if err != nil {
		return fmt.Errorf("session index: expiring overdue sessions: %w", err)
	}
	return nil
}

// DeleteSession removes a session row; its anchor records cascade.
func (x *Index) DeleteSession(ctx context.Context, id ID) error {
	conn, err := x.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("session index: delete: %w", err)
	}
	defer x.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM sessions WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{id.String()}})
	if err != nil {
		return fmt.Errorf("session index: deleting session %s: %w", id, err)
	}
	return nil
}

// GetAnchor implements anchor.RecordStore. Returns (nil, nil) when no
// record exists for the manifest hash.
func (x *Index) GetAnchor(ctx context.Context, manifestHash merkle.Hash) (*manifest.AnchorRecord, error) {
	conn, err := x.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("session index: get anchor: %w", err)
	}
	defer x.pool.Put(conn)

	var rec *manifest.AnchorRecord
	err = sqlitex.Execute(conn, `SELECT manifest_hash, session_id,
		tx_ref, attempts, status, submitted_at, confirmed_at
		FROM anchors WHERE manifest_hash = ?`,
		&sqlitex.ExecOptions{
			Args: []any{manifestHash.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned, err := scanAnchorRecord(stmt)
				if err != nil {
					return err
				}
				rec = scanned
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("session index: reading anchor %s: %w", manifestHash, err)
	}
	return rec, nil
}

// SaveAnchor implements anchor.RecordStore: inserts or replaces the
// record keyed by its manifest hash.
func (x *Index) SaveAnchor(ctx context.Context, rec *manifest.AnchorRecord) error {
	conn, err := x.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("session index: save anchor: %w", err)
	}
	defer x.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT OR REPLACE INTO anchors
		(manifest_hash, session_id, tx_ref, attempts, status, submitted_at, confirmed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			rec.ManifestHash.String(),
			rec.SessionID.String(),
			rec.TxRef,
			rec.Attempts,
			string(rec.Status),
			rec.SubmittedAtUnixNano,
			rec.ConfirmedAtUnixNano,
		}})
	if err != nil {
		return fmt.Errorf("session index: saving anchor %s: %w", rec.ManifestHash, err)
	}
	return nil
}

func scanAnchorRecord(stmt *sqlite.Stmt) (*manifest.AnchorRecord, error) {
	hash, err := merkle.ParseHash(stmt.ColumnText(0))
	if err != nil {
		return nil, fmt.Errorf("corrupt manifest hash: %w", err)
	}
	id, err := ParseID(stmt.ColumnText(1))
	if err != nil {
		return nil, fmt.Errorf("anchor %s: corrupt session id: %w", hash, err)
	}
	status, err := manifest.ParseAnchorStatus(stmt.ColumnText(4))
	if err != nil {
		return nil, fmt.Errorf("anchor %s: %w", hash, err)
	}
	return &manifest.AnchorRecord{
		ManifestHash:        hash,
		SessionID:           id,
		TxRef:               stmt.ColumnText(2),
		Attempts:            stmt.ColumnInt(3),
		Status:              status,
		SubmittedAtUnixNano: stmt.ColumnInt64(5),
		ConfirmedAtUnixNano: stmt.ColumnInt64(6),
	}, nil
}

// UnconfirmedAnchors returns every anchor record that is neither
// confirmed nor failed, oldest session first. The recovery sweep
// resubmits these through the idempotent anchor client.
func (x *Index) UnconfirmedAnchors(ctx context.Context) ([]manifest.AnchorRecord, error) {
	conn, err := x.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("session index: unconfirmed anchors: %w", err)
	}
	defer x.pool.Put(conn)

	var records []manifest.AnchorRecord
	err = sqlitex.Execute(conn, `SELECT a.manifest_hash, a.session_id,
		a.tx_ref, a.attempts, a.status, a.submitted_at, a.confirmed_at
		FROM anchors a
		JOIN sessions s ON s.id = a.session_id
		WHERE a.status IN (?, ?)
		ORDER BY s.created_at`,
		&sqlitex.ExecOptions{
			Args: []any{string(manifest.AnchorPending), string(manifest.AnchorSubmitted)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rec, err := scanAnchorRecord(stmt)
				if err != nil {
					return err
				}
				records = append(records, *rec)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("session index: listing unconfirmed anchors: %w", err)
	}
	return records, nil
}

// RetentionEligible returns the ids of anchored sessions whose
// retention window has fully elapsed: confirmation time plus
// retention days is at or before now. Sessions with retention_days
// zero are kept forever.
func (x *Index) RetentionEligible(ctx context.Context, nowUnixNano int64) ([]ID, error) {
	conn, err := x.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("session index: retention: %w", err)
	}
	defer x.pool.Put(conn)

	var ids []ID
	err = sqlitex.Execute(conn, `SELECT s.id
		FROM sessions s
		JOIN anchors a ON a.session_id = s.id
		WHERE s.state = ?
		  AND a.status = ?
		  AND s.retention_days > 0
		  AND a.confirmed_at + s.retention_days * ? <= ?
		ORDER BY a.confirmed_at`,
		&sqlitex.ExecOptions{
			Args: []any{
				string(StateAnchored),
				string(manifest.AnchorConfirmed),
				int64(24 * time.Hour), // nanoseconds per retention day
				nowUnixNano,
			},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				id, err := ParseID(stmt.ColumnText(0))
				if err != nil {
					return fmt.Errorf("corrupt session id: %w", err)
				}
				ids = append(ids, id)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("session index: listing retention-eligible sessions: %w", err)
	}
	return ids, nil
}
