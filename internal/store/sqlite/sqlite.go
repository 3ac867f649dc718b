// Package sqlite implements store.Store backed by SQLite via
// modernc.org/sqlite (pure Go, no cgo), for single-instance
// deployments. Schema is applied as idempotent DDL at Open rather than
// through golang-migrate: migrate's sqlite3 driver requires cgo
// (mattn/go-sqlite3), which would pull in a second, cgo-based sqlite
// driver alongside modernc's pure-Go one purely for bookkeeping.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/agentcore/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS pending_compactions (
	session_key TEXT PRIMARY KEY,
	reason      TEXT NOT NULL,
	created_at  DATETIME NOT NULL,
	expires_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS session_meta (
	session_key  TEXT PRIMARY KEY,
	engine_id    TEXT NOT NULL DEFAULT '',
	model        TEXT NOT NULL DEFAULT '',
	cwd          TEXT NOT NULL DEFAULT '',
	last_channel TEXT NOT NULL DEFAULT '',
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS endpoint_aliases (
	name       TEXT PRIMARY KEY,
	channel    TEXT NOT NULL,
	account_id TEXT NOT NULL,
	peer_id    TEXT NOT NULL
);
`

// Store implements store.Store backed by a local SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and
// applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) SetPendingCompaction(ctx context.Context, pc store.PendingCompaction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_compactions (session_key, reason, created_at, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_key) DO UPDATE SET reason = excluded.reason,
		   created_at = excluded.created_at, expires_at = excluded.expires_at`,
		pc.SessionKey, pc.Reason, pc.CreatedAt, pc.ExpiresAt,
	)
	return err
}

func (s *Store) GetPendingCompaction(ctx context.Context, sessionKey string) (*store.PendingCompaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_key, reason, created_at, expires_at FROM pending_compactions WHERE session_key = ?`,
		sessionKey)
	var pc store.PendingCompaction
	if err := row.Scan(&pc.SessionKey, &pc.Reason, &pc.CreatedAt, &pc.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if time.Now().After(pc.ExpiresAt) {
		_ = s.ClearPendingCompaction(ctx, sessionKey)
		return nil, store.ErrNotFound
	}
	return &pc, nil
}

func (s *Store) ClearPendingCompaction(ctx context.Context, sessionKey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_compactions WHERE session_key = ?`, sessionKey)
	return err
}

func (s *Store) GetSessionMeta(ctx context.Context, sessionKey string) (*store.SessionMeta, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_key, engine_id, model, cwd, last_channel, updated_at FROM session_meta WHERE session_key = ?`,
		sessionKey)
	var m store.SessionMeta
	if err := row.Scan(&m.SessionKey, &m.EngineID, &m.Model, &m.Cwd, &m.LastChannel, &m.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *Store) PutSessionMeta(ctx context.Context, m store.SessionMeta) error {
	m.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_meta (session_key, engine_id, model, cwd, last_channel, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (session_key) DO UPDATE SET engine_id = excluded.engine_id,
		   model = excluded.model, cwd = excluded.cwd, last_channel = excluded.last_channel,
		   updated_at = excluded.updated_at`,
		m.SessionKey, m.EngineID, m.Model, m.Cwd, m.LastChannel, m.UpdatedAt,
	)
	return err
}

func (s *Store) GetEndpointAlias(ctx context.Context, name string) (*store.EndpointAlias, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, channel, account_id, peer_id FROM endpoint_aliases WHERE name = ?`, name)
	var a store.EndpointAlias
	if err := row.Scan(&a.Name, &a.Channel, &a.AccountID, &a.PeerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *Store) PutEndpointAlias(ctx context.Context, a store.EndpointAlias) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO endpoint_aliases (name, channel, account_id, peer_id)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET channel = excluded.channel,
		   account_id = excluded.account_id, peer_id = excluded.peer_id`,
		a.Name, a.Channel, a.AccountID, a.PeerID,
	)
	return err
}

var _ store.Store = (*Store)(nil)
