// Package pg implements store.Store backed by Postgres via pgx's
// database/sql driver. Grounded on the teacher's internal/store/pg
// package shape (plain *sql.DB, hand-written SQL, no ORM).
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/agentcore/internal/store"
)

// Store implements store.Store backed by Postgres.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and returns a Store. Callers are responsible
// for running migrations (golang-migrate, matching the teacher's
// migration setup) before first use.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) SetPendingCompaction(ctx context.Context, pc store.PendingCompaction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_compactions (session_key, reason, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_key) DO UPDATE SET reason = $2, created_at = $3, expires_at = $4`,
		pc.SessionKey, pc.Reason, pc.CreatedAt, pc.ExpiresAt,
	)
	return err
}

func (s *Store) GetPendingCompaction(ctx context.Context, sessionKey string) (*store.PendingCompaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_key, reason, created_at, expires_at FROM pending_compactions WHERE session_key = $1`,
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
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_compactions WHERE session_key = $1`, sessionKey)
	return err
}

func (s *Store) GetSessionMeta(ctx context.Context, sessionKey string) (*store.SessionMeta, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_key, engine_id, model, cwd, last_channel, updated_at FROM session_meta WHERE session_key = $1`,
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
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (session_key) DO UPDATE SET
		   engine_id = $2, model = $3, cwd = $4, last_channel = $5, updated_at = $6`,
		m.SessionKey, m.EngineID, m.Model, m.Cwd, m.LastChannel, m.UpdatedAt,
	)
	return err
}

func (s *Store) GetEndpointAlias(ctx context.Context, name string) (*store.EndpointAlias, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, channel, account_id, peer_id FROM endpoint_aliases WHERE name = $1`, name)
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
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE SET channel = $2, account_id = $3, peer_id = $4`,
		a.Name, a.Channel, a.AccountID, a.PeerID,
	)
	return err
}

var _ store.Store = (*Store)(nil)
