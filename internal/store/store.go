// Package store defines the persisted-state contract the orchestrator
// and run process depend on: pending-compaction markers, per-session
// metadata, and channel endpoint aliases (spec §6). Two backends
// implement it, sqlite (modernc.org/sqlite, grounded on the teacher's
// internal/storage sqlite usage) and pg (jackc/pgx/v5, for multi-
// instance deployments).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get-style lookups with no matching row.
var ErrNotFound = errors.New("store: not found")

// PendingCompaction records that a session's context usage crossed the
// compaction ratio and a background compaction turn has been
// scheduled (spec §4.4 completion pipeline, step 1).
type PendingCompaction struct {
	SessionKey string
	Reason     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// SessionMeta is the durable per-session record (last engine, last
// model, last known cwd, last channel) consulted during
// orchestration (spec §4.2 resolve_* precedence chains).
type SessionMeta struct {
	SessionKey  string
	EngineID    string
	Model       string
	Cwd         string
	LastChannel string
	UpdatedAt   time.Time
}

// EndpointAlias maps a short human-chosen name to a channel+account
// destination, used by control commands to address a conversation
// without repeating its full session key.
type EndpointAlias struct {
	Name      string
	Channel   string
	AccountID string
	PeerID    string
}

// Store is the persisted-state contract. All methods are safe for
// concurrent use from multiple run processes.
type Store interface {
	SetPendingCompaction(ctx context.Context, pc PendingCompaction) error
	GetPendingCompaction(ctx context.Context, sessionKey string) (*PendingCompaction, error)
	ClearPendingCompaction(ctx context.Context, sessionKey string) error

	GetSessionMeta(ctx context.Context, sessionKey string) (*SessionMeta, error)
	PutSessionMeta(ctx context.Context, meta SessionMeta) error

	GetEndpointAlias(ctx context.Context, name string) (*EndpointAlias, error)
	PutEndpointAlias(ctx context.Context, alias EndpointAlias) error

	Close() error
}
